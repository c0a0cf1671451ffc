package observability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

const namespace = "hitwire"

// Metrics holds the prometheus collectors fed by transport events.
type Metrics struct {
	registry      *prometheus.Registry
	BuildInfo     *prometheus.GaugeVec
	InFlight      prometheus.Gauge
	RequestsTotal *prometheus.CounterVec
	ErrorsTotal   *prometheus.CounterVec
	Redirects     prometheus.Counter
	Duration      *prometheus.HistogramVec
	ResponseBytes prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		}, []string{"version"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests sent and not finished yet",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total loaded responses by method and status",
		}, []string{"method", "status"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total failed requests by kind",
		}, []string{"kind"}),
		Redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Total redirects followed",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Loading time of loaded responses",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		ResponseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Total decoded response payload bytes",
		}),
	}
	r.MustRegister(m.BuildInfo, m.InFlight, m.RequestsTotal, m.ErrorsTotal, m.Redirects, m.Duration, m.ResponseBytes)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SetVersion publishes the binary version as build_info.
func (m *Metrics) SetVersion(version string) {
	m.BuildInfo.WithLabelValues(version).Set(1)
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node exporter textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Listener records the events of one request sent with method. The
// in-flight gauge goes up now and down on LoadEnd.
func (m *Metrics) Listener(method string) transport.Listener {
	m.InFlight.Inc()
	return &transport.ListenerFuncs{
		OnBeforeRedirect: func(id, location string) bool {
			m.Redirects.Inc()
			return true
		},
		OnLoad: func(id string, resp *transport.Response, snap *transport.Snapshot) {
			if snap != nil && snap.Method != "" {
				method = snap.Method
			}
			m.RequestsTotal.WithLabelValues(method, strconv.Itoa(resp.Status)).Inc()
			m.Duration.WithLabelValues(method).Observe(resp.LoadingTime / 1000)
			m.ResponseBytes.Add(float64(len(resp.Payload)))
		},
		OnError: func(id string, err error, snap *transport.Snapshot, partial *transport.PartialResponse) {
			m.ErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		},
		OnLoadEnd: func(id string) {
			m.InFlight.Dec()
		},
	}
}

// ErrorKind classifies a transport error for metric labels.
func ErrorKind(err error) string {
	var (
		netErr      *transport.NetworkError
		protoErr    *transport.ProtocolError
		redirectErr *transport.RedirectError
		decompErr   *transport.DecompressionError
	)
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &redirectErr):
		return "redirect"
	case errors.As(err, &decompErr):
		return "decompression"
	}
	return "other"
}
