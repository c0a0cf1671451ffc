package bench

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/hitwire/packages/observability"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Factory creates the transport for one request of the run.
type Factory func(req *transport.Request, l transport.Listener) transport.Transport

// Runner drives a benchmark run.
type Runner struct {
	config       *Config
	newTransport Factory
	metrics      *Metrics
	prom         *observability.Metrics
	log          zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPrometheus also reports every request to m.
func WithPrometheus(m *observability.Metrics) RunnerOption {
	return func(r *Runner) {
		r.prom = m
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = log
	}
}

// NewRunner creates a Runner sending requests through transports built by f.
func NewRunner(config *Config, f Factory, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:       config,
		newTransport: f,
		metrics:      NewMetrics(),
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics returns the collector of the run.
func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Run sends req until the count or duration is reached or ctx is cancelled.
// Each request uses its own copy of req. Requests still in flight when the
// run stops are aborted and not counted.
func (r *Runner) Run(ctx context.Context, req *transport.Request) (*Summary, error) {
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	if r.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Duration)
		defer cancel()
	}

	var limiter *rate.Limiter
	if r.config.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.Rate), 1)
	}
	sem := make(chan struct{}, r.config.Concurrency)

	r.log.Info().
		Int("count", r.config.Count).
		Dur("duration", r.config.Duration).
		Float64("rate", r.config.Rate).
		Int("concurrency", r.config.Concurrency).
		Msg("starting benchmark")

	r.metrics.Start()
	var wg sync.WaitGroup
loop:
	for i := 0; r.config.Count == 0 || i < r.config.Count; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break loop
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if res, ok := r.send(ctx, req.Clone()); ok {
				r.metrics.Record(res)
			}
		}()
	}
	wg.Wait()
	r.metrics.Stop()

	summary := r.metrics.GetSummary()
	r.log.Info().
		Int64("requests", summary.TotalRequests).
		Int64("errors", summary.ErrorCount).
		Dur("p95", summary.P95).
		Msg("benchmark finished")
	return summary, nil
}

// send runs one exchange and waits for its LoadEnd. ok is false when the
// run stopped first.
func (r *Runner) send(ctx context.Context, req *transport.Request) (Result, bool) {
	var (
		res  Result
		done = make(chan struct{})
	)
	var l transport.Listener = &transport.ListenerFuncs{
		OnLoad: func(id string, resp *transport.Response, snap *transport.Snapshot) {
			res.Status = resp.Status
			res.Bytes = len(resp.Payload)
		},
		OnError: func(id string, err error, snap *transport.Snapshot, partial *transport.PartialResponse) {
			res.Err = err
		},
		OnLoadEnd: func(id string) {
			close(done)
		},
	}
	// an exchange that never reaches LoadEnd still leaves the in-flight gauge
	release := func() {}
	if r.prom != nil {
		pl := r.prom.Listener(req.Method)
		l = transport.Multi(pl, l)
		release = func() { pl.LoadEnd("") }
	}

	start := time.Now()
	tr := r.newTransport(req, l)
	if err := tr.Send(ctx); err != nil {
		r.log.Debug().Err(err).Msg("request could not be sent")
		release()
		return Result{Err: err, Latency: time.Since(start)}, true
	}

	select {
	case <-done:
		res.Latency = time.Since(start)
		return res, true
	case <-ctx.Done():
		tr.Abort()
		select {
		case <-done:
		default:
			release()
		}
		return Result{}, false
	}
}
