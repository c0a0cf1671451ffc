package bench

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/abdul-hamid-achik/hitwire/packages/observability"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// latency range in microseconds: 1us to 60s
const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
)

// Result is the outcome of one request.
type Result struct {
	Status  int
	Latency time.Duration
	Bytes   int
	Err     error
}

// Metrics collects the results of a run.
type Metrics struct {
	mu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	errorRequests   atomic.Int64
	timeoutRequests atomic.Int64
	responseBytes   atomic.Int64

	// latency histogram in microseconds
	histogram *hdrhistogram.Histogram
	statuses  map[int]int64
	errors    map[string]int64

	startTime time.Time
	endTime   time.Time
}

// NewMetrics creates an empty Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, 3),
		statuses:  make(map[int]int64),
		errors:    make(map[string]int64),
	}
}

// Start marks the beginning of the run.
func (m *Metrics) Start() {
	m.startTime = time.Now()
}

// Stop marks the end of the run.
func (m *Metrics) Stop() {
	m.endTime = time.Now()
}

// Record adds the outcome of one request. Timeouts count as errors and are
// left out of the latency histogram.
func (m *Metrics) Record(r Result) {
	m.totalRequests.Add(1)
	m.responseBytes.Add(int64(r.Bytes))

	timeout := errors.Is(r.Err, transport.ErrTimeout)
	if r.Err != nil {
		m.errorRequests.Add(1)
		if timeout {
			m.timeoutRequests.Add(1)
		}
	} else {
		m.successRequests.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Err != nil {
		m.errors[observability.ErrorKind(r.Err)]++
	} else {
		m.statuses[r.Status]++
	}
	if !timeout {
		_ = m.histogram.RecordValue(clampLatency(r.Latency))
	}
}

func clampLatency(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatencyUs {
		return minLatencyUs
	}
	if us > maxLatencyUs {
		return maxLatencyUs
	}
	return us
}

// Summary is the aggregate of a run.
type Summary struct {
	Duration      time.Duration
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	TimeoutCount  int64
	ResponseBytes int64

	RPS         float64
	SuccessRate float64
	ErrorRate   float64

	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration

	// Statuses counts loaded responses per status code.
	Statuses map[int]int64
	// Errors counts failed requests per error kind.
	Errors map[string]int64
}

func us(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// GetSummary returns the metrics summary.
func (m *Metrics) GetSummary() *Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	duration := m.endTime.Sub(m.startTime)
	if m.endTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	total := m.totalRequests.Load()
	success := m.successRequests.Load()
	failed := m.errorRequests.Load()

	s := &Summary{
		Duration:      duration,
		TotalRequests: total,
		SuccessCount:  success,
		ErrorCount:    failed,
		TimeoutCount:  m.timeoutRequests.Load(),
		ResponseBytes: m.responseBytes.Load(),
		P50:           us(m.histogram.ValueAtQuantile(50)),
		P95:           us(m.histogram.ValueAtQuantile(95)),
		P99:           us(m.histogram.ValueAtQuantile(99)),
		Min:           us(m.histogram.Min()),
		Max:           us(m.histogram.Max()),
		Mean:          time.Duration(m.histogram.Mean() * float64(time.Microsecond)),
		StdDev:        time.Duration(m.histogram.StdDev() * float64(time.Microsecond)),
		Statuses:      make(map[int]int64, len(m.statuses)),
		Errors:        make(map[string]int64, len(m.errors)),
	}
	if duration.Seconds() > 0 {
		s.RPS = float64(total) / duration.Seconds()
	}
	if total > 0 {
		s.SuccessRate = float64(success) / float64(total)
		s.ErrorRate = float64(failed) / float64(total)
	}
	for code, n := range m.statuses {
		s.Statuses[code] = n
	}
	for kind, n := range m.errors {
		s.Errors[kind] = n
	}
	return s
}

// EvaluateThresholds checks the summary against t.
func (s *Summary) EvaluateThresholds(t Thresholds) []ThresholdResult {
	var results []ThresholdResult

	latency := func(name string, limit, actual time.Duration) {
		if limit > 0 {
			results = append(results, ThresholdResult{
				Name:     name,
				Passed:   actual <= limit,
				Expected: "< " + limit.String(),
				Actual:   actual.String(),
			})
		}
	}
	latency("p50", t.P50, s.P50)
	latency("p95", t.P95, s.P95)
	latency("p99", t.P99, s.P99)
	latency("max latency", t.MaxLatency, s.Max)

	if t.ErrorRate > 0 {
		results = append(results, ThresholdResult{
			Name:     "error rate",
			Passed:   s.ErrorRate <= t.ErrorRate,
			Expected: "< " + formatPercent(t.ErrorRate),
			Actual:   formatPercent(s.ErrorRate),
		})
	}

	if t.MinRPS > 0 {
		results = append(results, ThresholdResult{
			Name:     "min RPS",
			Passed:   s.RPS >= t.MinRPS,
			Expected: "> " + formatFloat(t.MinRPS),
			Actual:   formatFloat(s.RPS),
		})
	}

	return results
}

// Passed reports whether every threshold result passed.
func Passed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func formatPercent(f float64) string {
	return formatFloat(f*100) + "%"
}

func formatFloat(f float64) string {
	if f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
