package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Reporter renders bench runs for a terminal or as JSON.
type Reporter struct {
	w       io.Writer
	noColor bool

	ok, bad, warn, info, title *color.Color
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithWriter redirects reporter output, os.Stdout by default.
func WithWriter(w io.Writer) ReporterOption {
	return func(r *Reporter) { r.w = w }
}

// WithNoColor strips ANSI colors.
func WithNoColor(noColor bool) ReporterOption {
	return func(r *Reporter) { r.noColor = noColor }
}

// NewReporter returns a reporter writing to stdout unless configured otherwise.
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{w: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}

	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		if r.noColor {
			c.DisableColor()
		}
		return c
	}
	r.ok = paint(color.FgGreen)
	r.bad = paint(color.FgRed)
	r.warn = paint(color.FgYellow)
	r.info = paint(color.FgCyan)
	r.title = paint(color.Bold)
	return r
}

// Header announces the run: version, target and load shape.
func (r *Reporter) Header(version, target string, cfg *Config) {
	fmt.Fprintln(r.w)
	r.title.Fprintf(r.w, "hitwire bench %s\n", version)
	r.info.Fprintf(r.w, "Target: %s\n", target)

	var shape []string
	if cfg.Count > 0 {
		shape = append(shape, "Requests: "+strconv.Itoa(cfg.Count))
	}
	if cfg.Duration > 0 {
		shape = append(shape, "Duration: "+cfg.Duration.String())
	}
	if cfg.Rate > 0 {
		shape = append(shape, fmt.Sprintf("Rate: %.0f req/s", cfg.Rate))
	}
	shape = append(shape, "Concurrency: "+strconv.Itoa(cfg.Concurrency))
	fmt.Fprintf(r.w, "%s\n\n", strings.Join(shape, " | "))
}

func (r *Reporter) section(name string) {
	fmt.Fprintln(r.w)
	r.title.Fprintln(r.w, name)
}

// row prints "label value suffix" with the label padded to a fixed column.
func (r *Reporter) row(label string, c *color.Color, value, suffix string) {
	fmt.Fprintf(r.w, "%-12s", label+":")
	if c != nil {
		c.Fprint(r.w, value)
	} else {
		fmt.Fprint(r.w, value)
	}
	fmt.Fprintln(r.w, suffix)
}

// Summary prints totals, latency percentiles, status and error breakdowns
// and threshold verdicts.
func (r *Reporter) Summary(s *Summary, thresholds []ThresholdResult) {
	fmt.Fprintln(r.w)
	r.title.Fprintln(r.w, "BENCH SUMMARY")
	fmt.Fprintln(r.w, strings.Repeat("─", 40))

	r.row("Duration", nil, formatDuration(s.Duration), "")
	r.row("Total", r.title, formatNumber(s.TotalRequests), fmt.Sprintf(" requests (%.1f req/s)", s.RPS))
	r.row("Success", r.ok, formatNumber(s.SuccessCount), fmt.Sprintf(" (%.1f%%)", s.SuccessRate*100))
	var failed *color.Color
	if s.ErrorCount > 0 {
		failed = r.bad
	}
	r.row("Failed", failed, formatNumber(s.ErrorCount), fmt.Sprintf(" (%.1f%%)", s.ErrorRate*100))
	if s.TimeoutCount > 0 {
		r.row("Timeouts", r.warn, formatNumber(s.TimeoutCount), "")
	}

	r.section("LATENCY (ms)")
	fmt.Fprintf(r.w, "  p50: %-6s | p95: %-6s | p99: %-6s | max: %s\n",
		formatLatencyMs(s.P50), formatLatencyMs(s.P95), formatLatencyMs(s.P99), formatLatencyMs(s.Max))
	fmt.Fprintf(r.w, "  min: %-6s | mean: %-5s | stddev: %s\n",
		formatLatencyMs(s.Min), formatLatencyMs(s.Mean), formatLatencyMs(s.StdDev))

	if len(s.Statuses) > 0 {
		r.section("STATUS CODES")
		codes := make([]int, 0, len(s.Statuses))
		for code := range s.Statuses {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			r.statusColor(code).Fprintf(r.w, "  %d", code)
			fmt.Fprintf(r.w, ": %s\n", formatNumber(s.Statuses[code]))
		}
	}

	if len(s.Errors) > 0 {
		r.section("ERRORS")
		kinds := make([]string, 0, len(s.Errors))
		for kind := range s.Errors {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			r.bad.Fprintf(r.w, "  %s", kind)
			fmt.Fprintf(r.w, ": %s\n", formatNumber(s.Errors[kind]))
		}
	}

	if len(thresholds) > 0 {
		r.section("THRESHOLDS")
		for _, t := range thresholds {
			mark, c := "✓", r.ok
			if !t.Passed {
				mark, c = "✗", r.bad
			}
			c.Fprintf(r.w, "  %s ", mark)
			fmt.Fprintf(r.w, "%s %s    (actual: %s)\n", t.Name, t.Expected, t.Actual)
		}
		fmt.Fprintln(r.w)
		if Passed(thresholds) {
			r.ok.Fprintln(r.w, "All thresholds passed!")
		} else {
			r.bad.Fprintln(r.w, "Some thresholds failed!")
		}
	}

	fmt.Fprintln(r.w)
}

func (r *Reporter) statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return r.bad
	case code >= 400:
		return r.warn
	case code >= 300:
		return r.info
	}
	return r.ok
}

type jsonRequests struct {
	Total    int64 `json:"total"`
	Success  int64 `json:"success"`
	Failed   int64 `json:"failed"`
	Timeouts int64 `json:"timeouts"`
	Bytes    int64 `json:"bytes"`
}

type jsonRates struct {
	RPS         float64 `json:"rps"`
	SuccessRate float64 `json:"successRate"`
	ErrorRate   float64 `json:"errorRate"`
}

// jsonLatency holds whole milliseconds.
type jsonLatency struct {
	P50    int64 `json:"p50"`
	P95    int64 `json:"p95"`
	P99    int64 `json:"p99"`
	Min    int64 `json:"min"`
	Max    int64 `json:"max"`
	Mean   int64 `json:"mean"`
	StdDev int64 `json:"stddev"`
}

type jsonThreshold struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

type jsonSummary struct {
	Duration   string           `json:"duration"`
	Requests   jsonRequests     `json:"requests"`
	Rates      jsonRates        `json:"rates"`
	Latency    jsonLatency      `json:"latency"`
	Statuses   map[string]int64 `json:"statuses"`
	Errors     map[string]int64 `json:"errors"`
	Thresholds []jsonThreshold  `json:"thresholds,omitempty"`
}

// JSONSummary writes the summary as one indented JSON document.
func (r *Reporter) JSONSummary(s *Summary, thresholds []ThresholdResult) error {
	doc := jsonSummary{
		Duration: s.Duration.String(),
		Requests: jsonRequests{
			Total:    s.TotalRequests,
			Success:  s.SuccessCount,
			Failed:   s.ErrorCount,
			Timeouts: s.TimeoutCount,
			Bytes:    s.ResponseBytes,
		},
		Rates: jsonRates{RPS: s.RPS, SuccessRate: s.SuccessRate, ErrorRate: s.ErrorRate},
		Latency: jsonLatency{
			P50:    s.P50.Milliseconds(),
			P95:    s.P95.Milliseconds(),
			P99:    s.P99.Milliseconds(),
			Min:    s.Min.Milliseconds(),
			Max:    s.Max.Milliseconds(),
			Mean:   s.Mean.Milliseconds(),
			StdDev: s.StdDev.Milliseconds(),
		},
		Statuses: make(map[string]int64, len(s.Statuses)),
		Errors:   s.Errors,
	}
	for code, n := range s.Statuses {
		doc.Statuses[strconv.Itoa(code)] = n
	}
	for _, t := range thresholds {
		doc.Thresholds = append(doc.Thresholds, jsonThreshold(t))
	}

	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m, sec := int(d/time.Minute), int((d%time.Minute)/time.Second)
	if sec == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dm %02ds", m, sec)
}

// formatLatencyMs keeps two decimals below 1ms, one below 10ms, none above.
func formatLatencyMs(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000
	prec := 0
	if ms < 1 {
		prec = 2
	} else if ms < 10 {
		prec = 1
	}
	return strconv.FormatFloat(ms, 'f', prec, 64)
}

// formatNumber groups digits in thousands: 1234567 -> "1,234,567".
func formatNumber(n int64) string {
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return sign + b.String()
}
