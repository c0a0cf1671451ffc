// Package bench sends one request repeatedly, at a fixed rate or as fast as a
// concurrency limit allows, and summarizes latency percentiles and the status
// distribution.
package bench

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings of a benchmark run. The run stops after Count
// requests or after Duration, whichever comes first; at least one of them
// must be set.
type Config struct {
	Count       int
	Duration    time.Duration
	Rate        float64 // requests per second, 0 means unlimited
	Concurrency int     // max requests in flight
	Thresholds  Thresholds
}

// Thresholds defines pass/fail criteria for a run.
type Thresholds struct {
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	MaxLatency time.Duration
	ErrorRate  float64 // 0.0 - 1.0
	MinRPS     float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Count:       100,
		Concurrency: 10,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("count cannot be negative")
	}
	if c.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	if c.Count == 0 && c.Duration == 0 {
		return fmt.Errorf("either count or duration must be set")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*([<>]=?)\s*(.+)$`)

// ParseThresholds parses a threshold string like "p95<200ms,errors<0.1%".
func ParseThresholds(s string) (Thresholds, error) {
	var t Thresholds

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := parseThresholdPart(part, &t); err != nil {
			return t, err
		}
	}

	return t, nil
}

func parseThresholdPart(part string, t *Thresholds) error {
	matches := thresholdPattern.FindStringSubmatch(part)
	if len(matches) != 4 {
		return fmt.Errorf("invalid threshold format: %s", part)
	}

	metric := strings.ToLower(matches[1])
	op := matches[2]
	value := strings.TrimSpace(matches[3])
	upper := op == "<" || op == "<="

	var target *time.Duration
	switch metric {
	case "p50":
		target = &t.P50
	case "p95":
		target = &t.P95
	case "p99":
		target = &t.P99
	case "max", "maxlatency":
		target = &t.MaxLatency
	}
	if target != nil {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s", metric, value)
		}
		if !upper {
			return fmt.Errorf("%s threshold must use < or <=", metric)
		}
		*target = d
		return nil
	}

	switch metric {
	case "errors", "error", "errorrate":
		percent := strings.HasSuffix(value, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		if err != nil {
			return fmt.Errorf("invalid error rate: %s", value)
		}
		if percent {
			f /= 100
		}
		if !upper {
			return fmt.Errorf("error rate threshold must use < or <=")
		}
		t.ErrorRate = f

	case "rps", "rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid RPS: %s", value)
		}
		if upper {
			return fmt.Errorf("RPS threshold must use > or >=")
		}
		t.MinRPS = f

	default:
		return fmt.Errorf("unknown threshold metric: %s", metric)
	}

	return nil
}

// HasThresholds returns true if any thresholds are configured.
func (t *Thresholds) HasThresholds() bool {
	return t.P50 > 0 || t.P95 > 0 || t.P99 > 0 || t.MaxLatency > 0 || t.ErrorRate > 0 || t.MinRPS > 0
}

// ThresholdResult holds the result of evaluating a threshold.
type ThresholdResult struct {
	Name     string
	Passed   bool
	Expected string
	Actual   string
}
