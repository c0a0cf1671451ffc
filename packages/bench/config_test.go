package bench

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"duration only", func(c *Config) { c.Count = 0; c.Duration = time.Second }, ""},
		{"neither", func(c *Config) { c.Count = 0 }, "either count or duration"},
		{"negative count", func(c *Config) { c.Count = -1 }, "count cannot be negative"},
		{"negative rate", func(c *Config) { c.Rate = -1 }, "rate cannot be negative"},
		{"no concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseThresholds(t *testing.T) {
	th, err := ParseThresholds("p50<50ms, p95<=200ms,p99<1s,max<2s,errors<0.5%,rps>100")
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, th.P50)
	assert.Equal(t, 200*time.Millisecond, th.P95)
	assert.Equal(t, time.Second, th.P99)
	assert.Equal(t, 2*time.Second, th.MaxLatency)
	assert.InDelta(t, 0.005, th.ErrorRate, 1e-9)
	assert.Equal(t, 100.0, th.MinRPS)
	assert.True(t, th.HasThresholds())
}

func TestParseThresholds_DecimalErrorRate(t *testing.T) {
	th, err := ParseThresholds("errors<0.01")
	require.NoError(t, err)

	assert.InDelta(t, 0.01, th.ErrorRate, 1e-9)
}

func TestParseThresholds_Empty(t *testing.T) {
	th, err := ParseThresholds("")
	require.NoError(t, err)

	assert.False(t, th.HasThresholds())
}

func TestParseThresholds_Invalid(t *testing.T) {
	for _, in := range []string{"p95", "p95>200ms", "p95<fast", "rps<10", "latency<1s", "errors<x%"} {
		_, err := ParseThresholds(in)
		assert.Error(t, err, in)
	}
}
