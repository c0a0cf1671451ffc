package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func TestComputeTimings(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		expected Timings
		loading  float64
	}{
		{
			name: "full tls exchange",
			stats: Stats{
				ConnectionTime:      at(0),
				LookupTime:          at(5),
				ConnectedTime:       at(15),
				SecureStartTime:     at(15),
				SecureConnectedTime: at(30),
				MessageStart:        at(30),
				SentTime:            at(32),
				FirstReceiveTime:    at(50),
				LastReceivedTime:    at(60),
			},
			expected: Timings{DNS: 5, Connect: 10, SSL: 15, Send: 2, Wait: 18, Receive: 10},
			loading:  60,
		},
		{
			name: "no connection phases",
			stats: Stats{
				MessageStart:     at(0),
				FirstReceiveTime: at(10),
				ReceivingTime:    at(12),
			},
			expected: Timings{DNS: -1, Connect: -1, SSL: -1, Send: 0, Wait: 10, Receive: 2},
			loading:  12,
		},
		{
			name: "connect measured from message start without lookup",
			stats: Stats{
				MessageStart:  at(0),
				ConnectedTime: at(4),
				SentTime:      at(5),
			},
			expected: Timings{DNS: -1, Connect: 4, SSL: -1, Send: 5, Wait: 0, Receive: 0},
			loading:  9,
		},
		{
			name: "negative durations floor at zero",
			stats: Stats{
				MessageStart:     at(10),
				SentTime:         at(5),
				FirstReceiveTime: at(2),
				LastReceivedTime: at(1),
			},
			expected: Timings{DNS: -1, Connect: -1, SSL: -1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTimings(tt.stats)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.loading, LoadingTime(got))
		})
	}
}

func TestTimings_SubMillisecond(t *testing.T) {
	got := ComputeTimings(Stats{MessageStart: epoch, SentTime: epoch.Add(500 * time.Microsecond)})
	assert.Equal(t, 0.5, got.Send)
}
