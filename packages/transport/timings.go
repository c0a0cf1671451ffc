package transport

import "time"

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func since(end, start time.Time) float64 {
	if end.IsZero() || start.IsZero() {
		return -1
	}
	return millis(end.Sub(start))
}

func orTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func floor(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// ComputeTimings turns hop timestamps into HAR timings.
func ComputeTimings(s Stats) Timings {
	sent := orTime(s.SentTime, s.MessageStart)
	lastReceived := orTime(s.LastReceivedTime, s.ReceivingTime)
	lookup := orTime(s.LookupTime, s.MessageStart)

	t := Timings{
		DNS:     -1,
		Connect: -1,
		SSL:     since(s.SecureConnectedTime, s.SecureStartTime),
		Send:    floor(since(sent, s.MessageStart)),
		Wait:    floor(since(s.FirstReceiveTime, sent)),
		Receive: floor(since(lastReceived, s.FirstReceiveTime)),
	}
	if !s.LookupTime.IsZero() {
		t.DNS = since(s.LookupTime, s.ConnectionTime)
	}
	if !s.ConnectedTime.IsZero() {
		t.Connect = since(s.ConnectedTime, lookup)
	}
	return t
}

// LoadingTime is the sum of the positive timing buckets.
func LoadingTime(t Timings) float64 {
	var total float64
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.SSL, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			total += v
		}
	}
	return total
}
