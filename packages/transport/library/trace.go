package library

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// tracer collects connection timestamps from net/http. Its callbacks run on
// net/http goroutines, so the values are copied into the engine stats once
// the round trip returns.
type tracer struct {
	mu           sync.Mutex
	getConn      time.Time
	dnsDone      time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	wroteRequest time.Time
	gotFirstByte time.Time
}

func (tr *tracer) set(field *time.Time) {
	tr.mu.Lock()
	*field = time.Now()
	tr.mu.Unlock()
}

func (tr *tracer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { tr.set(&tr.getConn) },
		DNSDone: func(httptrace.DNSDoneInfo) { tr.set(&tr.dnsDone) },
		ConnectDone: func(network, addr string, err error) {
			if err == nil {
				tr.set(&tr.connectDone)
			}
		},
		TLSHandshakeStart:    func() { tr.set(&tr.tlsStart) },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { tr.set(&tr.tlsDone) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { tr.set(&tr.wroteRequest) },
		GotFirstResponseByte: func() { tr.set(&tr.gotFirstByte) },
	}
}

// apply copies the collected timestamps into s.
func (tr *tracer) apply(s *transport.Stats) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	s.ConnectionTime = tr.getConn
	s.LookupTime = tr.dnsDone
	s.ConnectedTime = tr.connectDone
	s.SecureStartTime = tr.tlsStart
	s.SecureConnectedTime = tr.tlsDone
	s.SentTime = tr.wroteRequest
	s.FirstReceiveTime = tr.gotFirstByte
}

// idleTimer calls fn when no progress was reported for d. A zero d never
// fires.
type idleTimer struct {
	d     time.Duration
	timer *time.Timer

	mu      sync.Mutex
	expired bool
}

func newIdleTimer(d time.Duration, fn func()) *idleTimer {
	it := &idleTimer{d: d}
	if d > 0 {
		it.timer = time.AfterFunc(d, func() {
			it.mu.Lock()
			it.expired = true
			it.mu.Unlock()
			fn()
		})
	}
	return it
}

func (it *idleTimer) reset() {
	if it.timer != nil {
		it.timer.Reset(it.d)
	}
}

func (it *idleTimer) stop() {
	if it.timer != nil {
		it.timer.Stop()
	}
}

func (it *idleTimer) fired() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.expired
}
