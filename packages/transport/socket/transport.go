package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

const readBufferSize = 32 * 1024

// Transport speaks HTTP/1.1 over a raw TCP or TLS connection.
type Transport struct {
	engine *transport.Engine

	mu   sync.Mutex
	conn net.Conn
}

var _ transport.Transport = (*Transport)(nil)

// New creates a socket transport for req. Events are delivered to l.
func New(req *transport.Request, id string, opts *config.Options, l transport.Listener) *Transport {
	t := &Transport{}
	t.engine = transport.NewEngine(req, id, opts, l, transport.Hooks{
		Send:  t.send,
		Close: t.closeConn,
	})
	return t
}

// ID is the request id reported with every event.
func (t *Transport) ID() string {
	return t.engine.ID
}

// Send connects, writes the request and returns. The response is read on
// another goroutine. Cancelling ctx aborts the exchange.
func (t *Transport) Send(ctx context.Context) error {
	if err := t.engine.Begin(ctx); err != nil {
		return err
	}
	context.AfterFunc(t.engine.Context(), t.Abort)
	return t.send(t.engine.Context())
}

// Abort closes the connection. No event is reported afterwards.
func (t *Transport) Abort() {
	t.engine.Abort()
}

func (t *Transport) send(ctx context.Context) error {
	msg, err := t.prepareMessage()
	if err != nil {
		return err
	}
	conn, err := t.connect(ctx)
	if err != nil {
		t.engine.ErrorRequest(err)
		return nil
	}
	if conn == nil {
		return nil
	}
	t.write(conn, msg)
	return nil
}

// prepareMessage frames the request of the current hop.
func (t *Transport) prepareMessage() ([]byte, error) {
	e := t.engine
	s := t.strategy()
	h, body, err := e.PrepareRequest(s == strategyProxy)
	if err != nil {
		return nil, err
	}
	if err := e.AuthorizeNTLM(h); err != nil {
		return nil, err
	}
	e.Snapshot.Headers = h.String()

	target := e.URL.RequestURI()
	if s == strategyProxy {
		target = e.URL.String()
	}
	return e.Frame(target, h, body), nil
}

// write sends msg on conn and starts the hop's reader.
func (t *Transport) write(conn net.Conn, msg []byte) {
	e := t.engine
	now := time.Now()
	if e.Stats.StartTime.IsZero() {
		e.Stats.StartTime = now
	}
	e.Stats.MessageStart = now
	e.Snapshot.StartTime = now
	e.RecordMessage(msg)

	if d := e.Timeout(); d > 0 {
		conn.SetWriteDeadline(now.Add(d))
	}
	if _, err := conn.Write(msg); err != nil {
		if isTimeout(err) {
			e.ErrorRequest(transport.NewTimeoutError())
			return
		}
		e.ErrorRequest(&transport.NetworkError{Message: "failed to write the request", Err: err})
		return
	}
	e.Stats.SentTime = time.Now()
	e.Log.Debug().Int("bytes", len(msg)).Msg("request written")
	e.EmitLoadStart()
	go t.read(conn, newParser(e.Request.Method, &e.Body))
}

// read feeds the parser until the response ends. It is the only goroutine
// touching the engine while the hop is read.
func (t *Transport) read(conn net.Conn, p *parser) {
	e := t.engine
	buf := make([]byte, readBufferSize)
	timeout := e.Timeout()
	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if e.Aborted() {
			return
		}
		if n > 0 && t.consume(conn, p, buf[:n]) {
			return
		}
		if err != nil {
			t.readFailed(conn, p, err)
			return
		}
	}
}

// consume handles one chunk of data. It reports true when the hop is over.
func (t *Transport) consume(conn net.Conn, p *parser, data []byte) bool {
	e := t.engine
	now := time.Now()
	if e.Stats.FirstReceiveTime.IsZero() {
		e.Stats.FirstReceiveTime = now
		e.EmitFirstByte()
	}
	e.Stats.ReceivingTime = now

	for len(data) > 0 {
		rest, headersDone, err := p.feed(data)
		if p.head != nil {
			e.Current = p.head
		}
		if err != nil {
			e.ErrorRequest(err)
			return true
		}
		if headersDone && !e.EmitHeadersReceived() {
			return true
		}
		if p.state == stateDone {
			t.report(conn, p)
			return true
		}
		data = rest
	}
	return e.Aborted()
}

func (t *Transport) readFailed(conn net.Conn, p *parser, err error) {
	e := t.engine
	switch {
	case isTimeout(err):
		e.ErrorRequest(transport.NewTimeoutError())
	case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
		if !p.finishOnClose() {
			e.ErrorRequest(transport.NewClosedError())
			return
		}
		e.Current = p.head
		t.report(conn, p)
	default:
		e.ErrorRequest(&transport.NetworkError{Message: "connection failed", Err: err})
	}
}

// report ends the hop: it follows a redirect, continues the NTLM handshake
// or publishes the response.
func (t *Transport) report(conn net.Conn, p *parser) {
	e := t.engine
	if e.Aborted() {
		return
	}
	e.MarkReceived()
	status := p.head.Status
	if status >= 300 && status < 400 && e.FollowRedirects() && e.ReportRedirect(status) {
		return
	}
	if status == 401 && e.Auth != nil {
		t.continueNTLM(conn, p)
		return
	}
	e.PublishResponse(true)
}

// continueNTLM answers a Type 2 challenge on the same connection when the
// server kept it open.
func (t *Transport) continueNTLM(conn net.Conn, p *parser) {
	e := t.engine
	if !e.ChallengeNTLM(p.head.Header().Get("www-authenticate")) {
		e.PublishResponse(true)
		return
	}
	reuse := !p.closed && !strings.EqualFold(p.head.Header().Get("connection"), "close")
	e.Log.Debug().Bool("reuse", reuse).Msg("answering NTLM challenge")
	e.ResetHop()

	msg, err := t.prepareMessage()
	if err != nil {
		e.ErrorRequest(err)
		return
	}
	if !reuse {
		t.closeConn()
		if conn, err = t.connect(e.Context()); err != nil {
			e.ErrorRequest(err)
			return
		}
		if conn == nil {
			return
		}
	}
	t.write(conn, msg)
}

// setConn makes conn the live connection. It closes conn and reports false
// when the exchange was aborted meanwhile.
func (t *Transport) setConn(conn net.Conn) bool {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	if t.engine.Aborted() {
		t.closeConn()
		return false
	}
	return true
}

func (t *Transport) closeConn() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
