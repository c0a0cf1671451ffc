package library

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

const readBufferSize = 32 * 1024

// Transport sends requests with net/http. It reports the same events as the
// socket transport and leaves redirects, cookies and NTLM to the engine.
type Transport struct {
	engine *transport.Engine

	mu      sync.Mutex
	rt      *http.Transport
	rtHost  string
	cancels []context.CancelFunc
}

var _ transport.Transport = (*Transport)(nil)

// New creates a library transport for req. Events are delivered to l.
func New(req *transport.Request, id string, opts *config.Options, l transport.Listener) *Transport {
	t := &Transport{}
	t.engine = transport.NewEngine(req, id, opts, l, transport.Hooks{
		Send:  t.send,
		Close: t.closeConn,
	})
	return t
}

// roundTripper returns the http.Transport for host. A hop to another host
// gets a new one; the NTLM resend to the same host reuses its connection.
func (t *Transport) roundTripper(host string) *http.Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rt != nil && t.rtHost == host {
		return t.rt
	}
	if t.rt != nil {
		t.rt.CloseIdleConnections()
	}
	e := t.engine
	t.rt = &http.Transport{
		Proxy:              t.proxy,
		DialContext:        (&net.Dialer{Timeout: e.Timeout()}).DialContext,
		TLSClientConfig:    e.TLSConfig(host),
		DisableCompression: true,
		MaxConnsPerHost:    1,
		// no HTTP/2
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	t.rtHost = host
	return t.rt
}

func (t *Transport) client() *http.Client {
	return &http.Client{
		Transport: t.roundTripper(t.engine.URL.Hostname()),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ID is the request id reported with every event.
func (t *Transport) ID() string {
	return t.engine.ID
}

// Send prepares the request and starts the exchange on another goroutine.
// Cancelling ctx aborts it.
func (t *Transport) Send(ctx context.Context) error {
	if err := t.engine.Begin(ctx); err != nil {
		return err
	}
	context.AfterFunc(t.engine.Context(), t.Abort)
	return t.send(t.engine.Context())
}

// Abort cancels the exchange. No event is reported afterwards.
func (t *Transport) Abort() {
	t.engine.Abort()
}

func (t *Transport) send(ctx context.Context) error {
	req, err := t.newRequest(ctx)
	if err != nil {
		return err
	}
	go t.do(req)
	return nil
}

// newRequest builds the http.Request of the current hop.
func (t *Transport) newRequest(ctx context.Context) (*http.Request, error) {
	e := t.engine
	h, body, err := e.PrepareRequest(false)
	if err != nil {
		return nil, err
	}
	if err := e.AuthorizeNTLM(h); err != nil {
		return nil, err
	}
	e.Snapshot.Headers = h.String()

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, e.Request.Method, e.URL.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Host = e.HostHeader
	h.Each(func(name, value string) {
		switch strings.ToLower(name) {
		case "host":
			req.Host = value
		case "content-length":
		default:
			req.Header.Add(name, value)
		}
	})
	if _, ok := req.Header["User-Agent"]; !ok {
		// keeps net/http from adding its own
		req.Header["User-Agent"] = nil
	}

	e.Stats.StartTime = time.Now()
	e.Snapshot.StartTime = e.Stats.StartTime
	e.RecordMessage(e.Frame(e.URL.RequestURI(), h, body))
	return req, nil
}

func (t *Transport) proxy(req *http.Request) (*neturl.URL, error) {
	opts := t.engine.Options
	if opts.Proxy == "" {
		return nil, nil
	}
	raw := opts.Proxy
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := neturl.Parse(raw)
	if err != nil {
		return nil, &transport.NetworkError{Message: fmt.Sprintf("invalid proxy %q", opts.Proxy), Err: err}
	}
	if opts.ProxyUsername != "" {
		u.User = neturl.UserPassword(opts.ProxyUsername, opts.ProxyPassword)
	}
	return u, nil
}

// do runs one hop. It is the only goroutine touching the engine until the
// hop is reported.
func (t *Transport) do(req *http.Request) {
	e := t.engine
	tr := &tracer{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), tr.trace()))

	idle := newIdleTimer(e.Timeout(), t.cancelRequests)
	defer idle.stop()

	e.Log.Debug().Str("url", req.URL.String()).Msg("sending request")
	e.Stats.MessageStart = time.Now()
	resp, err := t.client().Do(req)
	tr.apply(&e.Stats)
	if e.Aborted() {
		if resp != nil {
			resp.Body.Close()
		}
		return
	}
	if err != nil {
		t.failed(err, idle)
		return
	}
	defer resp.Body.Close()
	idle.reset()

	h := headers.New(resp.Header)
	e.Current = &transport.Head{Status: resp.StatusCode, StatusText: statusText(resp)}
	e.Current.SetHeaders(h.String(), h)
	e.EmitLoadStart()
	e.EmitFirstByte()
	if !e.EmitHeadersReceived() {
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if e.Aborted() {
			return
		}
		if n > 0 {
			idle.reset()
			e.Stats.ReceivingTime = time.Now()
			e.Body.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.failed(err, idle)
			return
		}
	}
	idle.stop()
	t.report(resp)
}

func (t *Transport) failed(err error, idle *idleTimer) {
	e := t.engine
	if idle.fired() || isTimeout(err) {
		e.ErrorRequest(transport.NewTimeoutError())
		return
	}
	e.ErrorRequest(&transport.NetworkError{Message: "request failed", Err: err})
}

func (t *Transport) report(resp *http.Response) {
	e := t.engine
	e.MarkReceived()
	status := resp.StatusCode
	if status >= 300 && status < 400 && e.FollowRedirects() && e.ReportRedirect(status) {
		return
	}
	if status == http.StatusUnauthorized && e.ChallengeNTLM(resp.Header.Get("WWW-Authenticate")) {
		e.Log.Debug().Msg("answering NTLM challenge")
		e.ResetHop()
		if err := t.send(e.Context()); err != nil {
			e.ErrorRequest(err)
		}
		return
	}
	e.PublishResponse(true)
}

// cancelRequests cancels every request of the exchange.
func (t *Transport) cancelRequests() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (t *Transport) closeConn() {
	t.cancelRequests()
	t.mu.Lock()
	rt := t.rt
	t.mu.Unlock()
	if rt != nil {
		rt.CloseIdleConnections()
	}
}

// statusText strips the code from a status such as "200 OK".
func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode))
	return strings.TrimSpace(text)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
