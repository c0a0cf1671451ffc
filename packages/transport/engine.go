package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/cookies"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/hosts"
	"github.com/abdul-hamid-achik/hitwire/packages/payload"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var hostLine = regexp.MustCompile(`(?im)^\s*host\s*:`)

// Hooks connect an Engine to the transport that drives it.
type Hooks struct {
	// Send sends the current request state as the next redirect hop.
	Send func(ctx context.Context) error
	// Reset clears the transport's per hop state.
	Reset func()
	// Close closes the live connection. It must be safe to call twice.
	Close func()
}

// Head is the status line and header block of the response being read.
type Head struct {
	Status     int
	StatusText string
	Headers    string

	parsed *headers.Headers
}

// Header returns the parsed header block.
func (h *Head) Header() *headers.Headers {
	if h.parsed == nil {
		h.parsed = headers.Parse(h.Headers)
	}
	return h.parsed
}

// SetHeaders replaces the header block.
func (h *Head) SetHeaders(block string, parsed *headers.Headers) {
	h.Headers = block
	h.parsed = parsed
}

// Engine is the lifecycle shared by every transport: URL and host rules,
// request preparation, response assembly, redirects and event delivery.
//
// The exported state is owned by the goroutine currently driving the
// exchange: the caller of Send, then the hop's reader goroutine, then the
// redirect goroutine. Only Abort may be called from elsewhere.
type Engine struct {
	ID      string
	Request *Request
	Options *config.Options
	Log     *zerolog.Logger

	URL        *url.URL
	HostHeader string
	Snapshot   *Snapshot
	Stats      Stats
	Current    *Head
	Body       bytes.Buffer
	Redirects  []*Redirect
	Auth       *AuthState
	SentSize   int

	listener Listener
	hooks    Hooks
	ctx      context.Context
	urlErr   error
	aborted  atomic.Bool
	finished atomic.Bool
}

// NewEngine creates the engine for one logical request. The request is
// copied. An empty id gets a generated one.
func NewEngine(req *Request, id string, opts *config.Options, l Listener, hooks Hooks) *Engine {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	if l == nil {
		l = &ListenerFuncs{}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if req == nil {
		req = &Request{}
	}
	req = req.Clone()
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	log := opts.Log().With().Str("request_id", id).Logger()
	e := &Engine{
		ID:       id,
		Request:  req,
		Options:  opts,
		Log:      &log,
		listener: l,
		hooks:    hooks,
		ctx:      context.Background(),
	}
	for _, w := range opts.Warnings {
		e.Log.Warn().Msg(w)
	}
	e.urlErr = e.UpdateURL(req.URL)
	e.Snapshot = &Snapshot{Method: req.Method, URL: req.URL}
	return e
}

// UpdateURL sets the request URL. Host rules apply to the URL that is
// connected to while the Host header keeps the requested host.
func (e *Engine) UpdateURL(raw string) error {
	e.Request.URL = raw
	requested, err := url.Parse(raw)
	if err != nil || requested.Scheme == "" || requested.Host == "" {
		return fmt.Errorf("invalid request URL %q", raw)
	}
	target, err := url.Parse(hosts.Apply(raw, e.Options.Hosts))
	if err != nil || target.Host == "" {
		return fmt.Errorf("invalid request URL %q after host rules", raw)
	}
	e.URL = target
	e.HostHeader = HostHeader(requested)
	return nil
}

// HostHeader renders the Host header for u. Default ports are omitted.
func HostHeader(u *url.URL) string {
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		return host + ":" + port
	}
	return host
}

// Port returns the port to connect to for u.
func Port(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

// IsSecure reports whether u is reached over TLS.
func IsSecure(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, "https") || u.Port() == "443"
}

// Timeout is the idle timeout of the request. Zero disables it.
func (e *Engine) Timeout() time.Duration {
	if c := e.Request.Config; c != nil && c.Timeout != nil {
		return time.Duration(*c.Timeout) * time.Millisecond
	}
	return e.Options.TimeoutDuration()
}

// FollowRedirects reports whether redirects are followed.
func (e *Engine) FollowRedirects() bool {
	if c := e.Request.Config; c != nil && c.FollowRedirects != nil {
		return *c.FollowRedirects
	}
	return e.Options.GetFollowRedirects()
}

// Begin starts a new exchange. It fails when the request URL is unusable.
func (e *Engine) Begin(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx = ctx
	e.aborted.Store(false)
	e.finished.Store(false)
	return e.urlErr
}

// Context is the context the exchange was started with.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Aborted reports whether the exchange is over, by Abort or by its final
// event.
func (e *Engine) Aborted() bool {
	return e.aborted.Load() || e.finished.Load()
}

// Abort stops the exchange and closes the connection.
func (e *Engine) Abort() {
	if e.aborted.Swap(true) {
		return
	}
	e.Log.Debug().Msg("request aborted")
	e.close()
}

func (e *Engine) close() {
	if e.hooks.Close != nil {
		e.hooks.Close()
	}
}

// EmitLoadStart reports that the request was written.
func (e *Engine) EmitLoadStart() {
	if !e.Aborted() {
		e.listener.LoadStart(e.ID)
	}
}

// EmitFirstByte reports the first response byte of the hop.
func (e *Engine) EmitFirstByte() {
	if !e.Aborted() {
		e.listener.FirstByte(e.ID)
	}
}

// EmitHeadersReceived reports the response head. A cancel aborts the
// exchange and false is returned.
func (e *Engine) EmitHeadersReceived() bool {
	if e.Aborted() {
		return false
	}
	if !e.listener.HeadersReceived(e.ID, e.Current.Headers) {
		e.Abort()
		return false
	}
	return !e.Aborted()
}

// ProxyAuthHeader is the Proxy-Authorization value for the configured proxy
// credentials, or "" without a proxy username.
func (e *Engine) ProxyAuthHeader() string {
	if e.Options.ProxyUsername == "" {
		return ""
	}
	creds := e.Options.ProxyUsername + ":" + e.Options.ProxyPassword
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// PrepareHeaders fills the default user-agent and accept headers when they
// are enabled and missing.
func (e *Engine) PrepareHeaders(h *headers.Headers) {
	if !e.Options.GetDefaultHeaders() {
		return
	}
	if !h.Has("user-agent") {
		h.Set("user-agent", e.Options.GetDefaultUserAgent())
	}
	if !h.Has("accept") {
		h.Set("accept", e.Options.GetDefaultAccept())
	}
}

// PrepareRequest builds the outgoing header set and body of the current hop.
// GET and HEAD requests carry no body and every method but GET gets a
// content-length.
func (e *Engine) PrepareRequest(proxyAuth bool) (*headers.Headers, []byte, error) {
	method := strings.ToUpper(e.Request.Method)
	h := headers.Parse(e.Request.Headers)
	e.PrepareHeaders(h)
	if proxyAuth {
		if v := e.ProxyAuthHeader(); v != "" && !h.Has("proxy-authorization") {
			h.Set("proxy-authorization", v)
		}
	}

	var body []byte
	if method != http.MethodGet && method != http.MethodHead {
		// a reader is drained by the first hop; NTLM retries resend the bytes
		p, err := payload.Replayable(e.Request.Payload)
		if err != nil {
			return nil, nil, err
		}
		e.Request.Payload = p
		b, err := payload.ToBuffer(p, h)
		if err != nil {
			return nil, nil, err
		}
		body = b
	}
	if method != http.MethodGet {
		h.Set("content-length", strconv.Itoa(len(body)))
	}
	return h, body, nil
}

// RecordMessage stores the serialized message in the snapshot, cut to the
// sent message limit.
func (e *Engine) RecordMessage(msg []byte) {
	e.SentSize = len(msg)
	limit := e.Options.GetSentMessageLimit()
	if limit > 0 && len(msg) >= limit {
		e.Snapshot.HTTPMessage = string(msg[:limit]) + " ..."
		return
	}
	e.Snapshot.HTTPMessage = string(msg)
}

// Frame serializes the request line, a Host header unless the request
// carries its own, the header block with CRLF line ends and the body.
func (e *Engine) Frame(target string, h *headers.Headers, body []byte) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "%s %s HTTP/1.1\r\n", e.Request.Method, target)
	if !hostLine.MatchString(e.Request.Headers) {
		fmt.Fprintf(&msg, "Host: %s\r\n", e.HostHeader)
	}
	if h.Len() > 0 {
		msg.WriteString(payload.NormalizeString(h.String()))
		msg.WriteString("\r\n")
	}
	msg.WriteString("\r\n")
	msg.Write(body)
	return msg.Bytes()
}

// TLSConfig is the TLS config for host. An unusable client certificate is
// logged and left out.
func (e *Engine) TLSConfig(host string) *tls.Config {
	cert := e.Request.ClientCertificate
	if cert == nil {
		cert = e.Options.ClientCertificate
	}
	cfg, err := TLSConfig(host, e.Options, cert)
	if err != nil {
		for _, w := range certificateWarnings(err) {
			e.Log.Warn().Msg(w)
		}
	}
	return cfg
}

// MarkReceived records the end of the response.
func (e *Engine) MarkReceived() {
	now := time.Now()
	e.Stats.LastReceivedTime = now
	e.Stats.ResponseTime = now
	e.Snapshot.EndTime = now
}

// CreateResponse assembles the final response from the current hop.
func (e *Engine) CreateResponse(includeRedirects bool) (*Response, error) {
	head := e.Current
	if head == nil || head.Status == 0 {
		return nil, &ProtocolError{Message: "the response has an empty status"}
	}
	if head.Status < 100 || head.Status > 599 {
		return nil, &ProtocolError{Message: fmt.Sprintf("the response status %d is not valid", head.Status)}
	}
	body, err := Decompress(bytes.Clone(e.Body.Bytes()), head.Header().Get("content-encoding"))
	if err != nil {
		return nil, err
	}
	timings := ComputeTimings(e.Stats)
	resp := &Response{
		Status:      head.Status,
		StatusText:  head.StatusText,
		Headers:     head.Headers,
		Payload:     body,
		Timings:     timings,
		LoadingTime: LoadingTime(timings),
		Size:        Size{Request: e.SentSize, Response: len(body)},
	}
	if head.Status == http.StatusUnauthorized {
		resp.Auth = e.authSummary()
	}
	if includeRedirects && len(e.Redirects) > 0 {
		resp.Redirects = append([]*Redirect(nil), e.Redirects...)
	}
	return resp, nil
}

func (e *Engine) authSummary() *AuthSummary {
	if e.Auth != nil {
		return &AuthSummary{Method: e.Auth.Method}
	}
	return &AuthSummary{Method: AuthMethodFromHeader(e.Current.Header().Get("www-authenticate"))}
}

// Partial returns what is known of the current response, or nil before a
// status line was read.
func (e *Engine) Partial() *PartialResponse {
	if e.Current == nil || e.Current.Status == 0 {
		return nil
	}
	return &PartialResponse{
		Status:     e.Current.Status,
		StatusText: e.Current.StatusText,
		Headers:    e.Current.Headers,
		Payload:    bytes.Clone(e.Body.Bytes()),
	}
}

// PublishResponse reports the current response as the final one.
func (e *Engine) PublishResponse(includeRedirects bool) {
	if e.Aborted() {
		return
	}
	resp, err := e.CreateResponse(includeRedirects)
	if err != nil {
		e.ErrorRequest(err)
		return
	}
	if !e.finish() {
		return
	}
	e.Log.Debug().Int("status", resp.Status).Float64("loading_time", resp.LoadingTime).Msg("response loaded")
	e.listener.Load(e.ID, resp, e.Snapshot)
	e.listener.LoadEnd(e.ID)
}

// ErrorRequest reports err as the final outcome.
func (e *Engine) ErrorRequest(err error) {
	if !e.finish() {
		return
	}
	if e.Snapshot.EndTime.IsZero() {
		e.Snapshot.EndTime = time.Now()
	}
	e.Log.Debug().Err(err).Msg("request failed")
	e.listener.Error(e.ID, err, e.Snapshot, e.Partial())
	e.listener.LoadEnd(e.ID)
}

// finish claims the single final event of the exchange.
func (e *Engine) finish() bool {
	if e.aborted.Load() || !e.finished.CompareAndSwap(false, true) {
		return false
	}
	e.close()
	return true
}

// ReportRedirect starts following the current 3xx response when it should
// be followed: the hop connection is closed and the redirect runs on its own
// goroutine. The caller must not touch the engine after a true result.
func (e *Engine) ReportRedirect(status int) bool {
	d := RedirectOptions(status, e.Request.Method, e.Current.Header().Get("location"))
	if !d.Redirect {
		return false
	}
	e.close()
	go e.redirect(d)
	return true
}

func (e *Engine) redirect(d RedirectDecision) {
	if e.Aborted() {
		return
	}
	location, ok := ResolveLocation(d.Location, e.Request.URL)
	if !ok {
		e.ErrorRequest(&RedirectError{Message: msgInvalidLocation, Code: CodeInvalidLocation, Location: d.Location})
		return
	}
	if IsRedirectLoop(location, e.Redirects) {
		e.ErrorRequest(&RedirectError{Message: msgRedirectLoop, Code: CodeRedirectLoop, Location: location})
		return
	}
	if !e.listener.BeforeRedirect(e.ID, location) {
		e.PublishResponse(true)
		return
	}
	if e.Aborted() {
		return
	}

	setCookie := e.Current.Header().Get("set-cookie")
	record, err := e.redirectRecord(location)
	if err != nil {
		e.ErrorRequest(err)
		return
	}
	e.Redirects = append(e.Redirects, record)
	e.ResetHop()
	if setCookie != "" {
		e.carryCookies(setCookie, location)
	}
	if err := e.UpdateURL(location); err != nil {
		e.ErrorRequest(&RedirectError{Message: msgInvalidLocation, Code: CodeInvalidLocation, Location: location})
		return
	}
	if d.ForceGet {
		e.Request.Method = http.MethodGet
	}
	e.Snapshot = &Snapshot{Method: e.Request.Method, URL: location}
	e.Log.Debug().Str("location", location).Int("hop", len(e.Redirects)).Msg("following redirect")

	if e.hooks.Send == nil {
		e.PublishResponse(true)
		return
	}
	if err := e.hooks.Send(e.ctx); err != nil {
		e.ErrorRequest(err)
	}
}

func (e *Engine) redirectRecord(location string) (*Redirect, error) {
	head := e.Current
	body, err := Decompress(bytes.Clone(e.Body.Bytes()), head.Header().Get("content-encoding"))
	if err != nil {
		return nil, err
	}
	return &Redirect{
		URL: location,
		Response: PartialResponse{
			Status:     head.Status,
			StatusText: head.StatusText,
			Headers:    head.Headers,
			Payload:    body,
		},
		Timings:   ComputeTimings(e.Stats),
		StartTime: e.Stats.StartTime,
		EndTime:   e.Stats.ResponseTime,
	}, nil
}

func (e *Engine) carryCookies(setCookie, location string) {
	h := headers.Parse(e.Request.Headers)
	if cookie := cookies.Redirect(h.Get("cookie"), setCookie, location); cookie != "" {
		h.Set("cookie", cookie)
	} else {
		h.Delete("cookie")
	}
	e.Request.Headers = h.String()
}

// ResetHop clears the per hop response state before the next hop is sent.
func (e *Engine) ResetHop() {
	e.Current = nil
	e.Body.Reset()
	e.Stats = Stats{}
	e.SentSize = 0
	if e.hooks.Reset != nil {
		e.hooks.Reset()
	}
}
