package socket

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// strategy is how a request reaches its target.
type strategy int

const (
	strategyDirect strategy = iota
	// strategyProxy sends the request with an absolute URL to the proxy.
	strategyProxy
	// strategyTunnel opens a CONNECT tunnel through the proxy.
	strategyTunnel
)

func (s strategy) String() string {
	switch s {
	case strategyProxy:
		return "proxy"
	case strategyTunnel:
		return "tunnel"
	}
	return "direct"
}

// proxyURL parses the proxy option. A bare host:port means an http proxy.
func proxyURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, &transport.NetworkError{Message: fmt.Sprintf("invalid proxy %q", raw), Err: err}
	}
	return u, nil
}

func (t *Transport) strategy() strategy {
	if t.engine.Options.Proxy == "" {
		return strategyDirect
	}
	if transport.IsSecure(t.engine.URL) {
		return strategyTunnel
	}
	return strategyProxy
}

// connect opens the connection of the current hop. A nil conn with a nil
// error means the proxy answered the tunnel request with a 401 that was
// published as the final response.
func (t *Transport) connect(ctx context.Context) (net.Conn, error) {
	e := t.engine
	target := e.URL
	s := t.strategy()
	e.Log.Debug().Str("strategy", s.String()).Str("host", target.Host).Msg("connecting")

	if s == strategyDirect {
		conn, err := t.dial(ctx, target.Hostname(), transport.Port(target))
		if err != nil || !transport.IsSecure(target) {
			return conn, err
		}
		return t.handshake(ctx, conn, target.Hostname())
	}

	proxy, err := proxyURL(e.Options.Proxy)
	if err != nil {
		return nil, err
	}
	conn, err := t.dial(ctx, proxy.Hostname(), transport.Port(proxy))
	if err != nil {
		return nil, err
	}
	if transport.IsSecure(proxy) {
		if conn, err = t.handshake(ctx, conn, proxy.Hostname()); err != nil {
			return nil, err
		}
	}
	if s == strategyProxy {
		return conn, nil
	}
	return t.tunnel(ctx, conn)
}

func (t *Transport) dial(ctx context.Context, host, port string) (net.Conn, error) {
	e := t.engine
	e.Stats.ConnectionTime = time.Now()
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, &transport.NetworkError{Message: fmt.Sprintf("failed to resolve %s", host), Err: err}
	}
	e.Stats.LookupTime = time.Now()

	d := net.Dialer{Timeout: e.Timeout()}
	var conn net.Conn
	for _, addr := range addrs {
		if conn, err = d.DialContext(ctx, "tcp", net.JoinHostPort(addr, port)); err == nil {
			break
		}
	}
	if err != nil {
		return nil, &transport.NetworkError{Message: fmt.Sprintf("failed to connect to %s", net.JoinHostPort(host, port)), Err: err}
	}
	e.Stats.ConnectedTime = time.Now()
	if !t.setConn(conn) {
		return nil, context.Canceled
	}
	return conn, nil
}

func (t *Transport) handshake(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	e := t.engine
	e.Stats.SecureStartTime = time.Now()
	if d := e.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	tc := tls.Client(conn, e.TLSConfig(host))
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &transport.NetworkError{Message: fmt.Sprintf("TLS handshake with %s failed", host), Err: err}
	}
	e.Stats.SecureConnectedTime = time.Now()
	if !t.setConn(tc) {
		return nil, context.Canceled
	}
	return tc, nil
}

// tunnel asks the proxy on conn for a CONNECT tunnel to the target and
// upgrades it to TLS.
func (t *Transport) tunnel(ctx context.Context, conn net.Conn) (net.Conn, error) {
	e := t.engine
	authority := net.JoinHostPort(e.URL.Hostname(), transport.Port(e.URL))
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)
	if v := e.ProxyAuthHeader(); v != "" {
		fmt.Fprintf(&msg, "Proxy-Authorization: %s\r\n", v)
	}
	msg.WriteString("\r\n")

	if d := e.Timeout(); d > 0 {
		conn.SetDeadline(time.Now().Add(d))
	}
	if _, err := conn.Write(msg.Bytes()); err != nil {
		conn.Close()
		return nil, &transport.NetworkError{Message: "failed to write the CONNECT request", Err: err}
	}

	var body bytes.Buffer
	p := newParser(http.MethodConnect, &body)
	if err := readAll(conn, p); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	switch p.head.Status {
	case http.StatusOK:
		e.Log.Debug().Str("authority", authority).Msg("tunnel established")
		return t.handshake(ctx, conn, e.URL.Hostname())
	case http.StatusUnauthorized:
		conn.Close()
		e.Current = p.head
		e.Body.Write(body.Bytes())
		e.MarkReceived()
		go e.PublishResponse(false)
		return nil, nil
	default:
		conn.Close()
		return nil, transport.NewTunnelError(p.head.Status)
	}
}

// readAll reads a whole response from conn into p.
func readAll(conn net.Conn, p *parser) error {
	buf := make([]byte, 4096)
	for p.state != stateDone {
		n, err := conn.Read(buf)
		data := buf[:n]
		for len(data) > 0 && p.state != stateDone {
			var perr error
			if data, _, perr = p.feed(data); perr != nil {
				return perr
			}
		}
		if err == nil || p.state == stateDone {
			continue
		}
		if isTimeout(err) {
			return transport.NewTimeoutError()
		}
		if !p.finishOnClose() {
			return transport.NewClosedError()
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
