package socket_test

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/ntlm"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
	"github.com/abdul-hamid-achik/hitwire/packages/transport/socket"
	"github.com/abdul-hamid-achik/hitwire/packages/transport/transporttest"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ntlmChallenge = "TlRMTVNTUAACAAAAAAAAADAAAAABAgAAAQIDBAUGBwgAAAAAAAAAAAAAAAAwAAAA"

// respond answers one request with a raw response.
func respond(resp string) func(net.Conn) {
	return func(conn net.Conn) {
		if _, _, err := transporttest.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		io.WriteString(conn, resp)
	}
}

// hang reads the request and then waits for the client to go away.
func hang(conn net.Conn) {
	r := bufio.NewReader(conn)
	if _, _, err := transporttest.ReadRequest(r); err != nil {
		return
	}
	io.Copy(io.Discard, r)
}

func send(t *testing.T, req *transport.Request, opts *config.Options) *transporttest.Recorder {
	t.Helper()
	rec := transporttest.NewRecorder()
	tr := socket.New(req, "", opts, rec)
	require.NoError(t, tr.Send(context.Background()))
	require.True(t, rec.Wait(3*time.Second), "no loadend, events: %v", rec.Events())
	return rec
}

func ntlmCredentials(user string) ntlm.Credentials {
	return ntlm.Credentials{Username: user, Password: "pw"}
}

// messageType returns the NTLM message type carried by an Authorization
// value, or 0.
func messageType(header string) byte {
	value, ok := strings.CutPrefix(header, "NTLM ")
	if !ok {
		return 0
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(data) < 12 {
		return 0
	}
	return data[8]
}

func TestTransport_Get(t *testing.T) {
	requests := make(chan string, 1)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		requests <- req.Method + " " + req.RequestURI + " " + req.Host
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello")
	})

	rec := send(t, &transport.Request{URL: srv.URL("http", "/hello?x=1")}, nil)

	assert.Equal(t, "GET /hello?x=1 "+srv.Addr, <-requests)
	assert.Equal(t, []string{"loadstart", "firstbyte", "headers", "load", "loadend"}, rec.Events())
	resp := rec.Response()
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "OK", resp.StatusText)
	assert.Equal(t, "Content-Type: text/plain\nContent-Length: 5", resp.Headers)
	assert.Equal(t, "hello", string(resp.Payload))
	assert.Equal(t, 5, resp.Size.Response)
	assert.Empty(t, resp.Redirects)
	assert.Equal(t, "GET /hello?x=1 HTTP/1.1\r\nHost: "+srv.Addr+"\r\n\r\n", rec.Snapshot().HTTPMessage)
	assert.Equal(t, resp.Size.Request, len(rec.Snapshot().HTTPMessage))
}

func TestTransport_HostHeaderFromRequest(t *testing.T) {
	hosts := make(chan []string, 1)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		hosts <- []string{req.Host}
		io.WriteString(conn, "HTTP/1.1 204 No Content\r\n\r\n")
	})

	rec := send(t, &transport.Request{URL: srv.URL("http", "/"), Headers: "Host: custom.test"}, nil)

	assert.Equal(t, []string{"custom.test"}, <-hosts)
	assert.Equal(t, 1, strings.Count(strings.ToLower(rec.Snapshot().HTTPMessage), "host:"))
	assert.Equal(t, 204, rec.Response().Status)
}

func TestTransport_Post(t *testing.T) {
	type seen struct {
		length      int64
		contentType string
		body        string
	}
	got := make(chan seen, 1)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, body, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		got <- seen{req.ContentLength, req.Header.Get("Content-Type"), string(body)}
		io.WriteString(conn, "HTTP/1.1 201 Created\r\nContent-Length: 0\r\n\r\n")
	})

	rec := send(t, &transport.Request{
		Method:  "POST",
		URL:     srv.URL("http", "/items"),
		Headers: "Content-Type: text/plain",
		Payload: "hello",
	}, nil)

	assert.Equal(t, seen{5, "text/plain", "hello"}, <-got)
	assert.Equal(t, 201, rec.Response().Status)
	assert.Contains(t, rec.Snapshot().HTTPMessage, "content-length: 5\r\n\r\nhello")
}

func TestTransport_DefaultHeaders(t *testing.T) {
	agents := make(chan string, 1)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		agents <- req.UserAgent() + "|" + req.Header.Get("Accept")
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	})
	opts := config.DefaultOptions()
	opts.DefaultHeaders = config.BoolPtr(true)

	send(t, &transport.Request{URL: srv.URL("http", "/")}, opts)

	assert.Equal(t, "hitwire|*/*", <-agents)
}

func TestTransport_FragmentedChunkedResponse(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		if _, _, err := transporttest.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		for i := 0; i < len(resp); i++ {
			if _, err := conn.Write([]byte{resp[i]}); err != nil {
				return
			}
		}
	})

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, nil)

	require.NotNil(t, rec.Response())
	assert.Equal(t, "hello world", string(rec.Response().Payload))
	assert.Equal(t, 1, strings.Count(strings.Join(rec.Events(), ","), "headers"))
}

func TestTransport_GzipResponse(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"ok":true}`))
	require.NoError(t, zw.Close())
	srv := transporttest.NewServer(t, respond(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\nContent-Length: %d\r\n\r\n%s", buf.Len(), buf.String())))

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, nil)

	resp := rec.Response()
	require.NotNil(t, resp)
	assert.Equal(t, `{"ok":true}`, string(resp.Payload))
	assert.Equal(t, len(`{"ok":true}`), resp.Size.Response)
}

func TestTransport_HeadIgnoresContentLength(t *testing.T) {
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		if _, _, err := transporttest.ReadRequest(r); err != nil {
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n")
		io.Copy(io.Discard, r)
	})

	rec := send(t, &transport.Request{Method: "HEAD", URL: srv.URL("http", "/")}, nil)

	assert.Equal(t, 200, rec.Response().Status)
	assert.Empty(t, rec.Response().Payload)
}

func TestTransport_CloseDelimitedBody(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nuntil close"))

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, nil)

	require.NotNil(t, rec.Response())
	assert.Equal(t, "until close", string(rec.Response().Payload))
}

func TestTransport_ClosedBeforeData(t *testing.T) {
	srv := transporttest.NewServer(t, respond(""))

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, nil)

	var netErr *transport.NetworkError
	require.ErrorAs(t, rec.Err(), &netErr)
	assert.Equal(t, transport.CodeConnectionClosed, netErr.Code)
	assert.Nil(t, rec.Partial())
	assert.Equal(t, []string{"loadstart", "error", "loadend"}, rec.Events())
}

func TestTransport_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	rec := send(t, &transport.Request{URL: "http://" + addr + "/"}, nil)

	var netErr *transport.NetworkError
	assert.ErrorAs(t, rec.Err(), &netErr)
	assert.Equal(t, []string{"error", "loadend"}, rec.Events())
}

func TestTransport_Timeout(t *testing.T) {
	srv := transporttest.NewServer(t, hang)
	opts := config.DefaultOptions()
	opts.Timeout = 100

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, opts)

	assert.ErrorIs(t, rec.Err(), transport.ErrTimeout)
}

func TestTransport_RequestTimeoutOverride(t *testing.T) {
	srv := transporttest.NewServer(t, hang)
	opts := config.DefaultOptions()
	opts.Timeout = 60_000
	timeout := 100

	rec := send(t, &transport.Request{
		URL:    srv.URL("http", "/"),
		Config: &transport.RequestConfig{Timeout: &timeout},
	}, opts)

	assert.ErrorIs(t, rec.Err(), transport.ErrTimeout)
}

func TestTransport_Abort(t *testing.T) {
	srv := transporttest.NewServer(t, hang)
	rec := transporttest.NewRecorder()
	tr := socket.New(&transport.Request{URL: srv.URL("http", "/")}, "", nil, rec)

	require.NoError(t, tr.Send(context.Background()))
	tr.Abort()
	tr.Abort()

	assert.False(t, rec.Wait(300*time.Millisecond))
	assert.Equal(t, []string{"loadstart"}, rec.Events())
}

func TestTransport_ContextCancel(t *testing.T) {
	srv := transporttest.NewServer(t, hang)
	rec := transporttest.NewRecorder()
	tr := socket.New(&transport.Request{URL: srv.URL("http", "/")}, "", nil, rec)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, tr.Send(ctx))
	cancel()

	assert.False(t, rec.Wait(300*time.Millisecond))
	assert.NotContains(t, rec.Events(), "error")
}

func TestTransport_HeadersCancelled(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	rec := transporttest.NewRecorder()
	rec.CancelHeaders = true
	tr := socket.New(&transport.Request{URL: srv.URL("http", "/")}, "", nil, rec)

	require.NoError(t, tr.Send(context.Background()))

	assert.Eventually(t, func() bool { return len(rec.Events()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, rec.Wait(200*time.Millisecond))
	assert.Equal(t, []string{"loadstart", "firstbyte", "headers"}, rec.Events())
}

func TestTransport_PreflightErrors(t *testing.T) {
	t.Run("invalid url", func(t *testing.T) {
		tr := socket.New(&transport.Request{URL: "/relative"}, "", nil, nil)
		assert.Error(t, tr.Send(context.Background()))
	})

	t.Run("unsupported payload", func(t *testing.T) {
		rec := transporttest.NewRecorder()
		tr := socket.New(&transport.Request{Method: "POST", URL: "http://127.0.0.1:1/", Payload: 42}, "", nil, rec)

		assert.Error(t, tr.Send(context.Background()))
		assert.Empty(t, rec.Events())
	})
}

func TestTransport_RedirectWithCookies(t *testing.T) {
	cookies := make(chan string, 1)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		switch req.URL.Path {
		case "/start":
			io.WriteString(conn, "HTTP/1.1 302 Found\r\nLocation: /end\r\nSet-Cookie: session=abc; Path=/\r\nContent-Length: 5\r\n\r\nmoved")
		case "/end":
			cookies <- req.Header.Get("Cookie")
			io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\ndone")
		}
	})

	rec := send(t, &transport.Request{URL: srv.URL("http", "/start")}, nil)

	assert.Equal(t, "session=abc", <-cookies)
	assert.Equal(t, []string{srv.URL("http", "/end")}, rec.Locations())
	assert.Equal(t, []string{
		"loadstart", "firstbyte", "headers", "beforeredirect",
		"loadstart", "firstbyte", "headers", "load", "loadend",
	}, rec.Events())
	resp := rec.Response()
	require.NotNil(t, resp)
	assert.Equal(t, "done", string(resp.Payload))
	require.Len(t, resp.Redirects, 1)
	assert.Equal(t, srv.URL("http", "/end"), resp.Redirects[0].URL)
	assert.Equal(t, 302, resp.Redirects[0].Response.Status)
	assert.Equal(t, "moved", string(resp.Redirects[0].Response.Payload))
	assert.Equal(t, srv.URL("http", "/end"), rec.Snapshot().URL)
	assert.Equal(t, 2, srv.Accepted())
}

func TestTransport_SeeOtherSwitchesToGet(t *testing.T) {
	methods := make(chan string, 2)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		methods <- req.Method + " " + req.URL.Path
		if req.URL.Path == "/form" {
			io.WriteString(conn, "HTTP/1.1 303 See Other\r\nLocation: /result\r\nContent-Length: 0\r\n\r\n")
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	})

	rec := send(t, &transport.Request{Method: "POST", URL: srv.URL("http", "/form"), Payload: "a=1"}, nil)

	assert.Equal(t, "POST /form", <-methods)
	assert.Equal(t, "GET /result", <-methods)
	assert.Equal(t, "GET", rec.Snapshot().Method)
	assert.Equal(t, 200, rec.Response().Status)
}

func TestTransport_RedirectLoop(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 301 Moved Permanently\r\nLocation: /loop\r\nContent-Length: 0\r\n\r\n"))

	rec := send(t, &transport.Request{URL: srv.URL("http", "/loop")}, nil)

	var redirectErr *transport.RedirectError
	require.ErrorAs(t, rec.Err(), &redirectErr)
	assert.Equal(t, transport.CodeRedirectLoop, redirectErr.Code)
}

func TestTransport_RedirectsDisabled(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 302 Found\r\nLocation: /elsewhere\r\nContent-Length: 0\r\n\r\n"))
	follow := false

	rec := send(t, &transport.Request{
		URL:    srv.URL("http", "/"),
		Config: &transport.RequestConfig{FollowRedirects: &follow},
	}, nil)

	assert.Equal(t, 302, rec.Response().Status)
	assert.Empty(t, rec.Locations())
}

func TestTransport_TLS(t *testing.T) {
	cert := transporttest.SelfSigned(t, "localhost")
	srv := transporttest.NewTLSServer(t, cert.TLS, respond("HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nsecure"))

	t.Run("validation off", func(t *testing.T) {
		rec := send(t, &transport.Request{URL: srv.URL("https", "/")}, nil)

		require.NotNil(t, rec.Response(), "error: %v", rec.Err())
		assert.Equal(t, "secure", string(rec.Response().Payload))
		assert.GreaterOrEqual(t, rec.Response().Timings.SSL, 0.0)
	})

	t.Run("validation on", func(t *testing.T) {
		opts := config.DefaultOptions()
		opts.ValidateCertificates = config.BoolPtr(true)

		rec := send(t, &transport.Request{URL: srv.URL("https", "/")}, opts)

		var netErr *transport.NetworkError
		assert.ErrorAs(t, rec.Err(), &netErr)
	})
}

func TestTransport_Proxy(t *testing.T) {
	type seen struct {
		uri, host, auth string
	}
	got := make(chan seen, 1)
	proxy := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		got <- seen{req.RequestURI, req.Host, req.Header.Get("Proxy-Authorization")}
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\nproxied")
	})
	opts := config.DefaultOptions()
	opts.Proxy = proxy.Addr
	opts.ProxyUsername = "user"
	opts.ProxyPassword = "pass"

	rec := send(t, &transport.Request{URL: "http://example.test/path?q=1"}, opts)

	assert.Equal(t, seen{
		uri:  "http://example.test/path?q=1",
		host: "example.test",
		auth: "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass")),
	}, <-got)
	assert.Equal(t, "proxied", string(rec.Response().Payload))
}

func TestTransport_Tunnel(t *testing.T) {
	cert := transporttest.SelfSigned(t, "example.test")
	type seen struct {
		connect, auth, path string
	}
	got := make(chan seen, 1)
	proxy := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		tc := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert.TLS}})
		inner, _, err := transporttest.ReadRequest(bufio.NewReader(tc))
		if err != nil {
			return
		}
		got <- seen{req.Method + " " + req.RequestURI, req.Header.Get("Proxy-Authorization"), inner.URL.Path}
		io.WriteString(tc, "HTTP/1.1 200 OK\r\nContent-Length: 8\r\n\r\ntunneled")
	})
	opts := config.DefaultOptions()
	opts.Proxy = "http://" + proxy.Addr
	opts.ProxyUsername = "user"

	rec := send(t, &transport.Request{URL: "https://example.test/secret"}, opts)

	assert.Equal(t, seen{
		connect: "CONNECT example.test:443",
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte("user:")),
		path:    "/secret",
	}, <-got)
	require.NotNil(t, rec.Response(), "error: %v", rec.Err())
	assert.Equal(t, "tunneled", string(rec.Response().Payload))
}

func TestTransport_TunnelUnauthorized(t *testing.T) {
	proxy := transporttest.NewServer(t, respond("HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"proxy\"\r\nContent-Length: 4\r\n\r\ndeny"))
	opts := config.DefaultOptions()
	opts.Proxy = proxy.Addr

	rec := send(t, &transport.Request{URL: "https://example.test/"}, opts)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, 401, resp.Status)
	assert.Equal(t, "deny", string(resp.Payload))
	require.NotNil(t, resp.Auth)
	assert.Equal(t, "basic", resp.Auth.Method)
}

func TestTransport_TunnelRefused(t *testing.T) {
	proxy := transporttest.NewServer(t, respond("HTTP/1.1 407 Proxy Authentication Required\r\nContent-Length: 0\r\n\r\n"))
	opts := config.DefaultOptions()
	opts.Proxy = proxy.Addr

	rec := send(t, &transport.Request{URL: "https://example.test/"}, opts)

	var netErr *transport.NetworkError
	require.ErrorAs(t, rec.Err(), &netErr)
	assert.Equal(t, transport.CodeTunnelFailed, netErr.Code)
}

func TestTransport_NTLM(t *testing.T) {
	var (
		mu    sync.Mutex
		types []byte
	)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		req, _, err := transporttest.ReadRequest(r)
		if err != nil {
			return
		}
		mu.Lock()
		types = append(types, messageType(req.Header.Get("Authorization")))
		mu.Unlock()
		io.WriteString(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM "+ntlmChallenge+"\r\nContent-Length: 0\r\n\r\n")

		req, _, err = transporttest.ReadRequest(r)
		if err != nil {
			return
		}
		mu.Lock()
		types = append(types, messageType(req.Header.Get("Authorization")))
		mu.Unlock()
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 7\r\n\r\nwelcome")
	})

	rec := send(t, &transport.Request{
		URL: srv.URL("http", "/protected"),
		Authorization: []transport.Authorization{{
			Type:    transport.AuthMethodNTLM,
			Enabled: true,
			Config:  ntlmCredentials("CORP\\user"),
		}},
	}, nil)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, "welcome", string(resp.Payload))
	mu.Lock()
	assert.Equal(t, []byte{1, 3}, types)
	mu.Unlock()
	assert.Equal(t, 1, srv.Accepted())
}

func TestTransport_NTLMWithoutChallenge(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM\r\nContent-Length: 0\r\n\r\n"))

	rec := send(t, &transport.Request{
		URL:  srv.URL("http", "/"),
		Auth: &transport.LegacyAuth{Method: "ntlm", Username: "user", Password: "pw"},
	}, nil)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, 401, resp.Status)
	require.NotNil(t, resp.Auth)
	assert.Equal(t, transport.AuthMethodNTLM, resp.Auth.Method)
}

func TestTransport_ErrorKeepsPartialResponse(t *testing.T) {
	srv := transporttest.NewServer(t, respond("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nnot-hex\r\n"))

	rec := send(t, &transport.Request{URL: srv.URL("http", "/")}, nil)

	var perr *transport.ProtocolError
	require.True(t, errors.As(rec.Err(), &perr), "error: %v", rec.Err())
	require.NotNil(t, rec.Partial())
	assert.Equal(t, 200, rec.Partial().Status)
}

func TestTransport_ChainedAbsoluteRedirects(t *testing.T) {
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		req, _, err := transporttest.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		switch req.URL.Path {
		case "/first":
			io.WriteString(conn, "HTTP/1.1 302 Found\r\nLocation: http://"+req.Host+"/second\r\nContent-Length: 0\r\n\r\n")
		case "/second":
			io.WriteString(conn, "HTTP/1.1 302 Found\r\nLocation: http://"+req.Host+"/final\r\nContent-Length: 0\r\n\r\n")
		default:
			io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
		}
	})

	rec := send(t, &transport.Request{URL: srv.URL("http", "/first")}, nil)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, 200, resp.Status)
	require.Len(t, resp.Redirects, 2)
	for _, r := range resp.Redirects {
		assert.Equal(t, 302, r.Response.Status)
	}
	assert.Equal(t, srv.URL("http", "/second"), resp.Redirects[0].URL)
	assert.Equal(t, srv.URL("http", "/final"), resp.Redirects[1].URL)
	assert.Equal(t, srv.URL("http", "/final"), rec.Snapshot().URL)
	assert.Equal(t, 3, srv.Accepted())
}

func TestTransport_NTLMResendsReaderPayload(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for i := 0; i < 2; i++ {
			_, body, err := transporttest.ReadRequest(r)
			if err != nil {
				return
			}
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
			if i == 0 {
				io.WriteString(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM "+ntlmChallenge+"\r\nContent-Length: 0\r\n\r\n")
				continue
			}
			io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
		}
	})

	rec := send(t, &transport.Request{
		Method:  "POST",
		URL:     srv.URL("http", "/submit"),
		Payload: strings.NewReader("data=1"),
		Auth:    &transport.LegacyAuth{Method: "ntlm", Username: "user", Password: "pw"},
	}, nil)

	require.NotNil(t, rec.Response(), "error: %v", rec.Err())
	assert.Equal(t, 200, rec.Response().Status)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"data=1", "data=1"}, bodies)
}

func TestTransport_NTLMSecondUnauthorizedIsFinal(t *testing.T) {
	var (
		mu    sync.Mutex
		types []byte
	)
	srv := transporttest.NewServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for _, resp := range []string{
			"HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: NTLM " + ntlmChallenge + "\r\nContent-Length: 0\r\n\r\n",
			"HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"x\"\r\nContent-Length: 6\r\n\r\ndenied",
			"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n",
		} {
			req, _, err := transporttest.ReadRequest(r)
			if err != nil {
				return
			}
			mu.Lock()
			types = append(types, messageType(req.Header.Get("Authorization")))
			mu.Unlock()
			io.WriteString(conn, resp)
		}
	})

	rec := send(t, &transport.Request{
		URL:  srv.URL("http", "/"),
		Auth: &transport.LegacyAuth{Method: "ntlm", Username: "user", Password: "pw"},
	}, nil)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, 401, resp.Status)
	assert.Equal(t, "denied", string(resp.Payload))
	require.NotNil(t, resp.Auth)
	assert.Equal(t, "basic", resp.Auth.Method)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte{1, 3}, types)
}

func TestTransport_TunnelUnauthorizedWithoutLength(t *testing.T) {
	proxy := transporttest.NewServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		if _, _, err := transporttest.ReadRequest(r); err != nil {
			return
		}
		io.WriteString(conn, "HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"p\"\r\n\r\n")
		io.Copy(io.Discard, r)
	})
	opts := config.DefaultOptions()
	opts.Proxy = proxy.Addr

	rec := send(t, &transport.Request{URL: "https://example.test/"}, opts)

	resp := rec.Response()
	require.NotNil(t, resp, "error: %v", rec.Err())
	assert.Equal(t, 401, resp.Status)
	assert.Empty(t, resp.Payload)
	require.NotNil(t, resp.Auth)
	assert.Equal(t, "basic", resp.Auth.Method)
}
