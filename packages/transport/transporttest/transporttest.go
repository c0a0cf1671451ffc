// Package transporttest provides helpers for testing transports: an event
// recording Listener, raw TCP and TLS servers and self signed certificates.
package transporttest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Recorder is a Listener that records every event.
type Recorder struct {
	// CancelHeaders makes HeadersReceived cancel the request.
	CancelHeaders bool
	// CancelRedirect makes BeforeRedirect cancel the redirect.
	CancelRedirect bool

	mu        sync.Mutex
	events    []string
	locations []string
	response  *transport.Response
	snapshot  *transport.Snapshot
	err       error
	partial   *transport.PartialResponse
	done      chan struct{}
	once      sync.Once
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{done: make(chan struct{})}
}

func (r *Recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *Recorder) LoadStart(id string) { r.add("loadstart") }

func (r *Recorder) FirstByte(id string) { r.add("firstbyte") }

func (r *Recorder) HeadersReceived(id string, headers string) bool {
	r.add("headers")
	return !r.CancelHeaders
}

func (r *Recorder) BeforeRedirect(id string, location string) bool {
	r.mu.Lock()
	r.locations = append(r.locations, location)
	r.mu.Unlock()
	r.add("beforeredirect")
	return !r.CancelRedirect
}

func (r *Recorder) Load(id string, resp *transport.Response, snap *transport.Snapshot) {
	r.mu.Lock()
	r.response = resp
	r.snapshot = snap
	r.mu.Unlock()
	r.add("load")
}

func (r *Recorder) Error(id string, err error, snap *transport.Snapshot, partial *transport.PartialResponse) {
	r.mu.Lock()
	r.err = err
	r.snapshot = snap
	r.partial = partial
	r.mu.Unlock()
	r.add("error")
}

func (r *Recorder) LoadEnd(id string) {
	r.add("loadend")
	r.once.Do(func() { close(r.done) })
}

// Wait blocks until LoadEnd or the timeout. It reports whether LoadEnd came.
func (r *Recorder) Wait(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Events returns the recorded event names in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Locations returns the redirect locations seen by BeforeRedirect.
func (r *Recorder) Locations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.locations...)
}

// Response returns the loaded response.
func (r *Recorder) Response() *transport.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Snapshot returns the snapshot of the final event.
func (r *Recorder) Snapshot() *transport.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Err returns the reported error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Partial returns the partial response reported with the error.
func (r *Recorder) Partial() *transport.PartialResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// Server is a raw TCP server that hands every accepted connection to a
// handler.
type Server struct {
	Addr string

	ln       net.Listener
	accepted atomic.Int32
	wg       sync.WaitGroup
}

// NewServer starts a server on a random local port. It is closed when the
// test ends.
func NewServer(t testing.TB, handler func(conn net.Conn)) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serve(t, ln, handler)
}

// NewTLSServer starts a TLS server using cert.
func NewTLSServer(t testing.TB, cert tls.Certificate, handler func(conn net.Conn)) *Server {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serve(t, ln, handler)
}

func serve(t testing.TB, ln net.Listener, handler func(conn net.Conn)) *Server {
	s := &Server{Addr: ln.Addr().String(), ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepted.Add(1)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer conn.Close()
				handler(conn)
			}()
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// URL returns scheme://addr + path.
func (s *Server) URL(scheme, path string) string {
	return scheme + "://" + s.Addr + path
}

// Accepted is the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Close stops accepting connections.
func (s *Server) Close() {
	s.ln.Close()
}

// ReadRequest reads one request and its content-length delimited body.
func ReadRequest(r *bufio.Reader) (*http.Request, []byte, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, nil, err
	}
	defer req.Body.Close()
	var body []byte
	if req.ContentLength > 0 {
		body = make([]byte, req.ContentLength)
		if _, err := io.ReadFull(req.Body, body); err != nil {
			return nil, nil, err
		}
	}
	return req, body, nil
}

// Certificate is a self signed certificate with its pem encoding.
type Certificate struct {
	TLS     tls.Certificate
	Leaf    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM []byte
	KeyPEM  []byte
}

// SelfSigned creates a certificate valid for the given DNS names and
// 127.0.0.1.
func SelfSigned(t testing.TB, names ...string) *Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "hitwire test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     names,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	c := &Certificate{
		Leaf:    leaf,
		Key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
	c.TLS = tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
	return c
}
