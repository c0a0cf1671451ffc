package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	"github.com/abdul-hamid-achik/hitwire/packages/history"
	"github.com/abdul-hamid-achik/hitwire/packages/observability"
	"github.com/abdul-hamid-achik/hitwire/packages/output"
)

func newTestSender(t *testing.T, f *requestFlags) *sender {
	t.Helper()
	log := zerolog.Nop()
	opts := config.DefaultOptions()
	opts.Timeout = 3000
	return &sender{flags: f, opts: opts, log: &log}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runJSON runs target through s and decodes the JSON output.
func runJSON(t *testing.T, s *sender, target string) (int, output.JSONOutput) {
	t.Helper()
	var buf bytes.Buffer
	f := output.NewJSONFormatter(output.JSONWithWriter(&buf))
	code, err := s.run(context.Background(), target, f)
	require.NoError(t, err)
	require.NoError(t, f.Flush())

	var out output.JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), buf.String())
	return code, out
}

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/login":
			body, _ := io.ReadAll(r.Body)
			if r.Method != http.MethodPost || !strings.Contains(string(body), `"alice"`) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			io.WriteString(w, `{"token":"abc123"}`)
		case "/me":
			if r.Header.Get("Authorization") != "Bearer abc123" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"error":"no token"}`)
				return
			}
			io.WriteString(w, `{"id":7,"name":"alice"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const chainedDescriptor = `
requests:
  - name: login
    method: post
    url: "{{base}}/login"
    json:
      user: alice
    select:
      - token=token
  - name: me
    url: "{{base}}/me"
    headers:
      Authorization: "Bearer {{login.token}}"
    select:
      - name
`

func TestSender_ChainedRequests(t *testing.T) {
	srv := apiServer(t)
	path := writeFile(t, t.TempDir(), "api.yaml", chainedDescriptor)

	s := newTestSender(t, &requestFlags{vars: []string{"base=" + srv.URL}})
	code, out := runJSON(t, s, path)

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, output.JSONSummary{Total: 2, Passed: 2}, out.Summary)
	require.Len(t, out.Exchanges, 2)
	assert.Equal(t, "POST", out.Exchanges[0].Method)
	assert.Equal(t, map[string]any{"token": "abc123"}, out.Exchanges[0].Captures)
	require.NotNil(t, out.Exchanges[1].Response)
	assert.Equal(t, 200, out.Exchanges[1].Response.Status)
	assert.Equal(t, map[string]any{"name": "alice"}, out.Exchanges[1].Captures)
}

func TestSender_SchemaFailure(t *testing.T) {
	srv := apiServer(t)
	dir := t.TempDir()
	writeFile(t, dir, "me.schema.json", `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {"id": {"type": "string"}}
	}`)
	path := writeFile(t, dir, "me.yaml", `
url: "{{base}}/me"
headers:
  Authorization: Bearer abc123
schema: me.schema.json
`)

	s := newTestSender(t, &requestFlags{vars: []string{"base=" + srv.URL}})
	code, out := runJSON(t, s, path)

	assert.Equal(t, ExitCheckFailure, code)
	require.Len(t, out.Exchanges, 1)
	assert.False(t, out.Exchanges[0].Passed)
	assert.NotEmpty(t, out.Exchanges[0].Schema)

	// the flag schema replaces the descriptor one
	s.schema = writeFile(t, dir, "any.schema.json", `{"type": "object"}`)
	code, _ = runJSON(t, s, path)
	assert.Equal(t, ExitSuccess, code)
}

func TestSender_Expectations(t *testing.T) {
	srv := apiServer(t)
	path := writeFile(t, t.TempDir(), "api.yaml", chainedDescriptor+`    expect:
      - status == 200
      - body.name == {{login.token}}
`)

	s := newTestSender(t, &requestFlags{vars: []string{"base=" + srv.URL}})
	s.expects = []*assertions.Assertion{assertions.MustParse("header Content-Type contains json")}
	code, out := runJSON(t, s, path)

	assert.Equal(t, ExitCheckFailure, code)
	require.Len(t, out.Exchanges, 2)
	assert.True(t, out.Exchanges[0].Passed)
	require.Len(t, out.Exchanges[0].Assertions, 1)

	me := out.Exchanges[1]
	assert.False(t, me.Passed)
	require.Len(t, me.Assertions, 3)
	assert.True(t, me.Assertions[0].Passed)
	assert.Equal(t, "body.name == abc123", me.Assertions[1].Expression)
	assert.Equal(t, "expected abc123, got alice", me.Assertions[1].Message)
	assert.True(t, me.Assertions[2].Passed)
}

func TestSender_NetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := newTestSender(t, &requestFlags{})
	code, out := runJSON(t, s, "http://"+addr+"/")

	assert.Equal(t, ExitNetworkError, code)
	require.Len(t, out.Exchanges, 1)
	assert.NotEmpty(t, out.Exchanges[0].Error)
	assert.Nil(t, out.Exchanges[0].Response)
}

func TestSender_ParseError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "requests: []\n")

	s := newTestSender(t, &requestFlags{})
	var buf bytes.Buffer
	code, err := s.run(context.Background(), path, output.NewJSONFormatter(output.JSONWithWriter(&buf)))

	assert.Equal(t, ExitParseError, code)
	assert.Error(t, err)
}

func TestSender_Bail(t *testing.T) {
	srv := apiServer(t)
	path := writeFile(t, t.TempDir(), "api.yaml", `
requests:
  - url: "{{base}}/login"
  - url: "{{base}}/me"
`)

	s := newTestSender(t, &requestFlags{vars: []string{"base=" + srv.URL}, data: "@missing-file"})
	s.bail = true
	code, out := runJSON(t, s, path)

	assert.Equal(t, ExitConfigError, code)
	assert.Empty(t, out.Exchanges)
}

func TestSender_HistoryAndMetrics(t *testing.T) {
	srv := apiServer(t)
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.db"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	s := newTestSender(t, &requestFlags{vars: []string{"base=" + srv.URL}})
	s.store = store
	s.metrics = observability.NewMetrics()
	path := writeFile(t, dir, "api.yaml", chainedDescriptor)

	code, _ := runJSON(t, s, path)
	require.Equal(t, ExitSuccess, code)

	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, srv.URL+"/me", entries[0].URL)
	assert.Equal(t, 200, entries[0].Status)
	assert.Equal(t, "POST", entries[1].Method)

	textfile := filepath.Join(dir, "metrics.prom")
	require.NoError(t, s.metrics.WriteTextfile(textfile))
	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `hitwire_requests_total{method="POST",status="200"} 1`)
	assert.Contains(t, string(data), `hitwire_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, string(data), "hitwire_requests_in_flight 0")
}

func TestSender_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s := newTestSender(t, &requestFlags{})
	s.metrics = observability.NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	var buf bytes.Buffer
	code, err := s.run(ctx, srv.URL, output.NewJSONFormatter(output.JSONWithWriter(&buf)))

	require.NoError(t, err)
	assert.Equal(t, ExitNetworkError, code)
	textfile := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, s.metrics.WriteTextfile(textfile))
	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hitwire_requests_in_flight 0")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, buf.String(), "hitwire version dev")
}

func TestHistoryCommand_JSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(db, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &history.Entry{RequestID: "r1", Method: "GET", URL: "http://a.test", Status: 204}))
	require.NoError(t, store.Close())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"history", "--db", db, "-o", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var entries []history.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "http://a.test", entries[0].URL)
	assert.Equal(t, 204, entries[0].Status)
}

func TestPrintEntries(t *testing.T) {
	noColorFlag = true
	t.Cleanup(func() { noColorFlag = false })
	var buf bytes.Buffer

	printEntries(&buf, []*history.Entry{
		{ID: "1", Method: "GET", URL: "http://a.test", Status: 200, StatusText: "OK", LoadingTime: 12, ResponseSize: 5, Redirects: 1},
		{ID: "2", Method: "POST", URL: "http://b.test", Error: "Connection closed without receiving any data"},
	})

	out := buf.String()
	assert.Contains(t, out, "GET http://a.test")
	assert.Contains(t, out, "200 OK (12ms, 5 B, 1 redirects)")
	assert.Contains(t, out, "✗ Connection closed without receiving any data")

	buf.Reset()
	printEntries(&buf, nil)
	assert.Equal(t, "No exchanges recorded.\n", buf.String())
}

func TestImportCurlCommand(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "cmds.sh", "curl -X POST https://api.test/login -d 'a=1'\ncurl https://api.test/me\n")
	dst := filepath.Join(dir, "out", "api.yaml")

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"import", "curl", src, "-o", dst, "--no-expect"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		importOutputFlag, importNoExpectFlag = "", false
	})

	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "Imported 2 requests to "+dst+"\n", buf.String())
	file, err := loadTarget(dst)
	require.NoError(t, err)
	require.Len(t, file.Requests, 2)
	assert.Equal(t, "post_login", file.Requests[0].Name)
	assert.Empty(t, file.Requests[0].Expect)
}

func TestCompleteDescriptorFiles(t *testing.T) {
	exts, directive := completeDescriptorFiles(sendCmd, nil, "")
	assert.Equal(t, []string{"yaml", "yml", "json"}, exts)
	assert.Equal(t, cobra.ShellCompDirectiveFilterFileExt, directive)

	exts, directive = completeDescriptorFiles(sendCmd, []string{"api.yaml"}, "")
	assert.Empty(t, exts)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestCompletionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"completion", "bash"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, buf.String(), "hitwire")
}
