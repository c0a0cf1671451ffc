package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/capture"
	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary   JSONSummary    `json:"summary"`
	Exchanges []JSONExchange `json:"exchanges"`
	Time      string         `json:"time"`
}

// JSONSummary counts the exchanges
type JSONSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// JSONExchange represents a single exchange
type JSONExchange struct {
	ID         string                `json:"id,omitempty"`
	Method     string                `json:"method"`
	URL        string                `json:"url"`
	Passed     bool                  `json:"passed"`
	Error      string                `json:"error,omitempty"`
	Request    *transport.Snapshot   `json:"request,omitempty"`
	Response   *JSONResponse         `json:"response,omitempty"`
	Partial    *JSONResponse         `json:"partial,omitempty"`
	Captures   map[string]any        `json:"captures,omitempty"`
	Schema     []string              `json:"schemaViolations,omitempty"`
	Assertions []*assertions.Result `json:"assertions,omitempty"`
}

// JSONResponse represents response details. JSON payloads are embedded as
// is, anything else as a string.
type JSONResponse struct {
	Status      int                    `json:"status"`
	StatusText  string                 `json:"statusText"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Body        any                    `json:"body,omitempty"`
	LoadingTime float64                `json:"loadingTime"`
	Timings     *transport.Timings     `json:"timings,omitempty"`
	Size        *transport.Size        `json:"size,omitempty"`
	Redirects   []*transport.Redirect  `json:"redirects,omitempty"`
	Auth        *transport.AuthSummary `json:"auth,omitempty"`
}

// JSONFormatter formats exchanges as JSON
type JSONFormatter struct {
	writer    io.Writer
	body      bool
	exchanges []JSONExchange
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer:    os.Stdout,
		body:      true,
		exchanges: make([]JSONExchange, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

// JSONWithBody controls whether payloads are included.
func JSONWithBody(b bool) JSONOption {
	return func(f *JSONFormatter) {
		f.body = b
	}
}

func (f *JSONFormatter) FormatExchange(x *Exchange) {
	out := JSONExchange{
		ID:       x.ID,
		Method:   x.Method,
		URL:      x.URL,
		Passed:   x.Passed(),
		Request:  x.Snapshot,
		Captures: x.Captures,
	}
	if x.Err != nil {
		out.Error = x.Err.Error()
	}

	if resp := x.Response; resp != nil {
		timings := resp.Timings
		size := resp.Size
		out.Response = &JSONResponse{
			Status:      resp.Status,
			StatusText:  resp.StatusText,
			Headers:     headerMap(resp.Headers),
			LoadingTime: resp.LoadingTime,
			Timings:     &timings,
			Size:        &size,
			Redirects:   resp.Redirects,
			Auth:        resp.Auth,
		}
		if f.body {
			out.Response.Body = jsonBody(resp.Payload)
		}
	}
	if p := x.Partial; p != nil && p.Status != 0 {
		out.Partial = &JSONResponse{
			Status:     p.Status,
			StatusText: p.StatusText,
			Headers:    headerMap(p.Headers),
		}
		if f.body {
			out.Partial.Body = jsonBody(p.Payload)
		}
	}

	if x.Schema != nil {
		var schemaErr *capture.SchemaError
		if errors.As(x.Schema, &schemaErr) {
			out.Schema = schemaErr.Violations
		} else {
			out.Schema = []string{x.Schema.Error()}
		}
	}

	out.Assertions = x.Assertions

	f.exchanges = append(f.exchanges, out)
}

func headerMap(block string) map[string]string {
	if block == "" {
		return nil
	}
	return headers.Parse(block).Map()
}

func jsonBody(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if gjson.ValidBytes(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual exchanges
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush() error {
	var passed, failed int
	for _, x := range f.exchanges {
		if x.Passed {
			passed++
		} else {
			failed++
		}
	}

	output := JSONOutput{
		Summary: JSONSummary{
			Total:  len(f.exchanges),
			Passed: passed,
			Failed: failed,
		},
		Exchanges: f.exchanges,
		Time:      time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
