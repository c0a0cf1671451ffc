package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Exchange is one finished request as reported to its Listener, plus what
// the CLI derived from the response.
type Exchange struct {
	ID       string
	Method   string
	URL      string
	Response *transport.Response
	Snapshot *transport.Snapshot
	Partial  *transport.PartialResponse
	Err      error
	// Captures holds the values selected from the response.
	Captures map[string]any
	// Schema is the result of validating the response body, when asked.
	Schema error
	// Assertions are the evaluated expectations of the request.
	Assertions []*assertions.Result
}

// Passed reports whether the response loaded, matched its schema and met
// every expectation.
func (x *Exchange) Passed() bool {
	return x.Err == nil && x.Response != nil && x.Schema == nil && len(assertions.Failed(x.Assertions)) == 0
}

// Status returns the final or partial status, 0 when none was received.
func (x *Exchange) Status() int {
	switch {
	case x.Response != nil:
		return x.Response.Status
	case x.Partial != nil:
		return x.Partial.Status
	}
	return 0
}

// Formatter renders exchanges.
type Formatter interface {
	FormatHeader(version string)
	FormatExchange(x *Exchange)
	FormatError(err error)
}

// Flushable is implemented by formatters that write everything at the end.
type Flushable interface {
	Flush() error
}

// Format names.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatTAP     = "tap"
)

// Options configures New.
type Options struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
	NoBody  bool
}

// New returns the formatter for format.
func New(format string, opts Options) (Formatter, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	switch strings.ToLower(format) {
	case "", FormatConsole:
		return NewConsoleFormatter(
			WithWriter(w),
			WithVerbose(opts.Verbose),
			WithNoColor(opts.NoColor),
			WithBody(!opts.NoBody),
		), nil
	case FormatJSON:
		return NewJSONFormatter(JSONWithWriter(w), JSONWithBody(!opts.NoBody)), nil
	case FormatTAP:
		return NewTAPFormatter(TAPWithWriter(w)), nil
	}
	return nil, fmt.Errorf("unknown output format %q (want console, json or tap)", format)
}

func describe(x *Exchange) string {
	method := x.Method
	if method == "" {
		method = "GET"
	}
	return strings.ToUpper(method) + " " + x.URL
}
