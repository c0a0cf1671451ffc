package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/assertions"
	"github.com/abdul-hamid-achik/hitwire/packages/capture"
)

// TAPFormatter writes TAP version 13. Test points are buffered because the
// plan line must carry the final count.
type TAPFormatter struct {
	writer io.Writer
	count  int
	points strings.Builder
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{writer: os.Stdout}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) { f.writer = w }
}

// FormatExchange records one test point. Failed points carry a YAML
// diagnostic block with the status, the transport error and every schema
// or expectation failure.
func (f *TAPFormatter) FormatExchange(x *Exchange) {
	f.count++
	if x.Passed() {
		fmt.Fprintf(&f.points, "ok %d - %s\n", f.count, describe(x))
		return
	}

	fmt.Fprintf(&f.points, "not ok %d - %s\n", f.count, describe(x))
	f.points.WriteString("  ---\n")
	if status := x.Status(); status != 0 {
		fmt.Fprintf(&f.points, "  status: %d\n", status)
	}
	if x.Err != nil {
		fmt.Fprintf(&f.points, "  message: %s\n", tapScalar(x.Err.Error()))
		f.points.WriteString("  severity: error\n")
	}
	if failures := exchangeFailures(x); len(failures) > 0 {
		f.points.WriteString("  failures:\n")
		for _, msg := range failures {
			fmt.Fprintf(&f.points, "    - %s\n", tapScalar(msg))
		}
	}
	f.points.WriteString("  ...\n")
}

func (f *TAPFormatter) FormatError(error) {}

func (f *TAPFormatter) FormatHeader(string) {}

// Flush writes the version line, the plan and all recorded points.
func (f *TAPFormatter) Flush() error {
	_, err := fmt.Fprintf(f.writer, "TAP version 13\n1..%d\n%s\n", f.count, f.points.String())
	return err
}

func exchangeFailures(x *Exchange) []string {
	var out []string
	if x.Schema != nil {
		var schemaErr *capture.SchemaError
		if errors.As(x.Schema, &schemaErr) {
			out = append(out, schemaErr.Violations...)
		} else {
			out = append(out, x.Schema.Error())
		}
	}
	for _, r := range assertions.Failed(x.Assertions) {
		out = append(out, r.String())
	}
	return out
}

// tapScalar double quotes values a plain YAML scalar cannot hold.
func tapScalar(s string) string {
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		return strconv.Quote(s)
	}
	return s
}
