package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/abdul-hamid-achik/hitwire/packages/capture"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// formatValue formats a value for display, truncating or summarizing large values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	body    bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	bold   *color.Color
	dim    *color.Color
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
		body:   true,
	}
	for _, opt := range opts {
		opt(f)
	}
	newColor := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if f.noColor {
			c.DisableColor()
		}
		return c
	}
	f.green = newColor(color.FgGreen)
	f.red = newColor(color.FgRed)
	f.yellow = newColor(color.FgYellow)
	f.cyan = newColor(color.FgCyan)
	f.bold = newColor(color.Bold)
	f.dim = newColor(color.Faint)
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

// WithBody controls whether the response payload is printed.
func WithBody(b bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.body = b
	}
}

func (f *ConsoleFormatter) statusColor(status int) *color.Color {
	switch {
	case status >= 500:
		return f.red
	case status >= 400:
		return f.yellow
	case status >= 300:
		return f.cyan
	}
	return f.green
}

func (f *ConsoleFormatter) FormatExchange(x *Exchange) {
	fmt.Fprintf(f.writer, "\n%s\n", f.bold.Sprint(describe(x)))

	if x.Err != nil {
		fmt.Fprintf(f.writer, "  %s %s\n", f.red.Sprint("✗"), f.red.Sprint(x.Err))
		if x.Partial != nil && x.Partial.Status != 0 {
			fmt.Fprintf(f.writer, "  %s\n", f.dim.Sprintf("partial response: %d %s", x.Partial.Status, x.Partial.StatusText))
		}
		return
	}
	resp := x.Response
	if resp == nil {
		return
	}

	for _, r := range resp.Redirects {
		fmt.Fprintf(f.writer, "  %s %d → %s\n", f.cyan.Sprint("↪"), r.Response.Status, r.URL)
	}

	fmt.Fprintf(f.writer, "  %s %s\n",
		f.statusColor(resp.Status).Sprintf("%d %s", resp.Status, resp.StatusText),
		f.cyan.Sprintf("(%s, %s)", formatMillis(resp.LoadingTime), formatBytes(resp.Size.Response)))

	if resp.Auth != nil {
		fmt.Fprintf(f.writer, "  %s\n", f.yellow.Sprintf("authentication required: %s", resp.Auth.Method))
	}

	if f.verbose {
		f.formatTimings(resp.Timings)
		if x.Snapshot != nil && x.Snapshot.HTTPMessage != "" {
			fmt.Fprintf(f.writer, "  %s\n", f.dim.Sprint("Request:"))
			for _, line := range strings.Split(strings.TrimRight(x.Snapshot.HTTPMessage, "\r\n"), "\n") {
				fmt.Fprintf(f.writer, "    %s\n", strings.TrimRight(line, "\r"))
			}
		}
		if resp.Headers != "" {
			fmt.Fprintf(f.writer, "  %s\n", f.dim.Sprint("Headers:"))
			for _, line := range strings.Split(resp.Headers, "\n") {
				fmt.Fprintf(f.writer, "    %s\n", line)
			}
		}
	}

	if len(x.Captures) > 0 {
		names := make([]string, 0, len(x.Captures))
		for name := range x.Captures {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(f.writer, "  %s\n", f.dim.Sprint("Captures:"))
		for _, name := range names {
			fmt.Fprintf(f.writer, "    %s = %s\n", name, formatValue(x.Captures[name], 100))
		}
	} else if f.body && len(resp.Payload) > 0 {
		fmt.Fprintln(f.writer)
		fmt.Fprintln(f.writer, f.formatBody(resp.Payload))
	}

	for _, r := range x.Assertions {
		if r.Passed {
			if f.verbose {
				fmt.Fprintf(f.writer, "  %s %s\n", f.green.Sprint("✓"), r.Expression)
			}
			continue
		}
		fmt.Fprintf(f.writer, "  %s %s\n", f.red.Sprint("✗"), r.Expression)
		if r.Message != "" {
			fmt.Fprintf(f.writer, "    %s %s\n", f.red.Sprint("→"), r.Message)
		}
	}

	if x.Schema != nil {
		var schemaErr *capture.SchemaError
		if errors.As(x.Schema, &schemaErr) {
			fmt.Fprintf(f.writer, "  %s\n", f.red.Sprint("✗ schema"))
			for _, v := range schemaErr.Violations {
				fmt.Fprintf(f.writer, "    %s %s\n", f.red.Sprint("→"), v)
			}
		} else {
			fmt.Fprintf(f.writer, "  %s %v\n", f.red.Sprint("✗ schema"), x.Schema)
		}
	}
}

func (f *ConsoleFormatter) formatTimings(t transport.Timings) {
	parts := []struct {
		name  string
		value float64
	}{
		{"blocked", t.Blocked},
		{"dns", t.DNS},
		{"connect", t.Connect},
		{"ssl", t.SSL},
		{"send", t.Send},
		{"wait", t.Wait},
		{"receive", t.Receive},
	}
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		value := "-"
		if p.value >= 0 {
			value = formatMillis(p.value)
		}
		cells = append(cells, p.name+" "+value)
	}
	fmt.Fprintf(f.writer, "  %s %s\n", f.dim.Sprint("Timings:"), strings.Join(cells, " | "))
}

// formatBody pretty prints JSON payloads and returns anything else as is.
func (f *ConsoleFormatter) formatBody(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return string(payload)
	}
	out := pretty.Pretty(payload)
	if !f.noColor && !color.NoColor {
		out = pretty.Color(out, nil)
	}
	return strings.TrimRight(string(out), "\n")
}

func (f *ConsoleFormatter) FormatError(err error) {
	fmt.Fprintf(f.writer, "%s %v\n", f.red.Sprint("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	fmt.Fprintf(f.writer, "%s %s\n", f.bold.Sprint("hitwire"), version)
}

func formatMillis(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.0fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	}
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
