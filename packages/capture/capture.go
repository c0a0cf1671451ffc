package capture

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/headers"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
	"github.com/tidwall/gjson"
)

// Source is the part of a response a capture reads.
type Source string

const (
	SourceBody     Source = "body"
	SourceHeader   Source = "header"
	SourceStatus   Source = "status"
	SourceDuration Source = "duration"
)

// Capture names one value to pull out of a response.
type Capture struct {
	Name   string
	Source Source
	Path   string
}

// Parse reads a capture expression. "status" and "duration" select those
// values, "header:<name>" a response header and anything else a gjson path
// into the body. A "name=" prefix names the capture; the expression itself
// is the default name.
func Parse(expr string) Capture {
	expr = strings.TrimSpace(expr)
	name := expr
	if n, rest, ok := strings.Cut(expr, "="); ok && n != "" && !strings.ContainsAny(n, ".#|@") {
		name, expr = strings.TrimSpace(n), strings.TrimSpace(rest)
	}
	c := Capture{Name: name, Source: SourceBody, Path: expr}
	switch {
	case expr == string(SourceStatus):
		c.Source, c.Path = SourceStatus, ""
	case expr == string(SourceDuration):
		c.Source, c.Path = SourceDuration, ""
	case strings.HasPrefix(expr, "header:"):
		c.Source, c.Path = SourceHeader, strings.TrimPrefix(expr, "header:")
	}
	return c
}

type Extractor struct {
	response *transport.Response
	headers  *headers.Headers
	bodyJSON gjson.Result
}

func NewExtractor(resp *transport.Response) *Extractor {
	e := &Extractor{
		response: resp,
		headers:  headers.Parse(resp.Headers),
	}
	if gjson.ValidBytes(resp.Payload) {
		e.bodyJSON = gjson.ParseBytes(resp.Payload)
	}
	return e
}

func (e *Extractor) Extract(capture Capture) (any, bool) {
	switch capture.Source {
	case SourceBody:
		return e.extractFromBody(capture.Path)
	case SourceHeader:
		return e.extractFromHeader(capture.Path)
	case SourceStatus:
		return e.response.Status, true
	case SourceDuration:
		return e.response.LoadingTime, true
	default:
		return nil, false
	}
}

func (e *Extractor) extractFromBody(path string) (any, bool) {
	if !e.bodyJSON.Exists() {
		if path == "" {
			return string(e.response.Payload), true
		}
		return nil, false
	}

	if path == "" {
		return e.bodyJSON.Value(), true
	}

	result := e.bodyJSON.Get(path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

func (e *Extractor) extractFromHeader(name string) (any, bool) {
	value, ok := e.headers.Lookup(name)
	if !ok {
		return nil, false
	}
	return value, true
}

// ExtractAll runs every capture and returns the values found by name.
func ExtractAll(resp *transport.Response, captures []Capture) map[string]any {
	extractor := NewExtractor(resp)
	results := make(map[string]any)

	for _, c := range captures {
		if value, ok := extractor.Extract(c); ok {
			results[c.Name] = value
		}
	}

	return results
}

// Raw returns the captured body value as JSON text, or the plain value for
// the other sources.
func Raw(resp *transport.Response, c Capture) (string, bool) {
	if c.Source == SourceBody && c.Path != "" {
		if !gjson.ValidBytes(resp.Payload) {
			return "", false
		}
		result := gjson.GetBytes(resp.Payload, c.Path)
		return result.Raw, result.Exists()
	}
	value, ok := NewExtractor(resp).Extract(c)
	if !ok {
		return "", false
	}
	return fmt.Sprint(value), true
}
