package capture

import (
	"testing"

	"github.com/abdul-hamid-achik/hitwire/packages/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse() *transport.Response {
	return &transport.Response{
		Status:      201,
		Headers:     "Content-Type: application/json\nX-Request-Id: abc",
		Payload:     []byte(`{"id":7,"user":{"name":"ada"},"tags":["a","b"]}`),
		LoadingTime: 12.5,
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		expr string
		want Capture
	}{
		{"user.name", Capture{Name: "user.name", Source: SourceBody, Path: "user.name"}},
		{"name=user.name", Capture{Name: "name", Source: SourceBody, Path: "user.name"}},
		{"status", Capture{Name: "status", Source: SourceStatus}},
		{"code=status", Capture{Name: "code", Source: SourceStatus}},
		{"duration", Capture{Name: "duration", Source: SourceDuration}},
		{"header:X-Request-Id", Capture{Name: "header:X-Request-Id", Source: SourceHeader, Path: "X-Request-Id"}},
		{`tags.#(=="a")`, Capture{Name: `tags.#(=="a")`, Source: SourceBody, Path: `tags.#(=="a")`}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(tt.expr), tt.expr)
	}
}

func TestExtractAll(t *testing.T) {
	got := ExtractAll(jsonResponse(), []Capture{
		Parse("id"),
		Parse("name=user.name"),
		Parse("status"),
		Parse("duration"),
		Parse("rid=header:x-request-id"),
		Parse("missing"),
		Parse("header:X-Missing"),
	})

	assert.Equal(t, map[string]any{
		"id":       float64(7),
		"name":     "ada",
		"status":   201,
		"duration": 12.5,
		"rid":      "abc",
	}, got)
}

func TestExtract_PlainBody(t *testing.T) {
	resp := &transport.Response{Payload: []byte("plain text")}
	e := NewExtractor(resp)

	v, ok := e.Extract(Capture{Source: SourceBody})
	require.True(t, ok)
	assert.Equal(t, "plain text", v)

	_, ok = e.Extract(Capture{Source: SourceBody, Path: "a"})
	assert.False(t, ok)
}

func TestRaw(t *testing.T) {
	raw, ok := Raw(jsonResponse(), Parse("user"))
	require.True(t, ok)
	assert.Equal(t, `{"name":"ada"}`, raw)

	raw, ok = Raw(jsonResponse(), Parse("status"))
	require.True(t, ok)
	assert.Equal(t, "201", raw)

	_, ok = Raw(&transport.Response{Payload: []byte("nope")}, Parse("a"))
	assert.False(t, ok)
}
