package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectOptions(t *testing.T) {
	tests := []struct {
		status   int
		method   string
		redirect bool
		forceGet bool
	}{
		{300, "GET", false, false},
		{304, "GET", false, false},
		{305, "GET", false, false},
		{301, "GET", true, false},
		{301, "head", true, false},
		{301, "POST", false, false},
		{302, "GET", true, false},
		{302, "PUT", false, false},
		{307, "GET", true, false},
		{307, "POST", false, false},
		{303, "POST", true, true},
		{303, "GET", true, true},
		{308, "GET", false, false},
		{200, "GET", false, false},
	}
	for _, tt := range tests {
		d := RedirectOptions(tt.status, tt.method, "/next")
		assert.Equal(t, tt.redirect, d.Redirect, "%d %s", tt.status, tt.method)
		assert.Equal(t, tt.forceGet, d.ForceGet, "%d %s", tt.status, tt.method)
		assert.Equal(t, "/next", d.Location)
	}
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
		base     string
		expected string
		ok       bool
	}{
		{"absolute", "https://other.com/x", "http://h.test/a/b", "https://other.com/x", true},
		{"root relative", "/next", "http://h.test/a/b", "http://h.test/next", true},
		{"path relative", "c?d=1", "http://h.test/a/b", "http://h.test/a/c?d=1", true},
		{"scheme relative", "//cdn.test/p", "https://h.test/", "https://cdn.test/p", true},
		{"empty", "  ", "http://h.test/", "", false},
		{"relative base", "/next", "not a url", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveLocation(tt.location, tt.base)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsRedirectLoop(t *testing.T) {
	redirects := []*Redirect{{URL: "http://h.test/a"}, {URL: "http://h.test/b"}}

	assert.True(t, IsRedirectLoop("http://h.test/b", redirects))
	assert.False(t, IsRedirectLoop("http://h.test/c", redirects))
	assert.False(t, IsRedirectLoop("http://h.test/B", redirects))
	assert.False(t, IsRedirectLoop("http://h.test/a", nil))
}
