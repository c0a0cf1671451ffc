package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		rules    []Rule
		expected string
	}{
		{
			name:     "no rules",
			url:      "http://api.domain.com/path",
			rules:    nil,
			expected: "http://api.domain.com/path",
		},
		{
			name:     "plain host replacement",
			url:      "http://api.domain.com/path",
			rules:    []Rule{{From: "api.domain.com", To: "127.0.0.1"}},
			expected: "http://127.0.0.1/path",
		},
		{
			name:     "case insensitive",
			url:      "http://API.Domain.com/path",
			rules:    []Rule{{From: "api.domain.com", To: "localhost"}},
			expected: "http://localhost/path",
		},
		{
			name:     "wildcard",
			url:      "http://sub.domain.com/path",
			rules:    []Rule{{From: "*.domain.com", To: "localhost"}},
			expected: "http://localhost/path",
		},
		{
			name:     "wildcard capture",
			url:      "http://api.domain.com/v1",
			rules:    []Rule{{From: "http://*.domain.com", To: "https://$1.test"}},
			expected: "https://api.test/v1",
		},
		{
			name:     "capture followed by letters",
			url:      "http://api.domain.com/v1",
			rules:    []Rule{{From: "http://*.domain.com", To: "http://$1abc.local"}},
			expected: "http://apiabc.local/v1",
		},
		{
			name:     "single group with two digits",
			url:      "http://api.domain.com/",
			rules:    []Rule{{From: "http://*.domain.com", To: "http://$12.local"}},
			expected: "http://api2.local/",
		},
		{
			name:     "non matching rule skipped",
			url:      "http://api.domain.com/",
			rules:    []Rule{{From: "other.com", To: "x.com"}},
			expected: "http://api.domain.com/",
		},
		{
			name: "rules chain",
			url:  "http://a.com/",
			rules: []Rule{
				{From: "a.com", To: "b.com"},
				{From: "b.com", To: "c.com"},
			},
			expected: "http://c.com/",
		},
		{
			name: "incomplete rules ignored",
			url:  "http://a.com/",
			rules: []Rule{
				{From: "a.com"},
				{To: "b.com"},
			},
			expected: "http://a.com/",
		},
		{
			name:     "invalid pattern ignored",
			url:      "http://a.com/",
			rules:    []Rule{{From: "a.com(", To: "b.com"}},
			expected: "http://a.com/",
		},
		{
			name:     "metacharacters are significant",
			url:      "http://axcom/",
			rules:    []Rule{{From: "a.com", To: "b.com"}},
			expected: "http://b.com/",
		},
		{
			name:     "every match replaced",
			url:      "http://a.com/?r=a.com",
			rules:    []Rule{{From: "a.com", To: "b.com"}},
			expected: "http://b.com/?r=b.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Apply(tt.url, tt.rules))
		})
	}
}

func TestGroupRefs(t *testing.T) {
	assert.Equal(t, "${1}abc", groupRefs("$1abc", 1))
	assert.Equal(t, "${12}", groupRefs("$12", 12))
	assert.Equal(t, "${1}2", groupRefs("$12", 1))
	assert.Equal(t, "$$1 ${2}", groupRefs("$$1 ${2}", 2))
	assert.Equal(t, "cost$", groupRefs("cost$", 0))
}
