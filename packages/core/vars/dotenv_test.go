package vars

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\n" +
		"API_KEY=secret123\n" +
		"export HOST=http://api.test\n" +
		`QUOTED="with spaces"` + "\n" +
		`SINGLE='single'` + "\n" +
		"EMPTY=\n" +
		"novalue\n" +
		"=orphan\n" +
		"URL=http://x.test/?a=b\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	got, err := LoadDotEnv(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"API_KEY": "secret123",
		"HOST":    "http://api.test",
		"QUOTED":  "with spaces",
		"SINGLE":  "single",
		"EMPTY":   "",
		"URL":     "http://x.test/?a=b",
	}, got)
}

func TestLoadDotEnv_Missing(t *testing.T) {
	_, err := LoadDotEnv(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{"a=1", " b = two=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": " two=2"}, got)

	_, err = ParseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseAssignments([]string{"=x"})
	assert.Error(t, err)
}
