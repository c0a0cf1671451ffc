package vars

import (
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv reads variables from a .env file. Blank lines, # comments and
// lines without a name are ignored, an "export " prefix is dropped and a
// value wrapped in matching single or double quotes is unwrapped. The
// process environment is left untouched.
func LoadDotEnv(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open env file: %w", err)
	}

	env := make(map[string]any)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		name, value, ok := assignment(strings.TrimPrefix(line, "export "))
		if !ok {
			continue
		}
		env[name] = unquote(strings.TrimSpace(value))
	}
	return env, nil
}

// ParseAssignments turns --var style "name=value" pairs into variables.
// The value is kept verbatim.
func ParseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := assignment(pair)
		if !ok {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}

func assignment(s string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	return name, value, ok && name != ""
}

func unquote(v string) string {
	if n := len(v); n >= 2 && (v[0] == '"' || v[0] == '\'') && v[n-1] == v[0] {
		return v[1 : n-1]
	}
	return v
}
