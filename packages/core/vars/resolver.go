package vars

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"
	"sync"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// WarnFunc is called for templates that cannot be resolved.
type WarnFunc func(format string, args ...any)

// Resolver resolves templates against variables, captures, the environment
// and built-in functions. It is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]any
	captures  map[string]any
	funcs     *Registry
	warnFunc  WarnFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]any),
		captures:  make(map[string]any),
		funcs:     NewRegistry(),
	}
}

// SetWarnFunc sets the function called for unresolved templates.
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	r.mu.RLock()
	fn := r.warnFunc
	r.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

// SetVariables adds vars, replacing existing ones with the same name.
func (r *Resolver) SetVariables(vars map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.variables, vars)
}

// SetCapture stores a value captured from the response of the named
// request. It is reachable as both request.name and name.
func (r *Resolver) SetCapture(request, name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request != "" {
		r.captures[request+"."+name] = value
	}
	r.captures[name] = value
}

// Lookup returns a capture or variable. Captures win.
func (r *Resolver) Lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.captures[name]; ok {
		return v, true
	}
	v, ok := r.variables[name]
	return v, ok
}

// Resolve replaces every {{...}} template in input. Templates that cannot
// be resolved are reported through the warn function and left in place.
func (r *Resolver) Resolve(input string) string {
	if !strings.Contains(input, "{{") {
		return input
	}
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		if v, ok := r.expand(strings.TrimSpace(match[2 : len(match)-2])); ok {
			return v
		}
		return match
	})
}

// expand evaluates one template expression: $NAME reads the environment,
// name(args) calls a function and anything else is a capture or variable.
func (r *Resolver) expand(expr string) (string, bool) {
	if name, ok := strings.CutPrefix(expr, "$"); ok {
		v, found := os.LookupEnv(name)
		if !found {
			r.warn("unresolved environment variable: $%s", name)
		}
		return v, found
	}
	if strings.Contains(expr, "(") {
		v, found := r.funcs.Call(expr, r.warn)
		if !found {
			r.warn("unresolved function call: %s", expr)
			return "", false
		}
		return fmt.Sprint(v), true
	}
	v, found := r.Lookup(expr)
	if !found {
		r.warn("unresolved variable: %s", expr)
		return "", false
	}
	return fmt.Sprint(v), true
}

// ResolveValue resolves the strings inside v, walking maps and slices as
// decoded from YAML or JSON. Other values are returned unchanged.
func (r *Resolver) ResolveValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.Resolve(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[r.Resolve(k)] = r.ResolveValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.ResolveValue(item)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[r.Resolve(k)] = r.Resolve(item)
		}
		return out
	}
	return v
}

// Clone returns an independent copy sharing the warn function.
func (r *Resolver) Clone() *Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Resolver{
		variables: maps.Clone(r.variables),
		captures:  maps.Clone(r.captures),
		funcs:     r.funcs,
		warnFunc:  r.warnFunc,
	}
}
