package vars

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func is a template function. Bad arguments are reported through warn and
// replaced by defaults.
type Func func(args []string, warn WarnFunc) any

// Registry maps function names to implementations.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry returns a registry holding the built-in functions.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]Func{
		"now":          clock(func(t time.Time) any { return t.UTC().Format(time.RFC3339) }),
		"timestamp":    clock(func(t time.Time) any { return t.Unix() }),
		"timestampMs":  clock(func(t time.Time) any { return t.UnixMilli() }),
		"uuid":         func([]string, WarnFunc) any { return uuid.NewString() },
		"random":       randomInt,
		"randomString": randomString,
		"base64":       unary(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }),
		"sha256": unary(func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
		"urlEncode": unary(url.QueryEscape),
		"date": func(args []string, _ WarnFunc) any {
			layout := "2006-01-02"
			if len(args) > 0 {
				layout = args[0]
			}
			return time.Now().UTC().Format(layout)
		},
	}}
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

// Call evaluates an expression such as random(1, 10). ok is false when expr
// is not a call of a registered function.
func (r *Registry) Call(expr string, warn WarnFunc) (any, bool) {
	open := strings.IndexByte(expr, '(')
	if open <= 0 || !strings.HasSuffix(expr, ")") || !isIdent(expr[:open]) {
		return nil, false
	}
	fn, ok := r.funcs[expr[:open]]
	if !ok {
		return nil, false
	}
	if warn == nil {
		warn = func(string, ...any) {}
	}
	return fn(splitArgs(expr[open+1:len(expr)-1]), warn), true
}

func isIdent(s string) bool {
	for _, c := range s {
		if c != '_' && !('a' <= c && c <= 'z') && !('A' <= c && c <= 'Z') && !('0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// splitArgs splits on commas outside quotes. Quotes are removed and every
// argument is trimmed.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var (
		args  []string
		arg   strings.Builder
		quote rune
	)
	for _, c := range s {
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && c == ',':
			args = append(args, strings.TrimSpace(arg.String()))
			arg.Reset()
		default:
			arg.WriteRune(c)
		}
	}
	if arg.Len() > 0 {
		args = append(args, strings.TrimSpace(arg.String()))
	}
	return args
}

func clock(f func(time.Time) any) Func {
	return func([]string, WarnFunc) any { return f(time.Now()) }
}

// unary applies f to the first argument, or yields "" without one.
func unary(f func(string) string) Func {
	return func(args []string, _ WarnFunc) any {
		if len(args) == 0 {
			return ""
		}
		return f(args[0])
	}
}

func argInt(fn string, args []string, i, fallback int, warn WarnFunc) int {
	if i >= len(args) {
		return fallback
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		warn("%s() argument %q is not a valid integer", fn, args[i])
		return fallback
	}
	return n
}

// randomInt returns an integer in [min, max], 0 and 100 by default.
func randomInt(args []string, warn WarnFunc) any {
	lo, hi := argInt("random", args, 0, 0, warn), argInt("random", args, 1, 100, warn)
	if hi < lo {
		warn("random() max %d is below min %d", hi, lo)
		lo, hi = hi, lo
	}
	return lo + rand.Intn(hi-lo+1)
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(args []string, warn WarnFunc) any {
	out := make([]byte, max(argInt("randomString", args, 0, 16, warn), 0))
	for i := range out {
		out[i] = letters[rand.Intn(len(letters))]
	}
	return string(out)
}
