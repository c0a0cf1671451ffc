package assertions

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitwire/packages/capture"
	"github.com/abdul-hamid-achik/hitwire/packages/transport"
)

// Result is the outcome of one expectation.
type Result struct {
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Message    string `json:"message,omitempty"`
	Expected   any    `json:"expected,omitempty"`
	Actual     any    `json:"actual,omitempty"`
	Subject    string `json:"subject"`
	Operator   string `json:"operator"`
}

func (r *Result) String() string {
	if r.Message == "" {
		return r.Expression
	}
	return r.Expression + ": " + r.Message
}

// Evaluator checks expectations against one loaded response.
type Evaluator struct {
	extractor *capture.Extractor
	baseDir   string
}

type EvaluatorOption func(*Evaluator)

// WithBaseDir resolves schema files relative to dir and rejects the ones
// outside it.
func WithBaseDir(dir string) EvaluatorOption {
	return func(e *Evaluator) { e.baseDir = dir }
}

func NewEvaluator(resp *transport.Response, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{extractor: capture.NewExtractor(resp)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Evaluate(a *Assertion) *Result {
	actual := e.subject(a.Subject)
	msg := e.check(actual, a.Operator, a.Expected)

	r := &Result{
		Expression: a.String(),
		Passed:     msg == "",
		Message:    msg,
		Expected:   a.Expected,
		Actual:     actual,
		Subject:    a.Subject,
		Operator:   string(a.Operator),
	}
	if a.Operator == OpLength {
		r.Actual = lengthOf(actual)
	}
	return r
}

// subject extracts the value a subject names: status, duration, a header or
// a gjson path into the body. Missing values are nil.
func (e *Evaluator) subject(subject string) any {
	c := capture.Capture{Source: capture.SourceBody}
	switch {
	case subject == "status":
		c.Source = capture.SourceStatus
	case subject == "duration":
		c.Source = capture.SourceDuration
	case strings.HasPrefix(subject, "header "):
		c.Source = capture.SourceHeader
		c.Path = strings.TrimSpace(subject[len("header "):])
	case subject == "body":
	case strings.HasPrefix(subject, "body.") || strings.HasPrefix(subject, "body["):
		c.Path = convertBracketNotation(subject[len("body"):])
	default:
		c.Path = convertBracketNotation(subject)
	}

	if v, ok := e.extractor.Extract(c); ok {
		return v
	}
	return nil
}

var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// convertBracketNotation rewrites items[0].tags[1] as items.0.tags.1.
func convertBracketNotation(path string) string {
	return strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
}

// checkFunc returns "" when the check passes, otherwise why it failed.
type checkFunc func(actual, expected any) string

var checks = map[Operator]checkFunc{
	OpEquals:         equal,
	OpGreaterThan:    ordered(">", func(c int) bool { return c > 0 }),
	OpGreaterOrEqual: ordered(">=", func(c int) bool { return c >= 0 }),
	OpLessThan:       ordered("<", func(c int) bool { return c < 0 }),
	OpLessOrEqual:    ordered("<=", func(c int) bool { return c <= 0 }),
	OpContains:       text(strings.Contains, "contain"),
	OpStartsWith:     text(strings.HasPrefix, "start with"),
	OpEndsWith:       text(strings.HasSuffix, "end with"),
	OpMatches:        matches,
	OpExists:         exists,
	OpLength:         length,
	OpIncludes:       includes,
	OpIn:             in,
	OpType:           typeIs,
}

// negated maps each negative operator to the check it inverts.
var negated = map[Operator]struct {
	of   Operator
	verb string
}{
	OpNotEquals:   {OpEquals, "equal"},
	OpNotContains: {OpContains, "contain"},
	OpNotIncludes: {OpIncludes, "include"},
	OpNotIn:       {OpIn, "be in"},
	OpNotExists:   {OpExists, "exist"},
}

func (e *Evaluator) check(actual any, op Operator, expected any) string {
	switch op {
	case OpEach:
		return e.each(actual, expected)
	case OpSchema:
		return e.schema(actual, expected)
	}
	if n, ok := negated[op]; ok {
		if checks[n.of](actual, expected) != "" {
			return ""
		}
		if op == OpNotExists {
			return "expected not to exist"
		}
		return fmt.Sprintf("expected not to %s %v", n.verb, expected)
	}
	if c, ok := checks[op]; ok {
		return c(actual, expected)
	}
	return fmt.Sprintf("unknown operator: %v", op)
}

// equal accepts deep equality, equal numbers or equal renderings, so that
// 200 matches "200" and 1 matches 1.0.
func equal(actual, expected any) string {
	if reflect.DeepEqual(actual, expected) {
		return ""
	}
	a, aok := toFloat64(actual)
	b, bok := toFloat64(expected)
	if aok && bok && a == b {
		return ""
	}
	if actual != nil && fmt.Sprint(actual) == fmt.Sprint(expected) {
		return ""
	}
	return fmt.Sprintf("expected %v, got %v", expected, actual)
}

func ordered(symbol string, accept func(int) bool) checkFunc {
	return func(actual, expected any) string {
		a, aok := toFloat64(actual)
		b, bok := toFloat64(expected)
		if !aok || !bok {
			return fmt.Sprintf("cannot compare non-numeric values: %v %s %v", actual, symbol, expected)
		}
		if accept(cmp.Compare(a, b)) {
			return ""
		}
		return fmt.Sprintf("expected %v %s %v", actual, symbol, expected)
	}
}

func text(match func(s, part string) bool, verb string) checkFunc {
	return func(actual, expected any) string {
		if actual != nil && match(fmt.Sprint(actual), fmt.Sprint(expected)) {
			return ""
		}
		return fmt.Sprintf("expected '%v' to %s '%v'", actual, verb, expected)
	}
}

// matches takes a regular expression, optionally wrapped in slashes.
func matches(actual, expected any) string {
	pattern := strings.TrimSuffix(strings.TrimPrefix(fmt.Sprint(expected), "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Sprintf("invalid regex pattern: %v", err)
	}
	if actual != nil && re.MatchString(fmt.Sprint(actual)) {
		return ""
	}
	return fmt.Sprintf("expected '%v' to match /%v/", actual, pattern)
}

func exists(actual, _ any) string {
	if actual == nil {
		return "expected to exist"
	}
	return ""
}

// lengthOf returns -1 for values without a length.
func lengthOf(v any) int {
	switch v := v.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case map[string]any:
		return len(v)
	}
	return -1
}

func length(actual, expected any) string {
	want, ok := toInt(expected)
	if !ok {
		return fmt.Sprintf("expected length must be a number, got %v", expected)
	}
	got := lengthOf(actual)
	switch {
	case got < 0:
		return fmt.Sprintf("cannot get length of %T", actual)
	case got != want:
		return fmt.Sprintf("expected length %d, got %d", want, got)
	}
	return ""
}

func anyEqual(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) == "" {
			return true
		}
	}
	return false
}

func includes(actual, expected any) string {
	list, ok := actual.([]any)
	if !ok {
		return fmt.Sprintf("expected array, got %T", actual)
	}
	if !anyEqual(list, expected) {
		return fmt.Sprintf("expected array to include %v", expected)
	}
	return ""
}

func in(actual, expected any) string {
	list, ok := expected.([]any)
	if !ok {
		return fmt.Sprintf("expected array for 'in' operator, got %T", expected)
	}
	if !anyEqual(list, actual) {
		return fmt.Sprintf("expected %v to be in %v", actual, expected)
	}
	return ""
}

// jsonType names v the way JSON Schema does.
func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return reflect.TypeOf(v).String()
}

func typeIs(actual, expected any) string {
	if want, got := fmt.Sprint(expected), jsonType(actual); want != got {
		return fmt.Sprintf("expected type %s, got %s", want, got)
	}
	return ""
}

// each applies "<operator> <value>" to every element of an array. A plain
// value checks every element for equality.
func (e *Evaluator) each(actual, expected any) string {
	list, ok := actual.([]any)
	if !ok {
		return fmt.Sprintf("expected array for 'each' operator, got %T", actual)
	}

	op, value := OpEquals, expected
	if s, ok := expected.(string); ok {
		word, rest := nextField(s)
		if parsed, known := operators[strings.ToLower(word)]; known && parsed != OpEach {
			op, value = parsed, nil
			if rest != "" {
				value = parseValue(rest)
			}
		}
	}

	for i, item := range list {
		if msg := e.check(item, op, value); msg != "" {
			return fmt.Sprintf("item[%d]: %s", i, msg)
		}
	}
	return ""
}

func (e *Evaluator) schema(actual, expected any) string {
	path := fmt.Sprint(expected)
	if e.baseDir != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(e.baseDir, path)
		}
		if err := insideDir(path, e.baseDir); err != nil {
			return err.Error()
		}
	}

	schema, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("failed to read schema file: %v", err)
	}
	doc, err := json.Marshal(actual)
	if err != nil {
		return fmt.Sprintf("failed to marshal actual value: %v", err)
	}
	if err := capture.ValidateSchema(schema, doc); err != nil {
		return err.Error()
	}
	return ""
}

// insideDir fails when path resolves outside dir.
func insideDir(path, dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, dir)
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// EvaluateAll evaluates every assertion against resp.
func EvaluateAll(resp *transport.Response, list []*Assertion, opts ...EvaluatorOption) []*Result {
	e := NewEvaluator(resp, opts...)
	results := make([]*Result, 0, len(list))
	for _, a := range list {
		results = append(results, e.Evaluate(a))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []*Result) []*Result {
	var out []*Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
