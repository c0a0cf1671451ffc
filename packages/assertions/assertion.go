package assertions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operator compares the subject of an assertion with its expected value.
type Operator string

const (
	OpEquals         Operator = "=="
	OpNotEquals      Operator = "!="
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpContains       Operator = "contains"
	OpNotContains    Operator = "!contains"
	OpStartsWith     Operator = "startsWith"
	OpEndsWith       Operator = "endsWith"
	OpMatches        Operator = "matches"
	OpExists         Operator = "exists"
	OpNotExists      Operator = "!exists"
	OpLength         Operator = "length"
	OpIncludes       Operator = "includes"
	OpNotIncludes    Operator = "!includes"
	OpIn             Operator = "in"
	OpNotIn          Operator = "!in"
	OpType           Operator = "type"
	OpEach           Operator = "each"
	OpSchema         Operator = "schema"
)

var operators = map[string]Operator{}

func init() {
	for _, op := range []Operator{
		OpEquals, OpNotEquals, OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpMatches, OpExists, OpNotExists,
		OpLength, OpIncludes, OpNotIncludes, OpIn, OpNotIn, OpType, OpEach, OpSchema,
	} {
		operators[strings.ToLower(string(op))] = op
	}
	operators["="] = OpEquals
}

// takesNoValue reports whether op is written without an expected value.
func (op Operator) takesNoValue() bool {
	return op == OpExists || op == OpNotExists
}

// Assertion is one parsed expectation on a response.
type Assertion struct {
	Expression string
	Subject    string
	Operator   Operator
	Expected   any
}

// Parse reads an expectation of the form "<subject> <operator> <value>".
//
// The subject is status, duration, "header <name>" (or header:<name>), body,
// a body path such as body.items[0].id, or a bare path into the body. A
// missing operator means equality, so "status 200" reads as "status == 200".
// The value is decoded as JSON when it is valid JSON and taken verbatim
// otherwise.
func Parse(expr string) (*Assertion, error) {
	rest := strings.TrimSpace(expr)
	if rest == "" {
		return nil, fmt.Errorf("empty expectation")
	}

	subject, rest := nextField(rest)
	if strings.EqualFold(subject, "header") {
		var name string
		name, rest = nextField(rest)
		if name == "" {
			return nil, fmt.Errorf("expectation %q: header name missing", expr)
		}
		subject = "header " + name
	} else if name, ok := cutPrefixFold(subject, "header:"); ok {
		subject = "header " + name
	}

	a := &Assertion{Expression: strings.TrimSpace(expr), Subject: subject, Operator: OpEquals}
	if word, after := nextField(rest); word != "" {
		if op, ok := operators[strings.ToLower(word)]; ok {
			a.Operator, rest = op, after
		}
	}

	if a.Operator.takesNoValue() {
		if rest != "" {
			return nil, fmt.Errorf("expectation %q: %s takes no value", expr, a.Operator)
		}
		return a, nil
	}
	if rest == "" {
		return nil, fmt.Errorf("expectation %q: expected value missing", expr)
	}
	a.Expected = parseValue(rest)
	return a, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Assertion {
	a, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseAll parses every expression, stopping at the first error.
func ParseAll(exprs []string) ([]*Assertion, error) {
	out := make([]*Assertion, 0, len(exprs))
	for _, expr := range exprs {
		a, err := Parse(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (a *Assertion) String() string {
	if a.Expression != "" {
		return a.Expression
	}
	if a.Operator.takesNoValue() {
		return a.Subject + " " + string(a.Operator)
	}
	return fmt.Sprintf("%s %s %v", a.Subject, a.Operator, a.Expected)
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if f, ok := v.(float64); ok && f == float64(int(f)) {
			return int(f)
		}
		return v
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}

func nextField(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i+1:])
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
