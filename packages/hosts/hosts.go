// Package hosts rewrites request URLs with a user defined hosts table so
// virtual hosts can be tested without touching the system resolver.
package hosts

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule rewrites every match of From with To. A "*" in From matches any
// sequence of characters and becomes a capture group usable in To as $1, $2...
// Other regular expression characters in From are not escaped.
type Rule struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Apply evaluates rules in order, each one working on the output of the
// previous one. Rules with an empty From or To, or a pattern that does not
// compile, are skipped.
func Apply(url string, rules []Rule) string {
	for _, rule := range rules {
		if result, ok := evaluate(url, rule); ok {
			url = result
		}
	}
	return url
}

func evaluate(url string, rule Rule) (string, bool) {
	if rule.From == "" || rule.To == "" {
		return "", false
	}
	re, err := compile(rule.From)
	if err != nil {
		return "", false
	}
	if !re.MatchString(url) {
		return "", false
	}
	return re.ReplaceAllString(url, groupRefs(rule.To, re.NumSubexp())), true
}

// groupRefs rewrites $1 style references as ${1} so a reference followed by
// letters or digits still names the group. Two digits are taken only when
// that many groups exist, so with one group "$12" is group 1 and a "2".
func groupRefs(to string, groups int) string {
	var b strings.Builder
	for i := 0; i < len(to); i++ {
		c := to[i]
		if c != '$' || i+1 >= len(to) {
			b.WriteByte(c)
			continue
		}
		next := to[i+1]
		if next == '$' {
			b.WriteString("$$")
			i++
			continue
		}
		if !isDigit(next) {
			b.WriteByte(c)
			continue
		}
		n, width := int(next-'0'), 1
		if i+2 < len(to) && isDigit(to[i+2]) {
			if two := n*10 + int(to[i+2]-'0'); two <= groups {
				n, width = two, 2
			}
		}
		fmt.Fprintf(&b, "${%d}", n)
		i += width
	}
	return b.String()
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + strings.ReplaceAll(pattern, "*", "(.*)"))
}
