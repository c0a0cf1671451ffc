package headers

import (
	"fmt"
	"net/http"
	"strings"
)

type entry struct {
	name  string
	value string
}

// Headers is an ordered, case-insensitive header list. Values appended to an
// existing name are merged with a comma.
type Headers struct {
	entries []entry
	index   map[string]int
}

// New builds a header list from a raw header block, a map, http.Header,
// a list of name/value pairs or another *Headers. Any other value is
// rendered with fmt.Sprint and parsed as a header block.
func New(init any) *Headers {
	h := &Headers{index: make(map[string]int)}
	switch v := init.(type) {
	case nil:
	case string:
		h.parse(v)
	case *Headers:
		if v != nil {
			v.Each(func(name, value string) {
				h.Append(name, value)
			})
		}
	case map[string]string:
		for name, value := range v {
			h.Append(name, value)
		}
	case http.Header:
		for name, values := range v {
			for _, value := range values {
				h.Append(name, value)
			}
		}
	case [][2]string:
		for _, pair := range v {
			h.Append(pair[0], pair[1])
		}
	default:
		h.parse(fmt.Sprint(v))
	}
	return h
}

// Parse parses a raw header block.
func Parse(block string) *Headers {
	return New(block)
}

func (h *Headers) parse(block string) {
	if strings.TrimSpace(block) == "" {
		return
	}
	for _, line := range splitLines(block) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sep := strings.Index(line, ":")
		if sep == -1 {
			h.Append(line, "")
			continue
		}
		h.Append(line[:sep], strings.TrimSpace(line[sep+1:]))
	}
}

// splitLines splits on a newline that starts a new header, that is a newline
// followed by anything other than a space or a tab. Folded lines stay attached
// to the header they continue.
func splitLines(block string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(block); i++ {
		if block[i] != '\n' {
			continue
		}
		if i+1 < len(block) && (block[i+1] == ' ' || block[i+1] == '\t') {
			continue
		}
		lines = append(lines, block[start:i])
		start = i + 1
	}
	return append(lines, block[start:])
}

func key(name string) string {
	return strings.ToLower(name)
}

// Append adds a value, merging it onto an existing one with a comma.
func (h *Headers) Append(name, value string) {
	k := key(name)
	if i, ok := h.index[k]; ok {
		if h.entries[i].value == "" {
			h.entries[i].value = value
		} else {
			h.entries[i].value += "," + value
		}
		return
	}
	h.index[k] = len(h.entries)
	h.entries = append(h.entries, entry{name: name, value: value})
}

// Set replaces the value of a header. An existing header keeps its position.
func (h *Headers) Set(name, value string) {
	k := key(name)
	if i, ok := h.index[k]; ok {
		h.entries[i] = entry{name: name, value: value}
		return
	}
	h.index[k] = len(h.entries)
	h.entries = append(h.entries, entry{name: name, value: value})
}

// Get returns the value of a header, or "" when it is not set.
func (h *Headers) Get(name string) string {
	if i, ok := h.index[key(name)]; ok {
		return h.entries[i].value
	}
	return ""
}

// Lookup is like Get and reports whether the header exists.
func (h *Headers) Lookup(name string) (string, bool) {
	i, ok := h.index[key(name)]
	if !ok {
		return "", false
	}
	return h.entries[i].value, true
}

func (h *Headers) Has(name string) bool {
	_, ok := h.index[key(name)]
	return ok
}

func (h *Headers) Delete(name string) {
	i, ok := h.index[key(name)]
	if !ok {
		return
	}
	h.entries = append(h.entries[:i], h.entries[i+1:]...)
	delete(h.index, key(name))
	for j := i; j < len(h.entries); j++ {
		h.index[key(h.entries[j].name)] = j
	}
}

// Len returns the number of distinct headers.
func (h *Headers) Len() int {
	return len(h.entries)
}

// Each calls fn for every header in insertion order with the display name.
func (h *Headers) Each(fn func(name, value string)) {
	for _, e := range h.entries {
		fn(e.name, e.value)
	}
}

// Names returns the display names in insertion order.
func (h *Headers) Names() []string {
	names := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		names = append(names, e.name)
	}
	return names
}

// String renders the list as "Name: value" lines joined with "\n".
func (h *Headers) String() string {
	var sb strings.Builder
	for i, e := range h.entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.name)
		sb.WriteString(": ")
		sb.WriteString(e.value)
	}
	return sb.String()
}

// Map returns the headers keyed by display name.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, len(h.entries))
	for _, e := range h.entries {
		m[e.name] = e.value
	}
	return m
}
