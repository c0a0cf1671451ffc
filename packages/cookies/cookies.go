// Package cookies parses Cookie and Set-Cookie header values and carries
// cookies from one response to the next request of a redirect chain.
package cookies

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Cookie is a single cookie with the attributes that matter for sending it.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero for session cookies
	HostOnly bool
	Secure   bool
	HTTPOnly bool

	fromMaxAge bool
}

// Expired reports whether the cookie has expired at now.
func (c *Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// Jar is an ordered list of cookies bound to the URL they were received
// from or are sent to.
type Jar struct {
	Cookies []*Cookie

	url *url.URL
	now func() time.Time
}

// Option configures a Jar.
type Option func(*Jar)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(j *Jar) {
		j.now = now
	}
}

// splitter matches a comma that starts a new cookie in a comma merged
// Set-Cookie value. Commas inside expiry dates are not followed by name=.
var splitter = regexp.MustCompile(`,\s*[^=;,\s]+=`)

// Parse reads a Cookie header ("a=1; b=2") or one or more Set-Cookie values
// merged with commas. rawURL is the URL the cookies belong to.
func Parse(header, rawURL string, opts ...Option) *Jar {
	j := &Jar{now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if u, err := url.Parse(rawURL); err == nil {
		j.url = u
	}

	for _, segment := range splitSegments(header) {
		var current *Cookie
		for _, part := range strings.Split(segment, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			if current != nil && j.applyAttribute(current, name, value) {
				continue
			}
			if name == "" {
				continue
			}
			current = &Cookie{Name: name, Value: value}
			j.Cookies = append(j.Cookies, current)
		}
	}
	return j
}

func splitSegments(header string) []string {
	var segments []string
	start := 0
	for _, loc := range splitter.FindAllStringIndex(header, -1) {
		segments = append(segments, header[start:loc[0]])
		start = loc[0] + 1
	}
	return append(segments, header[start:])
}

// applyAttribute sets a Set-Cookie attribute on c. It returns false when
// name is not an attribute, meaning a new cookie starts.
func (j *Jar) applyAttribute(c *Cookie, name, value string) bool {
	switch strings.ToLower(name) {
	case "expires":
		if t, ok := parseExpires(value); ok {
			// Max-Age wins over Expires
			if !c.fromMaxAge {
				c.Expires = t
			}
		}
	case "max-age":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return true
		}
		if seconds <= 0 {
			c.Expires = time.Unix(1, 0)
		} else {
			c.Expires = j.now().Add(time.Duration(seconds) * time.Second)
		}
		c.fromMaxAge = true
	case "domain":
		c.Domain = strings.ToLower(strings.TrimPrefix(value, "."))
	case "path":
		c.Path = value
	case "secure":
		c.Secure = true
	case "httponly":
		c.HTTPOnly = true
	case "samesite", "priority", "partitioned", "version", "comment":
	default:
		return false
	}
	return true
}

var expiresLayouts = []string{
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
}

func parseExpires(value string) (time.Time, bool) {
	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}
	for _, layout := range expiresLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Filter removes cookies that do not match the jar URL domain and path.
// Cookies without a domain or path get the URL defaults.
func (j *Jar) Filter() {
	if j.url == nil {
		return
	}
	host := strings.ToLower(j.url.Hostname())
	kept := j.Cookies[:0]
	for _, c := range j.Cookies {
		if c.Domain == "" {
			c.Domain = host
			c.HostOnly = true
		} else {
			c.HostOnly = false
		}
		if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
			c.Path = defaultPath(j.url.Path)
		}
		if !domainMatch(host, c) || !pathMatch(j.url.Path, c.Path) {
			continue
		}
		kept = append(kept, c)
	}
	j.Cookies = kept
}

func domainMatch(host string, c *Cookie) bool {
	if host == c.Domain {
		return true
	}
	return !c.HostOnly && strings.HasSuffix(host, "."+c.Domain)
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}

func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// ClearExpired removes expired cookies and returns them.
func (j *Jar) ClearExpired() []*Cookie {
	now := j.now()
	var expired []*Cookie
	kept := j.Cookies[:0]
	for _, c := range j.Cookies {
		if c.Expired(now) {
			expired = append(expired, c)
			continue
		}
		kept = append(kept, c)
	}
	j.Cookies = kept
	return expired
}

// Merge adds the cookies of other, replacing cookies with the same name.
func (j *Jar) Merge(other *Jar) {
	if other == nil {
		return
	}
	for _, c := range other.Cookies {
		replaced := false
		for i, existing := range j.Cookies {
			if existing.Name == c.Name {
				j.Cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			j.Cookies = append(j.Cookies, c)
		}
	}
}

// Remove drops every cookie whose name is in names.
func (j *Jar) Remove(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := j.Cookies[:0]
	for _, c := range j.Cookies {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	j.Cookies = kept
}

// Header renders the cookies as a Cookie header value.
func (j *Jar) Header(includeExpired bool) string {
	now := j.now()
	parts := make([]string, 0, len(j.Cookies))
	for _, c := range j.Cookies {
		if !includeExpired && c.Expired(now) {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func (j *Jar) String() string {
	return j.Header(true)
}

// Redirect computes the Cookie header value sent to location after a response
// with the given Set-Cookie value. Expired cookies are purged from both sides
// and cookies the response just expired are not sent even when the request
// carried them. An empty result means no Cookie header.
func Redirect(cookieHeader, setCookie, location string, opts ...Option) string {
	received := Parse(setCookie, location, opts...)
	received.Filter()
	expired := received.ClearExpired()
	if cookieHeader == "" {
		return received.Header(true)
	}

	sent := Parse(cookieHeader, location, opts...)
	sent.Filter()
	sent.ClearExpired()
	sent.Merge(received)
	names := make([]string, 0, len(expired))
	for _, c := range expired {
		names = append(names, c.Name)
	}
	sent.Remove(names...)
	return sent.Header(true)
}
