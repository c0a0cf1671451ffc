package transport

import (
	"net/http"
	"net/url"
	"strings"
)

// RedirectDecision tells whether and how to follow a 3xx response.
type RedirectDecision struct {
	Redirect bool
	ForceGet bool
	Location string
}

// RedirectOptions decides whether a response with status and location is
// followed for a request with method.
func RedirectOptions(status int, method, location string) RedirectDecision {
	d := RedirectDecision{Location: location}
	switch status {
	case http.StatusMultipleChoices, http.StatusNotModified, http.StatusUseProxy:
		return d
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect:
		m := strings.ToUpper(method)
		d.Redirect = m == http.MethodGet || m == http.MethodHead
	case http.StatusSeeOther:
		d.Redirect = true
		d.ForceGet = true
	}
	return d
}

// ResolveLocation returns location as an absolute URL, resolving it against
// base when it is relative.
func ResolveLocation(location, base string) (string, bool) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", false
	}
	if u, err := url.Parse(location); err == nil && u.IsAbs() && u.Host != "" {
		return u.String(), true
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", false
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(ref).String(), true
}

// IsRedirectLoop reports whether location was already visited.
func IsRedirectLoop(location string, redirects []*Redirect) bool {
	for _, r := range redirects {
		if r.URL == location {
			return true
		}
	}
	return false
}
