package domain

import (
	"net/url"
	"strings"
)

// NormalizeURL returns a copy of u without its fragment and with a lower-cased scheme and host.
// Requests that differ only by fragment share an identity.
func NormalizeURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	out := *u
	out.Fragment = ""
	out.RawFragment = ""
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	if out.User != nil {
		user := *out.User
		out.User = &user
	}
	return &out
}

// KeyFor builds the request identity for method and u.
func KeyFor(method string, u *url.URL) RequestKey {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = "GET"
	}
	return RequestKey(m + " " + NormalizeURL(u).String())
}
