package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mode mirrors the fetch mode a request was issued with.
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
)

// Request is an outbound request as seen by the intercepting layer.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Mode   Mode
	// Body is only populated for pass-through (non-GET) traffic.
	Body []byte
}

// NewRequest parses rawURL and returns a GET-style request in cors mode unless method says otherwise.
func NewRequest(method, rawURL string) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() {
		return Request{}, fmt.Errorf("url must be absolute: %q", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Header: http.Header{},
		Mode:   ModeCORS,
	}, nil
}

// Key returns the request identity.
func (r Request) Key() RequestKey {
	return KeyFor(r.Method, r.URL)
}

// WithMode returns a copy of r issued in mode m.
func (r Request) WithMode(m Mode) Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Mode = m
	return out
}

// ModeFromHeader derives the fetch mode from Sec-Fetch-Mode, falling back to the Accept header
// for clients that do not send fetch metadata.
func ModeFromHeader(method string, h http.Header) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(h.Get("Sec-Fetch-Mode")))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeNoCORS:
		return ModeNoCORS
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeCORS:
		return ModeCORS
	}
	if strings.EqualFold(method, http.MethodGet) &&
		strings.EqualFold(h.Get("Sec-Fetch-Dest"), "document") {
		return ModeNavigate
	}
	if strings.EqualFold(method, http.MethodGet) &&
		strings.HasPrefix(strings.ToLower(h.Get("Accept")), "text/html") {
		return ModeNavigate
	}
	return ModeCORS
}
