package domain

import "net/http"

// Source records where a returned response came from. It is not persisted.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceFallback    Source = "fallback"
	SourcePlaceholder Source = "placeholder"
)

// Response is a fully buffered HTTP response. Bodies are opaque bytes.
//
// A Response value shares its Header map and Body slice with every copy; callers that
// hand a response to more than one consumer must Clone it first.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// URL is the final URL the response was served from.
	URL string
	// Opaque marks a cross-origin response fetched without CORS. It is cacheable
	// and replayable even though its body is not meant to be inspected.
	Opaque bool

	Source Source
}

// OK reports whether the status is in the 2xx range.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Cacheable reports whether r may be written to a store: successful or opaque.
func (r Response) Cacheable() bool {
	return r.OK() || r.Opaque
}

// Clone returns a deep copy that can be read independently of r.
func (r Response) Clone() Response {
	out := r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}
