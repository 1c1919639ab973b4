package domain

// RequestKey is the identity of a request: HTTP method plus absolute URL.
// It is both the deduplication key and the cache key for stored responses.
type RequestKey string

// ClientID identifies an open application instance.
type ClientID string

// Version names one deployment of the intercepting layer (e.g. "v3").
type Version string
