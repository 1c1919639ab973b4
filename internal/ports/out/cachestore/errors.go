package cachestore

import "errors"

var (
	// ErrInvalidName indicates an empty or malformed store name.
	ErrInvalidName = errors.New("invalid store name")

	// ErrUnavailable indicates the backing storage cannot currently serve requests.
	ErrUnavailable = errors.New("cache storage unavailable")
)
