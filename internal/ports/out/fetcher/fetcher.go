package fetcher

import (
	"context"
	"errors"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

// ErrTransport marks a network-level failure (offline, DNS, refused, aborted, timed out).
// A response with an HTTP error status is not a transport failure.
var ErrTransport = errors.New("transport failure")

// Fetcher performs a network request. Cancelling ctx aborts the transfer.
//
// Implementations return a fully buffered Response for any HTTP status and an error
// wrapping ErrTransport when no response could be obtained.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.Request) (domain.Response, error)
}
