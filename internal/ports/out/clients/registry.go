package clients

import (
	"context"
	"time"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

// Client is one open application instance.
type Client struct {
	ID          domain.ClientID
	URL         string
	Controlled  bool
	ConnectedAt time.Time
}

// Message is posted to application instances out of band.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Slots are the registration's version slots.
type Slots struct {
	Waiting domain.Version
	Active  domain.Version
}

// Registry is the registration object of the intercepting layer.
type Registry interface {
	Slots(ctx context.Context) (Slots, error)

	// Install places version in the waiting slot.
	Install(ctx context.Context, version domain.Version) error
	// SkipWaiting promotes the waiting version to active without waiting for old instances to close.
	// It is a no-op when nothing is waiting.
	SkipWaiting(ctx context.Context) error
	// Claim makes the active version control every open instance and returns how many were claimed.
	Claim(ctx context.Context) (int, error)

	Clients(ctx context.Context) ([]Client, error)
	// Broadcast posts msg to every open instance and returns how many received it.
	Broadcast(ctx context.Context, msg Message) (int, error)
}
