package httpapi

import (
	"context"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/lifecycle"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/messages"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/push"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
)

// DefaultMaxBodyBytes caps request bodies read by the daemon.
const DefaultMaxBodyBytes int64 = 32 << 20

// maxPushBytes caps push payloads.
const maxPushBytes = 64 << 10

// MessageRouter routes background commands.
type MessageRouter interface {
	Route(ctx context.Context, msg messages.Message) messages.Result
}

// PushDispatcher renders push payloads.
type PushDispatcher interface {
	Dispatch(ctx context.Context, raw []byte) (push.Decision, error)
}

// EventSource registers application instances that listen for posted messages.
type EventSource interface {
	Connect(ctx context.Context, url string) (clients.Client, <-chan clients.Message, func())
}

// Lifecycle reports the version state.
type Lifecycle interface {
	State() lifecycle.State
	Version() domain.Version
}

type Options struct {
	Interceptor Interceptor
	Messages    MessageRouter
	Push        PushDispatcher
	Storage     cachestore.Storage
	Names       domain.StoreNames
	Registry    clients.Registry
	Events      EventSource
	Lifecycle   Lifecycle
	Logger      logging.Logger

	MaxBodyBytes int64
}

// Handler serves intercepted requests and the daemon's control surface.
type Handler struct {
	interceptor Interceptor
	messages    MessageRouter
	push        PushDispatcher
	storage     cachestore.Storage
	names       domain.StoreNames
	registry    clients.Registry
	events      EventSource
	lifecycle   Lifecycle
	log         logging.Logger
	maxBody     int64
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		interceptor: opts.Interceptor,
		messages:    opts.Messages,
		push:        opts.Push,
		storage:     opts.Storage,
		names:       opts.Names,
		registry:    opts.Registry,
		events:      opts.Events,
		lifecycle:   opts.Lifecycle,
		log:         opts.Logger,
		maxBody:     opts.MaxBodyBytes,
	}
}
