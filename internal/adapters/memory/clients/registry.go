package clients

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clients"
	clockport "github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/clock"
)

// MessageControllerChange is posted to every instance the active version claims.
const MessageControllerChange = "CONTROLLER_CHANGE"

// Registry is an in-memory implementation of clients.Registry.
// Application instances join with Connect and receive posted messages on a buffered channel.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	clk clockport.Clock

	slots   clients.Slots
	claimed bool
	conns   map[domain.ClientID]*conn

	// Buffer bounds each instance's undelivered messages; extra messages are dropped.
	Buffer int
}

type conn struct {
	client clients.Client
	ch     chan clients.Message
}

func NewRegistry(clk clockport.Clock) *Registry {
	return &Registry{
		clk:    clk,
		conns:  make(map[domain.ClientID]*conn),
		Buffer: 16,
	}
}

// Connect registers an open application instance. The returned cancel func disconnects it
// and closes the message channel.
func (r *Registry) Connect(ctx context.Context, url string) (clients.Client, <-chan clients.Message, func()) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &conn{
		client: clients.Client{
			ID:          domain.ClientID(uuid.NewString()),
			URL:         url,
			Controlled:  r.claimed && r.slots.Active != "",
			ConnectedAt: r.clk.Now(),
		},
		ch: make(chan clients.Message, r.Buffer),
	}
	r.conns[c.client.ID] = c

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if cur, ok := r.conns[c.client.ID]; ok && cur == c {
				delete(r.conns, c.client.ID)
				close(c.ch)
			}
		})
	}
	return c.client, c.ch, cancel
}

func (r *Registry) Slots(ctx context.Context) (clients.Slots, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots, nil
}

func (r *Registry) Install(ctx context.Context, version domain.Version) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots.Waiting = version
	return nil
}

func (r *Registry) SkipWaiting(ctx context.Context) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots.Waiting == "" {
		return nil
	}
	if r.slots.Active != r.slots.Waiting {
		// A new active version has not claimed anyone yet.
		r.claimed = false
	}
	r.slots.Active = r.slots.Waiting
	r.slots.Waiting = ""
	return nil
}

func (r *Registry) Claim(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots.Active == "" {
		return 0, nil
	}
	r.claimed = true
	msg := clients.Message{
		Type: MessageControllerChange,
		Data: map[string]any{"version": string(r.slots.Active)},
	}
	n := 0
	for _, c := range r.conns {
		c.client.Controlled = true
		r.postLocked(c, msg)
		n++
	}
	return n, nil
}

func (r *Registry) Clients(ctx context.Context) ([]clients.Client, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]clients.Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.client)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out, nil
}

func (r *Registry) Broadcast(ctx context.Context, msg clients.Message) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		if r.postLocked(c, msg) {
			n++
		}
	}
	return n, nil
}

func (r *Registry) postLocked(c *conn, msg clients.Message) bool {
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}
