package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
)

// Command types accepted on the background channel.
const (
	TypeSkipWaiting    = "SKIP_WAITING"
	TypePrefetchTiles  = "PREFETCH_TILES"
	TypeClearTileCache = "CLEAR_TILE_CACHE"
)

// DefaultConcurrency bounds concurrent tile fetches for one prefetch command.
const DefaultConcurrency = 6

// Message is one background command.
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// Decode parses a command. Only bytes that are not JSON are an error. Any other JSON value,
// including a non-object or an object with mistyped fields, decodes to a Message with an empty
// type, which the router ignores.
func Decode(raw []byte) (Message, error) {
	if !json.Valid(raw) {
		return Message{}, fmt.Errorf("decode message: invalid JSON")
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, nil
	}
	return m, nil
}

// Activator forces the installed version to take over.
type Activator interface {
	SkipWaiting(ctx context.Context) error
}

// Tiles is the tile store surface the router drives.
type Tiles interface {
	PrefetchTile(ctx context.Context, req domain.Request) (bool, error)
	ClearTiles(ctx context.Context) (bool, error)
}

// PrefetchReport summarizes one PREFETCH_TILES command.
type PrefetchReport struct {
	Requested int `json:"requested"`
	Fetched   int `json:"fetched"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Result describes what the router did with a message.
type Result struct {
	Type     string          `json:"type"`
	Handled  bool            `json:"handled"`
	Prefetch *PrefetchReport `json:"prefetch,omitempty"`
	Cleared  *bool           `json:"cleared,omitempty"`
	// Error carries a failure of the routed operation. The router itself never fails.
	Error string `json:"error,omitempty"`
}

type Router struct {
	activator   Activator
	tiles       Tiles
	concurrency int
	log         logging.Logger
}

func NewRouter(activator Activator, tiles Tiles, concurrency int, log logging.Logger) *Router {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Router{activator: activator, tiles: tiles, concurrency: concurrency, log: log}
}

// Route dispatches msg to its operation. Unknown types are ignored.
func (r *Router) Route(ctx context.Context, msg Message) Result {
	res := Result{Type: msg.Type}
	switch msg.Type {
	case TypeSkipWaiting:
		res.Handled = true
		if err := r.activator.SkipWaiting(ctx); err != nil {
			r.log.Warnf("messages: skip waiting: %v", err)
			res.Error = err.Error()
		}
	case TypePrefetchTiles:
		res.Handled = true
		rep := r.prefetch(ctx, msg.URLs)
		res.Prefetch = &rep
	case TypeClearTileCache:
		res.Handled = true
		ok, err := r.tiles.ClearTiles(ctx)
		if err != nil {
			r.log.Warnf("messages: clear tiles: %v", err)
			res.Error = err.Error()
		}
		res.Cleared = &ok
	default:
		r.log.Debugf("messages: ignoring %q", msg.Type)
	}
	return res
}

func (r *Router) prefetch(ctx context.Context, urls []string) PrefetchReport {
	rep := PrefetchReport{Requested: len(urls)}
	var mu sync.Mutex
	count := func(p *int) {
		mu.Lock()
		defer mu.Unlock()
		(*p)++
	}

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, raw := range urls {
		g.Go(func() error {
			req, err := domain.NewRequest(http.MethodGet, raw)
			if err != nil {
				r.log.Debugf("messages: prefetch %q: %v", raw, err)
				count(&rep.Failed)
				return nil
			}
			fetched, err := r.tiles.PrefetchTile(ctx, req)
			switch {
			case err != nil:
				r.log.Debugf("messages: prefetch %s: %v", req.Key(), err)
				count(&rep.Failed)
			case fetched:
				count(&rep.Fetched)
			default:
				count(&rep.Skipped)
			}
			return nil
		})
	}
	_ = g.Wait()
	r.log.Infof("messages: prefetched %d of %d tiles (%d already stored, %d failed)", rep.Fetched, rep.Requested, rep.Skipped, rep.Failed)
	return rep
}
