package eviction

import (
	"context"
	"sync"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

const (
	// DefaultCap bounds the number of entries in the map-tile store.
	DefaultCap = 500
	// DefaultMargin is trimmed below the cap so the next few inserts do not re-trigger a trim.
	DefaultMargin = 10
)

// Manager keeps the tile store under its cap by removing the oldest-inserted entries.
//
// Eviction order is insertion order (FIFO), not access recency: a tile read a thousand times
// is still evicted before a tile written after it. A rewritten tile counts as newly inserted.
//
// Manager is the only component that bulk-deletes entries. Trims are serialized.
type Manager struct {
	cap    int
	margin int
	log    logging.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func New(cap, margin int, log logging.Logger) *Manager {
	if cap <= 0 {
		cap = DefaultCap
	}
	if margin < 0 {
		margin = 0
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{cap: cap, margin: margin, log: log}
}

// Cap returns the configured entry cap.
func (m *Manager) Cap() int { return m.cap }

// Trim removes count-cap+margin oldest entries when store holds more than cap entries and
// returns how many were removed. It never fails: errors are logged and the trim stops or skips.
func (m *Manager) Trim(ctx context.Context, store cachestore.Store) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, err := store.Count(ctx)
	if err != nil {
		m.log.Warnf("eviction: count %s: %v", store.Name(), err)
		return 0
	}
	if count <= m.cap {
		return 0
	}
	excess := count - m.cap + m.margin

	keys, err := store.Keys(ctx)
	if err != nil {
		m.log.Warnf("eviction: list %s: %v", store.Name(), err)
		return 0
	}
	if excess > len(keys) {
		excess = len(keys)
	}

	removed := 0
	for _, k := range keys[:excess] {
		ok, err := store.Delete(ctx, k)
		if err != nil {
			m.log.Debugf("eviction: delete %s from %s: %v", k, store.Name(), err)
			continue
		}
		if ok {
			removed++
		}
	}
	m.log.Debugf("eviction: %s had %d entries, removed %d", store.Name(), count, removed)
	return removed
}

// Schedule trims store in the background. It returns immediately.
func (m *Manager) Schedule(ctx context.Context, store cachestore.Store) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Trim(ctx, store)
	}()
}

// Wait blocks until every scheduled trim has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
