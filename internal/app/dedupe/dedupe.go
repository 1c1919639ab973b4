package dedupe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

// DefaultTimeout bounds how long a ticket may stay registered.
const DefaultTimeout = 30 * time.Second

// ErrTimeout indicates the shared fetch was aborted by the ticket timeout.
var ErrTimeout = errors.New("deduplicated fetch timed out")

// FetchFunc performs the underlying network transfer. It must honor ctx.
type FetchFunc func(ctx context.Context) (domain.Response, error)

// Deduplicator coalesces concurrent fetches of the same request identity into one transfer.
//
// At most one ticket exists per identity. The ticket is removed when the transfer completes,
// fails, or hits the timeout; every waiter then receives its own clone of the result.
type Deduplicator struct {
	group   singleflight.Group
	timeout time.Duration

	inflight atomic.Int64

	mu      sync.Mutex
	waiters map[domain.RequestKey]int
}

func New(timeout time.Duration) *Deduplicator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deduplicator{
		timeout: timeout,
		waiters: make(map[domain.RequestKey]int),
	}
}

// Do returns the result of fetch for key, sharing one in-flight call among concurrent callers.
//
// The transfer runs detached from the caller that started it: a caller leaving early (ctx done)
// stops waiting but does not abort the transfer for the others. Only the timeout aborts it.
func (d *Deduplicator) Do(ctx context.Context, key domain.RequestKey, fetch FetchFunc) (domain.Response, error) {
	ch := d.group.DoChan(string(key), func() (any, error) {
		d.inflight.Add(1)
		defer d.inflight.Add(-1)

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		resp, err := fetch(fctx)
		if err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return domain.Response{}, fmt.Errorf("%w after %s: %s: %w", ErrTimeout, d.timeout, key, err)
		}
		return resp, err
	})
	// DoChan registers the caller before returning, so the waiter count never runs ahead of the ticket.
	d.join(key)
	defer d.leave(key)

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Response{}, res.Err
		}
		resp, _ := res.Val.(domain.Response)
		return resp.Clone(), nil
	case <-ctx.Done():
		return domain.Response{}, ctx.Err()
	}
}

// InFlight returns the number of outstanding tickets.
func (d *Deduplicator) InFlight() int {
	return int(d.inflight.Load())
}

// Waiters returns how many callers are currently waiting on key.
func (d *Deduplicator) Waiters(key domain.RequestKey) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiters[key]
}

func (d *Deduplicator) join(key domain.RequestKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waiters[key]++
}

func (d *Deduplicator) leave(key domain.RequestKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiters[key] <= 1 {
		delete(d.waiters, key)
		return
	}
	d.waiters[key]--
}
