package strategies

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/dedupe"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/eviction"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/fetcher"
)

// ErrPolicyExhausted means neither the network, the stores, nor a fallback could answer.
// It is the only failure this package surfaces; it wraps the last transport error.
var ErrPolicyExhausted = errors.New("no network or cached response available")

// Options wires a Set.
type Options struct {
	Storage cachestore.Storage
	Fetcher fetcher.Fetcher
	Dedupe  *dedupe.Deduplicator
	Evictor *eviction.Manager
	Names   domain.StoreNames
	// OfflineDocument is the absolute URL of the precached document served to navigations
	// that have neither network nor a stored copy.
	OfflineDocument *url.URL
	Logger          logging.Logger
}

// Set holds the four fetch policies. Strategies never fail for a missing resource;
// they resolve to the best available response.
type Set struct {
	storage cachestore.Storage
	fetcher fetcher.Fetcher
	dedupe  *dedupe.Deduplicator
	evictor *eviction.Manager
	names   domain.StoreNames
	offline *url.URL
	log     logging.Logger

	background sync.WaitGroup
}

func New(opts Options) *Set {
	if opts.Dedupe == nil {
		opts.Dedupe = dedupe.New(dedupe.DefaultTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Evictor == nil {
		opts.Evictor = eviction.New(eviction.DefaultCap, eviction.DefaultMargin, opts.Logger)
	}
	return &Set{
		storage: opts.Storage,
		fetcher: opts.Fetcher,
		dedupe:  opts.Dedupe,
		evictor: opts.Evictor,
		names:   opts.Names,
		offline: opts.OfflineDocument,
		log:     opts.Logger,
	}
}

// Wait blocks until background revalidations and scheduled trims have finished.
func (s *Set) Wait() {
	s.background.Wait()
	s.evictor.Wait()
}

// CacheFirst serves from the role's store and only goes to the network on a miss.
// Used for static assets and images.
func (s *Set) CacheFirst(ctx context.Context, req domain.Request, role domain.StoreRole) (domain.Response, error) {
	store := s.open(ctx, role)
	if resp, ok := s.lookup(ctx, store, req); ok {
		return resp, nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		return domain.Response{}, fmt.Errorf("%w: %s: %w", ErrPolicyExhausted, req.Key(), err)
	}
	if resp.OK() {
		s.store(ctx, store, req, resp)
	}
	return resp, nil
}

// NetworkFirst tries the network and falls back to the general store on transport failure.
// Navigations additionally fall back to the precached offline document.
func (s *Set) NetworkFirst(ctx context.Context, req domain.Request) (domain.Response, error) {
	store := s.open(ctx, domain.RoleGeneral)

	resp, err := s.fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			s.store(ctx, store, req, resp)
		}
		return resp, nil
	}
	s.log.Debugf("network-first: %s failed, trying cache: %v", req.Key(), err)

	if cached, ok := s.lookup(ctx, store, req); ok {
		return cached, nil
	}
	if req.Mode == domain.ModeNavigate {
		if doc, ok := s.offlineDocument(ctx); ok {
			return doc, nil
		}
	}
	return domain.Response{}, fmt.Errorf("%w: %s: %w", ErrPolicyExhausted, req.Key(), err)
}

// StaleWhileRevalidate returns the stored response immediately when there is one and
// refreshes the store from the network in the background. Without a stored response it
// waits for the network.
func (s *Set) StaleWhileRevalidate(ctx context.Context, req domain.Request) (domain.Response, error) {
	store := s.open(ctx, domain.RoleGeneral)
	cached, found := s.lookup(ctx, store, req)

	type result struct {
		resp domain.Response
		err  error
	}
	revalidated := make(chan result, 1)
	bg := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		resp, err := s.fetch(bg, req)
		if err != nil {
			s.log.Debugf("revalidate: %s failed: %v", req.Key(), err)
		} else if resp.OK() {
			s.store(bg, store, req, resp)
		}
		revalidated <- result{resp, err}
	}()

	if found {
		return cached, nil
	}
	select {
	case r := <-revalidated:
		if r.err != nil {
			return domain.Response{}, fmt.Errorf("%w: %s: %w", ErrPolicyExhausted, req.Key(), r.err)
		}
		return r.resp, nil
	case <-ctx.Done():
		return domain.Response{}, ctx.Err()
	}
}

// TileCache serves map tiles. Tiles are immutable once stored. A miss is fetched, stored and
// followed by a background trim; on failure the fetch is retried once in no-cors mode and then
// answered with a transparent placeholder. A tile request never fails.
func (s *Set) TileCache(ctx context.Context, req domain.Request) (domain.Response, error) {
	store := s.open(ctx, domain.RoleTiles)
	if resp, ok := s.lookup(ctx, store, req); ok {
		return resp, nil
	}

	resp, err := s.fetchTile(ctx, store, req)
	if err != nil {
		s.log.Debugf("tile: %s unavailable, serving placeholder: %v", req.Key(), err)
		return Placeholder(), nil
	}
	return resp, nil
}

// PrefetchTile stores a tile ahead of use. It reports false without touching the network
// when the tile is already stored.
func (s *Set) PrefetchTile(ctx context.Context, req domain.Request) (bool, error) {
	store := s.open(ctx, domain.RoleTiles)
	if store == nil {
		return false, fmt.Errorf("prefetch %s: tile store unavailable", req.Key())
	}
	if _, ok := s.lookup(ctx, store, req); ok {
		return false, nil
	}
	resp, err := s.fetchTile(ctx, store, req)
	if err != nil {
		return false, err
	}
	if !resp.Cacheable() {
		return false, fmt.Errorf("prefetch %s: status %d", req.Key(), resp.Status)
	}
	return true, nil
}

func (s *Set) fetchTile(ctx context.Context, store cachestore.Store, req domain.Request) (domain.Response, error) {
	resp, err := s.fetch(ctx, req)
	if err != nil && req.Mode != domain.ModeNoCORS {
		s.log.Debugf("tile: %s failed, retrying no-cors: %v", req.Key(), err)
		resp, err = s.fetch(ctx, req.WithMode(domain.ModeNoCORS))
	}
	if err != nil {
		return domain.Response{}, err
	}
	if resp.Cacheable() && store != nil {
		s.store(ctx, store, req, resp)
		s.evictor.Schedule(ctx, store)
	}
	return resp, nil
}

// ClearTiles deletes the tile store with all of its entries.
func (s *Set) ClearTiles(ctx context.Context) (bool, error) {
	name := s.names.For(domain.RoleTiles)
	ok, err := s.storage.Delete(ctx, name)
	if err != nil {
		return false, fmt.Errorf("clear %s: %w", name, err)
	}
	return ok, nil
}

func (s *Set) fetch(ctx context.Context, req domain.Request) (domain.Response, error) {
	resp, err := s.dedupe.Do(ctx, req.Key(), func(ctx context.Context) (domain.Response, error) {
		return s.fetcher.Fetch(ctx, req)
	})
	if err != nil {
		return domain.Response{}, err
	}
	resp.Source = domain.SourceNetwork
	return resp, nil
}

// open returns nil when the store cannot be opened; callers then run without a cache.
func (s *Set) open(ctx context.Context, role domain.StoreRole) cachestore.Store {
	st, err := s.storage.Open(ctx, s.names.For(role))
	if err != nil {
		s.log.Warnf("open store %s: %v", s.names.For(role), err)
		return nil
	}
	return st
}

func (s *Set) lookup(ctx context.Context, store cachestore.Store, req domain.Request) (domain.Response, bool) {
	if store == nil {
		return domain.Response{}, false
	}
	resp, ok, err := store.Get(ctx, req.Key())
	if err != nil {
		s.log.Warnf("lookup %s in %s: %v", req.Key(), store.Name(), err)
		return domain.Response{}, false
	}
	if !ok {
		return domain.Response{}, false
	}
	resp.Source = domain.SourceCache
	return resp, true
}

// store writes a clone of resp; the caller keeps reading its own copy.
func (s *Set) store(ctx context.Context, store cachestore.Store, req domain.Request, resp domain.Response) {
	if store == nil {
		return
	}
	if err := store.Put(ctx, req.Key(), resp.Clone()); err != nil {
		s.log.Warnf("store %s in %s: %v", req.Key(), store.Name(), err)
	}
}

func (s *Set) offlineDocument(ctx context.Context) (domain.Response, bool) {
	if s.offline == nil {
		return domain.Response{}, false
	}
	store := s.open(ctx, domain.RoleStatic)
	if store == nil {
		return domain.Response{}, false
	}
	resp, ok, err := store.Get(ctx, domain.KeyFor(http.MethodGet, s.offline))
	if err != nil || !ok {
		return domain.Response{}, false
	}
	resp.Source = domain.SourceFallback
	return resp, true
}
