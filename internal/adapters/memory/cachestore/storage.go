package cachestore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

// Storage is an in-memory implementation of cachestore.Storage.
// It is safe for concurrent use. Entries are cloned on the way in and on the way out.
type Storage struct {
	mu sync.RWMutex

	seq     int64
	buckets map[string]*bucket
}

type bucket struct {
	created int64
	entries map[domain.RequestKey]entry
}

type entry struct {
	seq  int64
	resp domain.Response
}

func NewStorage() *Storage {
	return &Storage{buckets: make(map[string]*bucket)}
}

func (s *Storage) Open(ctx context.Context, name string) (cachestore.Store, error) {
	_ = ctx
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cachestore.ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(name)
	return &Store{storage: s, name: name}, nil
}

func (s *Storage) Lookup(ctx context.Context, name string) (cachestore.Store, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Store{storage: s, name: name}, true, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		return false, nil
	}
	delete(s.buckets, name)
	return true, nil
}

func (s *Storage) Names(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.buckets[out[i]].created < s.buckets[out[j]].created
	})
	return out, nil
}

func (s *Storage) ensureLocked(name string) *bucket {
	b, ok := s.buckets[name]
	if !ok {
		s.seq++
		b = &bucket{created: s.seq, entries: make(map[domain.RequestKey]entry)}
		s.buckets[name] = b
	}
	return b
}

// Store is a handle to one named store in Storage.
type Store struct {
	storage *Storage
	name    string
}

func (st *Store) Name() string { return st.name }

func (st *Store) Get(ctx context.Context, key domain.RequestKey) (domain.Response, bool, error) {
	_ = ctx
	s := st.storage
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[st.name]
	if !ok {
		return domain.Response{}, false, nil
	}
	e, ok := b.entries[key]
	if !ok {
		return domain.Response{}, false, nil
	}
	return e.resp.Clone(), true, nil
}

func (st *Store) Put(ctx context.Context, key domain.RequestKey, resp domain.Response) error {
	_ = ctx
	stored := resp.Clone()
	stored.Source = ""
	s := st.storage
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.ensureLocked(st.name)
	s.seq++
	b.entries[key] = entry{seq: s.seq, resp: stored}
	return nil
}

func (st *Store) Delete(ctx context.Context, key domain.RequestKey) (bool, error) {
	_ = ctx
	s := st.storage
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[st.name]
	if !ok {
		return false, nil
	}
	if _, ok := b.entries[key]; !ok {
		return false, nil
	}
	delete(b.entries, key)
	return true, nil
}

func (st *Store) Keys(ctx context.Context) ([]domain.RequestKey, error) {
	_ = ctx
	s := st.storage
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[st.name]
	if !ok {
		return []domain.RequestKey{}, nil
	}
	type keyed struct {
		key domain.RequestKey
		seq int64
	}
	ks := make([]keyed, 0, len(b.entries))
	for k, e := range b.entries {
		ks = append(ks, keyed{key: k, seq: e.seq})
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].seq < ks[j].seq })
	out := make([]domain.RequestKey, 0, len(ks))
	for _, k := range ks {
		out = append(out, k.key)
	}
	return out, nil
}

func (st *Store) Count(ctx context.Context) (int, error) {
	_ = ctx
	s := st.storage
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[st.name]
	if !ok {
		return 0, nil
	}
	return len(b.entries), nil
}
