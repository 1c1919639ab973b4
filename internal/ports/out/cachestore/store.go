package cachestore

import (
	"context"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
)

// Store is one named, persistent key->response mapping.
//
// A Store handle addresses its store by name: after the store is deleted from Storage,
// reads through an old handle miss and a Put recreates the store.
//
// Insertion order expectations:
//   - every Put assigns the entry a new, strictly increasing sequence number, including a Put
//     that replaces an existing key (the entry moves to the end)
//   - Keys returns keys ordered by that sequence, oldest first
//
// Implementations must be safe for concurrent use. Concurrent Puts to the same key are not
// ordered beyond "last write observed wins".
type Store interface {
	Name() string

	Get(ctx context.Context, key domain.RequestKey) (domain.Response, bool, error)
	Put(ctx context.Context, key domain.RequestKey, resp domain.Response) error
	Delete(ctx context.Context, key domain.RequestKey) (bool, error)

	Keys(ctx context.Context) ([]domain.RequestKey, error)
	Count(ctx context.Context) (int, error)
}

// Storage is the set of named stores.
type Storage interface {
	// Open returns a handle to the named store, creating it if it does not exist.
	Open(ctx context.Context, name string) (Store, error)
	// Lookup returns a handle to the named store only if it exists. It never creates a store.
	Lookup(ctx context.Context, name string) (Store, bool, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named store and all of its entries. It reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists existing stores in creation order.
	Names(ctx context.Context) ([]string, error)
}
