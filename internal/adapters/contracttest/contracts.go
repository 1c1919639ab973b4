package contracttest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	cachestoreport "github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

type CleanupFunc = func()

type StorageFactory func(t *testing.T) (cachestoreport.Storage, CleanupFunc)

// RunStorage exercises the behaviors every cachestore.Storage adapter must share.
func RunStorage(t *testing.T, newStorage StorageFactory) {
	t.Helper()

	t.Run("round trip is bit-identical", func(t *testing.T) {
		storage := open(t, newStorage)
		ctx := context.Background()

		st, err := storage.Open(ctx, "contract-general-v1")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		key := domain.RequestKey("GET https://example.com/api/places/saved")
		want := domain.Response{
			Status: 203,
			Header: http.Header{
				"Content-Type": []string{"application/json"},
				"Set-Cookie":   []string{"a=1", "b=2"},
			},
			Body:   []byte{0x00, 0xff, '{', '}', 0x10},
			URL:    "https://example.com/api/places/saved",
			Opaque: true,
		}
		if err := st.Put(ctx, key, want); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, ok, err := st.Get(ctx, key)
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		if got.Status != want.Status || got.URL != want.URL || got.Opaque != want.Opaque {
			t.Fatalf("metadata mismatch: got %+v want %+v", got, want)
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("body mismatch: got %v want %v", got.Body, want.Body)
		}
		if !reflect.DeepEqual(got.Header, want.Header) {
			t.Fatalf("header mismatch: got %v want %v", got.Header, want.Header)
		}

		empty := domain.RequestKey("GET https://example.com/empty")
		if err := st.Put(ctx, empty, domain.Response{Status: 204}); err != nil {
			t.Fatalf("Put empty: %v", err)
		}
		got, ok, err = st.Get(ctx, empty)
		if err != nil || !ok || got.Status != 204 || len(got.Body) != 0 {
			t.Fatalf("Get empty: ok=%v err=%v resp=%+v", ok, err, got)
		}
	})

	t.Run("missing key is a miss", func(t *testing.T) {
		storage := open(t, newStorage)
		ctx := context.Background()

		st, err := storage.Open(ctx, "contract-static-v1")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, ok, err := st.Get(ctx, "GET https://example.com/nope"); err != nil || ok {
			t.Fatalf("Get missing: ok=%v err=%v", ok, err)
		}
		if deleted, err := st.Delete(ctx, "GET https://example.com/nope"); err != nil || deleted {
			t.Fatalf("Delete missing: deleted=%v err=%v", deleted, err)
		}
	})

	t.Run("keys follow insertion order and rewrites move to the end", func(t *testing.T) {
		storage := open(t, newStorage)
		ctx := context.Background()

		st, err := storage.Open(ctx, "contract-tiles-v1")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		keys := make([]domain.RequestKey, 0, 5)
		for i := 0; i < 5; i++ {
			k := domain.RequestKey(fmt.Sprintf("GET https://tile.example.com/3/%d/1.png", i))
			keys = append(keys, k)
			if err := st.Put(ctx, k, domain.Response{Status: 200, Body: []byte{byte(i)}}); err != nil {
				t.Fatalf("Put %d: %v", i, err)
			}
		}
		if err := st.Put(ctx, keys[1], domain.Response{Status: 200, Body: []byte("again")}); err != nil {
			t.Fatalf("Put rewrite: %v", err)
		}
		got, err := st.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		want := []domain.RequestKey{keys[0], keys[2], keys[3], keys[4], keys[1]}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Keys order:\n got %v\nwant %v", got, want)
		}
		if n, err := st.Count(ctx); err != nil || n != 5 {
			t.Fatalf("Count: n=%d err=%v", n, err)
		}

		if deleted, err := st.Delete(ctx, keys[0]); err != nil || !deleted {
			t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
		}
		if n, err := st.Count(ctx); err != nil || n != 4 {
			t.Fatalf("Count after delete: n=%d err=%v", n, err)
		}
	})

	t.Run("lookup never creates a store", func(t *testing.T) {
		storage := open(t, newStorage)
		ctx := context.Background()

		if st, ok, err := storage.Lookup(ctx, "contract-absent-v1"); err != nil || ok || st != nil {
			t.Fatalf("Lookup absent: ok=%v err=%v", ok, err)
		}
		if has, err := storage.Has(ctx, "contract-absent-v1"); err != nil || has {
			t.Fatalf("Has after Lookup: has=%v err=%v", has, err)
		}

		created, err := storage.Open(ctx, "contract-present-v1")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := created.Put(ctx, "GET https://example.com/a", domain.Response{Status: 200}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		st, ok, err := storage.Lookup(ctx, "contract-present-v1")
		if err != nil || !ok {
			t.Fatalf("Lookup present: ok=%v err=%v", ok, err)
		}
		if n, err := st.Count(ctx); err != nil || n != 1 {
			t.Fatalf("Count via Lookup: n=%d err=%v", n, err)
		}

		if _, err := storage.Delete(ctx, "contract-present-v1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if n, err := st.Count(ctx); err != nil || n != 0 {
			t.Fatalf("Count after delete: n=%d err=%v", n, err)
		}
		if has, err := storage.Has(ctx, "contract-present-v1"); err != nil || has {
			t.Fatalf("Count recreated the store: has=%v err=%v", has, err)
		}
	})

	t.Run("deleting a store leaves the others intact", func(t *testing.T) {
		storage := open(t, newStorage)
		ctx := context.Background()

		keep, err := storage.Open(ctx, "contract-keep-v2")
		if err != nil {
			t.Fatalf("Open keep: %v", err)
		}
		drop, err := storage.Open(ctx, "contract-drop-v1")
		if err != nil {
			t.Fatalf("Open drop: %v", err)
		}
		key := domain.RequestKey("GET https://example.com/a")
		if err := keep.Put(ctx, key, domain.Response{Status: 200, Body: []byte("keep")}); err != nil {
			t.Fatalf("Put keep: %v", err)
		}
		if err := drop.Put(ctx, key, domain.Response{Status: 200, Body: []byte("drop")}); err != nil {
			t.Fatalf("Put drop: %v", err)
		}

		names, err := storage.Names(ctx)
		if err != nil {
			t.Fatalf("Names: %v", err)
		}
		if !contains(names, "contract-keep-v2") || !contains(names, "contract-drop-v1") {
			t.Fatalf("Names=%v", names)
		}

		deleted, err := storage.Delete(ctx, "contract-drop-v1")
		if err != nil || !deleted {
			t.Fatalf("Delete store: deleted=%v err=%v", deleted, err)
		}
		if has, err := storage.Has(ctx, "contract-drop-v1"); err != nil || has {
			t.Fatalf("Has deleted: has=%v err=%v", has, err)
		}
		if deleted, err := storage.Delete(ctx, "contract-drop-v1"); err != nil || deleted {
			t.Fatalf("Delete twice: deleted=%v err=%v", deleted, err)
		}
		if _, ok, err := drop.Get(ctx, key); err != nil || ok {
			t.Fatalf("Get via stale handle: ok=%v err=%v", ok, err)
		}

		got, ok, err := keep.Get(ctx, key)
		if err != nil || !ok || string(got.Body) != "keep" {
			t.Fatalf("kept store damaged: ok=%v err=%v body=%q", ok, err, got.Body)
		}
	})
}

func open(t *testing.T, newStorage StorageFactory) cachestoreport.Storage {
	t.Helper()
	storage, cleanup := newStorage(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}
	return storage
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
