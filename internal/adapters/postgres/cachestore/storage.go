package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

// Storage is a Postgres implementation of cachestore.Storage. Several daemons may share one database.
type Storage struct {
	pool *pgxpool.Pool
}

func NewStorage(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func (s *Storage) Open(ctx context.Context, name string) (cachestore.Store, error) {
	if s.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cachestore.ErrInvalidName
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO offline_cache_stores (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, name); err != nil {
		return nil, mapErr("open store "+name, err)
	}
	return &Store{pool: s.pool, name: name}, nil
}

func (s *Storage) Lookup(ctx context.Context, name string) (cachestore.Store, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Store{pool: s.pool, name: name}, true, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM offline_cache_stores WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, mapErr("lookup store "+name, err)
	}
	return exists, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM offline_cache_stores WHERE name = $1`, name)
	if err != nil {
		return false, mapErr("delete store "+name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM offline_cache_stores ORDER BY id`)
	if err != nil {
		return nil, mapErr("list stores", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapErr("list stores", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Store is a handle to one named store.
type Store struct {
	pool *pgxpool.Pool
	name string
}

func (st *Store) Name() string { return st.name }

func (st *Store) Get(ctx context.Context, key domain.RequestKey) (domain.Response, bool, error) {
	var (
		resp    domain.Response
		headers []byte
	)
	err := st.pool.QueryRow(ctx, `
		SELECT e.status, e.headers, e.body, e.url, e.opaque
		FROM offline_cache_entries e
		JOIN offline_cache_stores s ON s.id = e.store_id
		WHERE s.name = $1 AND e.request_key = $2
	`, st.name, string(key)).Scan(&resp.Status, &headers, &resp.Body, &resp.URL, &resp.Opaque)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Response{}, false, nil
		}
		return domain.Response{}, false, mapErr("get "+string(key), err)
	}
	if err := json.Unmarshal(headers, &resp.Header); err != nil {
		return domain.Response{}, false, fmt.Errorf("decode headers for %s: %w", key, err)
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	return resp, true, nil
}

// Put upserts the entry and draws a new sequence number, so a rewritten key becomes newest.
func (st *Store) Put(ctx context.Context, key domain.RequestKey, resp domain.Response) error {
	h := resp.Header
	if h == nil {
		h = http.Header{}
	}
	headers, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode headers for %s: %w", key, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	_, err = st.pool.Exec(ctx, `
		WITH s AS (
			INSERT INTO offline_cache_stores (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		)
		INSERT INTO offline_cache_entries (store_id, request_key, status, headers, body, url, opaque)
		SELECT s.id, $2, $3, $4::jsonb, $5, $6, $7 FROM s
		ON CONFLICT (store_id, request_key) DO UPDATE SET
			seq = EXCLUDED.seq,
			status = EXCLUDED.status,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			url = EXCLUDED.url,
			opaque = EXCLUDED.opaque
	`, st.name, string(key), resp.Status, string(headers), body, resp.URL, resp.Opaque)
	if err != nil {
		return mapErr("put "+string(key), err)
	}
	return nil
}

func (st *Store) Delete(ctx context.Context, key domain.RequestKey) (bool, error) {
	tag, err := st.pool.Exec(ctx, `
		DELETE FROM offline_cache_entries e
		USING offline_cache_stores s
		WHERE s.id = e.store_id AND s.name = $1 AND e.request_key = $2
	`, st.name, string(key))
	if err != nil {
		return false, mapErr("delete "+string(key), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (st *Store) Keys(ctx context.Context) ([]domain.RequestKey, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT e.request_key
		FROM offline_cache_entries e
		JOIN offline_cache_stores s ON s.id = e.store_id
		WHERE s.name = $1
		ORDER BY e.seq
	`, st.name)
	if err != nil {
		return nil, mapErr("list keys", err)
	}
	keys, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RequestKey, error) {
		var k string
		err := row.Scan(&k)
		return domain.RequestKey(k), err
	})
	if err != nil {
		return nil, mapErr("list keys", err)
	}
	if keys == nil {
		keys = []domain.RequestKey{}
	}
	return keys, nil
}

func (st *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := st.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM offline_cache_entries e
		JOIN offline_cache_stores s ON s.id = e.store_id
		WHERE s.name = $1
	`, st.name).Scan(&n)
	if err != nil {
		return 0, mapErr("count entries", err)
	}
	return n, nil
}

func mapErr(op string, err error) error {
	if postgres.IsConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, cachestore.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
