// Package cachestore stores named response caches in a local SQLite database.
package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/sqlite/cachestore/migrations"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

// Storage implements cachestore.Storage on SQLite.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the embedded schema.
func Open(ctx context.Context, path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time keeps insertion sequences and store creation serialized.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) Open(ctx context.Context, name string) (cachestore.Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, cachestore.ErrInvalidName
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO cache_stores (name) VALUES (?)`, name); err != nil {
		return nil, mapErr("open store "+name, err)
	}
	return &Store{db: s.db, name: name}, nil
}

func (s *Storage) Lookup(ctx context.Context, name string) (cachestore.Store, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Store{db: s.db, name: name}, true, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM cache_stores WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapErr("lookup store "+name, err)
	}
	return true, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_stores WHERE name = ?`, name)
	if err != nil {
		return false, mapErr("delete store "+name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("delete store "+name, err)
	}
	return n > 0, nil
}

func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_stores ORDER BY id`)
	if err != nil {
		return nil, mapErr("list stores", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapErr("list stores", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list stores", err)
	}
	return out, nil
}

// Store is a handle to one named store.
type Store struct {
	db   *sql.DB
	name string
}

func (st *Store) Name() string { return st.name }

func (st *Store) Get(ctx context.Context, key domain.RequestKey) (domain.Response, bool, error) {
	var (
		resp    domain.Response
		headers string
		opaque  int
	)
	err := st.db.QueryRowContext(ctx, `
SELECT e.status, e.headers, e.body, e.url, e.opaque
FROM cache_entries e
JOIN cache_stores s ON s.id = e.store_id
WHERE s.name = ? AND e.request_key = ?`, st.name, string(key)).
		Scan(&resp.Status, &headers, &resp.Body, &resp.URL, &opaque)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Response{}, false, nil
	}
	if err != nil {
		return domain.Response{}, false, mapErr("get "+string(key), err)
	}
	if err := json.Unmarshal([]byte(headers), &resp.Header); err != nil {
		return domain.Response{}, false, fmt.Errorf("decode headers for %s: %w", key, err)
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	resp.Opaque = opaque != 0
	return resp, true, nil
}

// Put replaces any entry for key with a fresh row so it takes the newest sequence number.
func (st *Store) Put(ctx context.Context, key domain.RequestKey, resp domain.Response) error {
	headers, err := json.Marshal(headerOrEmpty(resp.Header))
	if err != nil {
		return fmt.Errorf("encode headers for %s: %w", key, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	opaque := 0
	if resp.Opaque {
		opaque = 1
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("put "+string(key), err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache_stores (name) VALUES (?)`, st.name); err != nil {
		return mapErr("put "+string(key), err)
	}
	var storeID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM cache_stores WHERE name = ?`, st.name).Scan(&storeID); err != nil {
		return mapErr("put "+string(key), err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE store_id = ? AND request_key = ?`, storeID, string(key)); err != nil {
		return mapErr("put "+string(key), err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO cache_entries (store_id, request_key, status, headers, body, url, opaque)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		storeID, string(key), resp.Status, string(headers), body, resp.URL, opaque,
	); err != nil {
		return mapErr("put "+string(key), err)
	}
	if err := tx.Commit(); err != nil {
		return mapErr("put "+string(key), err)
	}
	return nil
}

func (st *Store) Delete(ctx context.Context, key domain.RequestKey) (bool, error) {
	res, err := st.db.ExecContext(ctx, `
DELETE FROM cache_entries
WHERE request_key = ? AND store_id = (SELECT id FROM cache_stores WHERE name = ?)`, string(key), st.name)
	if err != nil {
		return false, mapErr("delete "+string(key), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("delete "+string(key), err)
	}
	return n > 0, nil
}

func (st *Store) Keys(ctx context.Context) ([]domain.RequestKey, error) {
	rows, err := st.db.QueryContext(ctx, `
SELECT e.request_key
FROM cache_entries e
JOIN cache_stores s ON s.id = e.store_id
WHERE s.name = ?
ORDER BY e.seq`, st.name)
	if err != nil {
		return nil, mapErr("list keys", err)
	}
	defer rows.Close()
	out := []domain.RequestKey{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, mapErr("list keys", err)
		}
		out = append(out, domain.RequestKey(k))
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list keys", err)
	}
	return out, nil
}

func (st *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := st.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM cache_entries e
JOIN cache_stores s ON s.id = e.store_id
WHERE s.name = ?`, st.name).Scan(&n)
	if err != nil {
		return 0, mapErr("count entries", err)
	}
	return n, nil
}

func headerOrEmpty(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h
}

// mapErr marks lock contention and I/O failures as ErrUnavailable.
func mapErr(op string, err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED, sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_FULL, sqlite3lib.SQLITE_CANTOPEN:
			return fmt.Errorf("%s: %w: %w", op, cachestore.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
