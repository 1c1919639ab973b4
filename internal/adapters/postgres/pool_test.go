package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewPool_RequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := NewPool(context.Background(), " ", PoolOptions{}); err == nil {
		t.Fatal("expected missing url error")
	}
}

func TestNewPool_RejectsMalformedURL(t *testing.T) {
	t.Parallel()
	if _, err := NewPool(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAsPgError(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: UniqueViolationCode})
	pgErr, ok := AsPgError(wrapped)
	if !ok || pgErr.Code != UniqueViolationCode {
		t.Fatalf("AsPgError() ok=%v err=%v", ok, pgErr)
	}
	if _, ok := AsPgError(errors.New("plain")); ok {
		t.Fatal("AsPgError() matched a plain error")
	}
	if IsConnectionError(wrapped) {
		t.Fatal("server error reported as connection error")
	}
}

func TestUpSection(t *testing.T) {
	t.Parallel()
	got := upSection("-- +migrate Up\nCREATE TABLE a ();\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a ();\n" {
		t.Fatalf("upSection()=%q", got)
	}
}
