package migrations

import "embed"

// FS contains the embedded SQLite schema for cache storage.
//
//go:embed *.sql
var FS embed.FS
