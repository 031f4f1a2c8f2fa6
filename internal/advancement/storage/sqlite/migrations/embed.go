// Package migrations embeds the SQLite schema for advancement storage.
package migrations

import "embed"

// FS contains embedded SQLite migrations for advancement storage.
//
//go:embed *.sql
var FS embed.FS
