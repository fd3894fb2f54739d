//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// The fts5 tag is required: symbol name search uses an FTS5 table.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// dataSourceName sets the busy timeout on every pooled connection
func dataSourceName(path string) string {
	if path == memoryPath {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}
