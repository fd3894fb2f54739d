//go:build purego || !sqlite_vec

package storage

// Compiled by default. modernc.org/sqlite is pure Go, so no C toolchain is
// needed and FTS5 is always available:
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// dataSourceName sets the busy timeout on every pooled connection
func dataSourceName(path string) string {
	if path == memoryPath {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
