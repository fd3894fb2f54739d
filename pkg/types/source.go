package types

import "time"

// SourceFile is a tracked source file. It is replaced wholesale when its content hash changes.
type SourceFile struct {
	Path          string // relative to repository root, slash separated
	ContentHash   string // hex SHA-256 of the file content
	Language      string
	SizeBytes     int64
	ModTime       time.Time
	LastIndexedAt time.Time
}
