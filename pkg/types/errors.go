package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by all components
var (
	// ErrParse marks a per-file syntax error. Non-fatal: the file is skipped.
	ErrParse = errors.New("parse error")
	// ErrUnsupportedLanguage marks a file with no registered grammar. Informational.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrEmbeddingUnavailable marks a symbol whose embedding could not be computed.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrModelMismatch marks a search against an index built with another model. Fatal.
	ErrModelMismatch = errors.New("embedding model mismatch")
	// ErrStoreCorruption marks an index store that must be rebuilt. Fatal.
	ErrStoreCorruption = errors.New("index store corrupted")
)

// Search result errors
var (
	ErrInvalidRank     = errors.New("rank must be >= 1")
	ErrMissingSymbolID = errors.New("symbol id is required")
	ErrNegativeScore   = errors.New("score cannot be negative")
)

// ParseError represents a syntax error found while parsing a source file
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface
func (pe *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", pe.File, pe.Line, pe.Column, pe.Message)
}

// Is lets errors.Is(err, ErrParse) match any *ParseError
func (pe *ParseError) Is(target error) bool {
	return target == ErrParse
}
