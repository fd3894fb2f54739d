package types

import (
	"errors"
	"fmt"
)

// SymbolKind represents the kind of a code symbol
type SymbolKind string

const (
	KindModule   SymbolKind = "module"
	KindClass    SymbolKind = "class"
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
	KindBlock    SymbolKind = "block"
)

// AllKinds lists every symbol kind in a stable order
var AllKinds = []SymbolKind{KindModule, KindClass, KindFunction, KindMethod, KindBlock}

// ParseKind converts a string into a SymbolKind
func ParseKind(s string) (SymbolKind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid symbol kind %q", s)
}

// Span locates a symbol within its source file.
// Bytes are half-open offsets, lines are 1-based and inclusive.
type Span struct {
	StartByte int
	EndByte   int
	StartLine int
	EndLine   int
}

// Symbol is a named, spanned unit of code extracted from a syntax tree
type Symbol struct {
	// Identification
	ID            string // stable across re-index while file, tree path and span content are unchanged
	Kind          SymbolKind
	Name          string
	QualifiedName string // scope path joined by ".", e.g. "Account.get_balance"

	// Location
	Path     string // relative to repository root, slash separated
	Language string
	Span     Span

	// Content
	ContentHash string // hex SHA-256 of the span text
	Signature   string // declaration without body
	Doc         string

	// ParentID refers to the containing symbol; empty for module symbols.
	ParentID string
}

// URI returns the reference form "path#qualified_name"
func (s *Symbol) URI() string {
	return s.Path + "#" + s.QualifiedName
}

// ValidateKind checks if the symbol kind is valid
func (s *Symbol) ValidateKind() error {
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return errors.New("invalid symbol kind")
	}
	return nil
}

// Validate performs comprehensive validation of the symbol
func (s *Symbol) Validate() error {
	if s.ID == "" {
		return errors.New("symbol id is required")
	}

	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	if err := s.ValidateKind(); err != nil {
		return err
	}

	if s.Path == "" {
		return errors.New("symbol path is required")
	}

	if s.Kind == KindModule && s.ParentID != "" {
		return errors.New("module symbols cannot have a parent")
	}

	if s.Kind == KindMethod && s.ParentID == "" {
		return errors.New("methods must have a parent")
	}

	if s.Span.StartByte < 0 || s.Span.EndByte < s.Span.StartByte {
		return errors.New("invalid span: byte range")
	}

	if s.Span.StartLine <= 0 || s.Span.EndLine < s.Span.StartLine {
		return errors.New("invalid span: line numbers must be positive and ordered")
	}

	return nil
}

// EdgeKind represents the relation between two symbols
type EdgeKind string

const (
	EdgeContains EdgeKind = "contains"
	EdgeCalls    EdgeKind = "calls"
	EdgeImports  EdgeKind = "imports"
)

// Edge is a directed relation from one symbol to another.
// Target is empty when the edge is only known by name (unresolved calls and imports).
type Edge struct {
	Source     string
	Kind       EdgeKind
	Target     string
	TargetName string
}

// Resolved reports whether the edge points to a known symbol id
func (e Edge) Resolved() bool {
	return e.Target != ""
}
