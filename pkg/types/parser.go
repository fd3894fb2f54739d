package types

// ExtractResult represents the symbols and edges extracted from one source file
type ExtractResult struct {
	File    SourceFile
	Symbols []Symbol
	Edges   []Edge

	// Imports lists imported module names in source order
	Imports []string
}
