// Package chunker builds the text documents that are embedded for each symbol.
//
// A symbol's document is a one-line header (reference URI, language and kind)
// followed by its span text. Documents are keyed by the SHA-256 of their text,
// so a symbol whose span is unchanged reuses its cached embedding.
//
// # Token Budget
//
// Token counts use the chars/4 heuristic. When a span exceeds the budget the
// symbol is embedded as a summary: its declaration without body and its
// docstring. Nested symbols still get their own documents. Any text still
// over budget is truncated.
//
// # Module Documents
//
// Module symbols span whole files, so their document is always a summary:
// path, docstring, imports and the signatures of top-level declarations.
// Editing a function body therefore does not re-embed its module.
//
// # Basic Usage
//
//	c := chunker.New(cfg.Embedding.MaxTokens)
//	docs := c.Documents(result, content)
//	for _, d := range docs {
//	    fmt.Printf("%s: %d tokens (summary=%v)\n", d.SymbolID, d.TokenCount, d.Summary)
//	}
package chunker
