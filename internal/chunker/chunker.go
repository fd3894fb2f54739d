package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/codemorph/pkg/types"
)

const (
	// DefaultMaxTokens is the token budget of one embedding document
	DefaultMaxTokens = 8192

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Chunker builds the embedding documents of extracted symbols
type Chunker struct {
	maxTokens int
}

// New creates a Chunker with the given token budget; non-positive means DefaultMaxTokens
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{maxTokens: maxTokens}
}

// MaxTokens returns the token budget
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// Documents returns one document per symbol of result, in symbol order.
// content is the file the symbols were extracted from.
func (c *Chunker) Documents(result *types.ExtractResult, content []byte) []types.Document {
	docs := make([]types.Document, 0, len(result.Symbols))
	for i := range result.Symbols {
		sym := &result.Symbols[i]
		var doc types.Document
		if sym.Kind == types.KindModule {
			doc = c.moduleDocument(sym, result)
		} else {
			doc = c.symbolDocument(sym, content)
		}
		docs = append(docs, doc)
	}
	return docs
}

// symbolDocument embeds the full span, falling back to a summary
// (declaration without body plus docstring) when the span is over budget
func (c *Chunker) symbolDocument(sym *types.Symbol, content []byte) types.Document {
	doc := types.Document{SymbolID: sym.ID}

	span := spanText(sym.Span, content)
	doc.Text = header(sym) + span
	if types.EstimateTokens(doc.Text) > c.maxTokens {
		doc.Text = summary(sym)
		doc.Summary = true
	}
	c.finish(&doc)
	return doc
}

// moduleDocument summarizes a file: path, docstring, imports and the
// signatures of its top-level declarations. Body edits leave it unchanged.
func (c *Chunker) moduleDocument(module *types.Symbol, result *types.ExtractResult) types.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s module)\n", module.Path, module.Language)
	if module.Doc != "" {
		b.WriteString(module.Doc)
		b.WriteString("\n")
	}
	if len(result.Imports) > 0 {
		fmt.Fprintf(&b, "imports: %s\n", strings.Join(result.Imports, ", "))
	}
	for i := range result.Symbols {
		sym := &result.Symbols[i]
		if sym.ParentID != module.ID || sym.Signature == "" {
			continue
		}
		b.WriteString(sym.Signature)
		b.WriteString("\n")
	}

	doc := types.Document{SymbolID: module.ID, Text: b.String(), Summary: true}
	c.finish(&doc)
	return doc
}

func (c *Chunker) finish(doc *types.Document) {
	doc.Text = Truncate(doc.Text, c.maxTokens)
	doc.ComputeTokenCount()
	doc.ComputeHash()
}

func header(sym *types.Symbol) string {
	return fmt.Sprintf("%s (%s %s)\n", sym.URI(), sym.Language, sym.Kind)
}

func summary(sym *types.Symbol) string {
	var b strings.Builder
	b.WriteString(header(sym))
	if sym.Signature != "" {
		b.WriteString(sym.Signature)
		b.WriteString("\n")
	}
	if sym.Doc != "" {
		b.WriteString(sym.Doc)
		b.WriteString("\n")
	}
	return b.String()
}

// spanText returns the source text of span, clamped to content
func spanText(span types.Span, content []byte) string {
	start, end := span.StartByte, span.EndByte
	if start < 0 {
		start = 0
	}
	if end > len(content) {
		end = len(content)
	}
	if start >= end {
		return ""
	}
	return string(content[start:end])
}

// Truncate cuts text to at most maxTokens estimated tokens on a rune boundary
func Truncate(text string, maxTokens int) string {
	limit := maxTokens * TokensPerChar
	if maxTokens <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
