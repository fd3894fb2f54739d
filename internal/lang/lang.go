// Package lang provides a language registry mapping file extensions to
// tree-sitter grammars and the node-kind mappings used for symbol extraction.
package lang

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codemorph/pkg/types"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// Declarations maps declaration node types to the symbol kind they produce.
	Declarations map[string]types.SymbolKind

	// AcceptDeclaration filters declaration nodes whose type alone is not enough
	// (e.g. a variable declarator only counts when it binds a function). Optional.
	AcceptDeclaration func(node *sitter.Node) bool

	// NameOf returns the declared name of a declaration node. Optional; the
	// default reads the "name" field, then the first identifier-like child.
	NameOf func(node *sitter.Node, source []byte) string

	// Qualifier returns an extra scope for declarations that name their owner
	// outside the tree, e.g. the receiver type of a Go method. Optional.
	Qualifier func(node *sitter.Node, source []byte) string

	// Calls maps call node types to the field holding the callee expression.
	Calls map[string]string

	// ImportNames returns the module names imported by node, or nil when the
	// node is not an import. Optional.
	ImportNames func(node *sitter.Node, source []byte) []string

	// BodyFields lists the fields that hold a declaration body, tried in order.
	BodyFields []string

	// Docstring returns the documentation string of a declaration. Optional;
	// the default collects comments immediately preceding the declaration.
	Docstring func(node *sitter.Node, source []byte) string

	// CommentTypes lists comment node types of the grammar.
	CommentTypes []string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// IsComment reports whether a node type is a comment in this grammar.
func (l *Language) IsComment(nodeType string) bool {
	for _, t := range l.CommentTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

// DeclaredName returns the name of a declaration node using the language hook
// or the default lookup.
func (l *Language) DeclaredName(node *sitter.Node, source []byte) string {
	if l.NameOf != nil {
		if name := l.NameOf(node, source); name != "" {
			return name
		}
	}
	return defaultName(node, source)
}

// Body returns the body node of a declaration, or nil.
func (l *Language) Body(node *sitter.Node) *sitter.Node {
	for _, f := range l.BodyFields {
		if b := node.ChildByFieldName(f); b != nil {
			return b
		}
	}
	return nil
}

var identifierTypes = map[string]struct{}{
	"identifier":          {},
	"type_identifier":     {},
	"property_identifier": {},
	"field_identifier":    {},
	"constant":            {},
	"value_name":          {},
	"module_name":         {},
	"class_name":          {},
}

func defaultName(node *sitter.Node, source []byte) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return NodeText(n, source)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if _, ok := identifierTypes[child.Type()]; ok {
			return NodeText(child, source)
		}
	}
	return ""
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// ForPath returns the language name for a slash-separated file path, or "".
func ForPath(p string) string {
	return ForExtension(path.Ext(p))
}

// Get returns the registered language by name.
func Get(name string) (*Language, bool) {
	l, ok := Languages[name]
	return l, ok
}

// Names returns registered language names sorted.
func Names() []string {
	names := make([]string, 0, len(Languages))
	for n := range Languages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// LastSegment returns the final component of a qualified callee expression,
// e.g. "self.repo.save" -> "save", "std::move" -> "move".
func LastSegment(expr string) string {
	expr = strings.TrimSpace(expr)
	if i := strings.IndexAny(expr, "(<["); i >= 0 {
		expr = expr[:i]
	}
	for _, sep := range []string{"::", "->", ".", "#"} {
		if i := strings.LastIndex(expr, sep); i >= 0 {
			expr = expr[i+len(sep):]
		}
	}
	return strings.TrimSpace(expr)
}

// unquote strips matching quotes or angle brackets around an import path.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') ||
			(first == '`' && last == '`') || (first == '<' && last == '>') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
