package parser

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/codemorph/internal/lang"
	"github.com/dshills/codemorph/pkg/types"
)

// Grammar is the per-language parsing capability.
type Grammar interface {
	// Language returns the language tag, e.g. "python".
	Language() string
	// Parse builds a syntax tree for content.
	Parse(ctx context.Context, path string, content []byte) (*SyntaxTree, error)
}

// SyntaxTree owns a parsed tree-sitter tree and the source it was built from
type SyntaxTree struct {
	Path     string
	Language *lang.Language
	Source   []byte

	tree *sitter.Tree
}

// Root returns the root node of the tree
func (t *SyntaxTree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Close releases the underlying tree-sitter tree
func (t *SyntaxTree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Parser selects a grammar per file and parses source into syntax trees
type Parser struct {
	grammars map[string]Grammar
}

// New creates a Parser with a grammar for every registered language
func New() *Parser {
	p := &Parser{grammars: make(map[string]Grammar)}
	for _, name := range lang.Names() {
		l, _ := lang.Get(name)
		p.grammars[name] = &treeSitterGrammar{lang: l}
	}
	return p
}

// Supports reports whether the path has a registered grammar
func (p *Parser) Supports(path string) bool {
	return lang.ForPath(path) != ""
}

// Detect returns the language tag for a path, or "" when unsupported
func (p *Parser) Detect(path string) string {
	return lang.ForPath(path)
}

// Parse parses content with the grammar of language. An empty language
// selects the grammar from the file extension.
//
// Unsupported languages return types.ErrUnsupportedLanguage. Syntax errors
// return a *types.ParseError locating the first error node.
func (p *Parser) Parse(ctx context.Context, path string, content []byte, language string) (*SyntaxTree, error) {
	if language == "" {
		language = lang.ForPath(path)
	}
	g, ok := p.grammars[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedLanguage, path)
	}
	return g.Parse(ctx, path, content)
}

type treeSitterGrammar struct {
	lang *lang.Language
}

func (g *treeSitterGrammar) Language() string {
	return g.lang.Name
}

func (g *treeSitterGrammar) Parse(ctx context.Context, path string, content []byte) (*SyntaxTree, error) {
	// tree-sitter parsers are not safe for concurrent use; grammars are.
	sp := g.lang.NewParser()
	defer sp.Close()

	tree, err := sp.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	root := tree.RootNode()
	if root.HasError() {
		perr := &types.ParseError{File: path, Line: 1, Column: 1, Message: "syntax error"}
		if n := firstErrorNode(root); n != nil {
			pt := n.StartPoint()
			perr.Line = int(pt.Row) + 1
			perr.Column = int(pt.Column) + 1
			if n.IsMissing() {
				perr.Message = fmt.Sprintf("missing %s", n.Type())
			} else {
				perr.Message = "unexpected syntax"
			}
		}
		tree.Close()
		return nil, perr
	}

	return &SyntaxTree{Path: path, Language: g.lang, Source: content, tree: tree}, nil
}

// firstErrorNode returns the first ERROR or missing node in document order
func firstErrorNode(node *sitter.Node) *sitter.Node {
	if node.IsMissing() || node.Type() == "ERROR" {
		return node
	}
	if !node.HasError() {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if n := firstErrorNode(node.Child(i)); n != nil {
			return n
		}
	}
	return nil
}
