// Package parser turns source files into tree-sitter syntax trees.
//
// Each supported language is a Grammar selected by file extension through the
// lang registry. A Parser holds one Grammar per language; the grammars are
// shared, while a fresh tree-sitter parser is created per call, so Parse is
// safe for concurrent use.
//
// # Basic Usage
//
//	p := parser.New()
//	tree, err := p.Parse(ctx, "billing/account.py", content, "")
//	if err != nil {
//	    return err
//	}
//	defer tree.Close()
//
// # Error Handling
//
// Files without a grammar return types.ErrUnsupportedLanguage, which callers
// report as "unsupported" and skip. A tree containing ERROR or missing nodes
// returns a *types.ParseError with the 1-based position of the first error:
//
//	var perr *types.ParseError
//	if errors.As(err, &perr) {
//	    fmt.Printf("%s:%d:%d\n", perr.File, perr.Line, perr.Column)
//	}
//
// Neither error aborts an indexing run.
package parser
