// Package types provides shared type definitions for codemorph.
//
// This package defines domain types used across multiple components,
// including symbols, edges, source files, embedding documents and search results,
// plus the error taxonomy every component reports through.
//
// # Core Types
//
// Symbol represents a named unit of code (module, class, function, method, block)
// extracted from a tree-sitter syntax tree:
//
//	symbol := types.Symbol{
//	    Name:          "get_balance",
//	    QualifiedName: "Account.get_balance",
//	    Kind:          types.KindMethod,
//	    Path:          "billing/account.py",
//	}
//
// Symbol ids are derived from the file path, the path in the tree and the content
// hash of the span, so unchanged code keeps its id across re-indexing.
//
// Edge links two symbols by id (contains, calls, imports). Cycles are allowed;
// edges are plain id references.
//
// # Errors
//
// The error taxonomy separates per-file and per-symbol failures, which are
// contained and reported, from store and configuration failures, which abort:
//
//	errors.Is(err, types.ErrParse)                // skip file, keep going
//	errors.Is(err, types.ErrUnsupportedLanguage)  // skip file, informational
//	errors.Is(err, types.ErrEmbeddingUnavailable) // symbol stored without vector
//	errors.Is(err, types.ErrModelMismatch)        // fatal at search time
//	errors.Is(err, types.ErrStoreCorruption)      // fatal, rebuild the index
package types
