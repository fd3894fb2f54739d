// Package searcher ranks indexed code objects against natural language and
// boolean queries.
//
// # Queries
//
// Plain text is a single phrase. Upper-case AND, OR and NOT combine phrases,
// parentheses group them and double quotes keep operator words literal:
//
//	checkout and balance
//	payment AND NOT (tests OR mocks)
//	"parse AND load" OR save
//
// Every distinct phrase is embedded once through the embedding cache. The
// similarity of a symbol to the tree is computed as fuzzy logic over the
// cosine similarity of each phrase: AND takes the minimum, OR the maximum and
// NOT the complement.
//
// # Scoring
//
// The final score of a candidate is
//
//	Vector*max(similarity, 0) + Name*text + Graph*proximity
//
// text is 1 when the symbol name occurs in the query, the query in the name,
// or the name equals a query term, and otherwise reflects how many query terms appear in the
// name, qualified name or path. proximity is the best similarity among the
// symbol's call and containment neighbors within the candidate pool. The
// default weights keep Name at least Vector plus Graph, so an exact name hit
// is never outranked by a vector-only match. Ties go to the higher text score,
// then the lower symbol id.
//
// # Snapshots
//
// Search reads a full snapshot of the store and keeps the prepared form,
// including the call graph, per store generation. Searches can run while the
// indexer writes; each one sees a single consistent generation.
//
//	s := searcher.NewSearcher(store, cache, root, searcher.Options{})
//	resp, err := s.Search(ctx, searcher.SearchRequest{Query: "checkout and balance", K: 5})
//	if err != nil {
//	    return err
//	}
//	return searcher.Write(os.Stdout, resp, searcher.FormatMarkdown, root, false)
package searcher
