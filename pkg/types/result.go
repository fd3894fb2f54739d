package types

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	Rank int // Position in result set (1-based)

	// Scoring
	Score      float64 // Weighted combination of the components below
	Similarity float64 // Boolean-tree cosine similarity
	TextMatch  float64 // Name/path match boost
	Proximity  float64 // Graph proximity boost

	Symbol  Symbol
	Content string // Span text of the symbol
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Symbol.ID == "" {
		return ErrMissingSymbolID
	}

	if sr.Score < 0 {
		return ErrNegativeScore
	}

	return nil
}
