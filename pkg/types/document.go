package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Document is the text embedded for one symbol
type Document struct {
	SymbolID   string
	Text       string
	Hash       string // hex SHA-256 of Text, the embedding cache key
	TokenCount int

	// Summary is set when Text is the declaration without body because the
	// full span exceeded the token budget.
	Summary bool
}

// EstimateTokens estimates the number of tokens in s.
// Uses a simple heuristic: characters / 4
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// ComputeTokenCount estimates and records the number of tokens in the document
func (d *Document) ComputeTokenCount() int {
	d.TokenCount = EstimateTokens(d.Text)
	return d.TokenCount
}

// ComputeHash computes the SHA-256 hash of the document text
func (d *Document) ComputeHash() {
	h := sha256.Sum256([]byte(d.Text))
	d.Hash = hex.EncodeToString(h[:])
}

// Validate performs comprehensive validation of the document
func (d *Document) Validate() error {
	if d.SymbolID == "" {
		return errors.New("document symbol id is required")
	}

	if d.Text == "" {
		return errors.New("document text cannot be empty")
	}

	if d.Hash == "" {
		return errors.New("document hash must be computed")
	}

	return nil
}
