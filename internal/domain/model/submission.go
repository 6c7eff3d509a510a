// Package model contains domain models passed between layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Submission is the immutable input to evaluation. ID is content-addressed.
type Submission struct {
	ID          string
	Title       string
	Text        string
	Category    string    // optional free-form category tag
	Embedding   []float64 // optional precomputed vector, 3 dimensions in practice
	SubmittedAt time.Time
}

// NewSubmission builds a Submission whose ID is the SHA-256 of title and text.
func NewSubmission(title, text, category string, embedding []float64) Submission {
	return Submission{
		ID:          ContentID(title, text),
		Title:       title,
		Text:        text,
		Category:    category,
		Embedding:   append([]float64(nil), embedding...),
		SubmittedAt: time.Now().UTC(),
	}
}

// ContentID returns the hex SHA-256 digest identifying a submission body.
func ContentID(title, text string) string {
	sum := sha256.Sum256([]byte(title + "\n" + text))
	return hex.EncodeToString(sum[:])
}

// ExtractedFeatures are derived from Submission text and can always be recomputed.
type ExtractedFeatures struct {
	Abstract  string   // at most 1000 characters
	Formulas  []string // formula tokens in order of appearance
	Constants []string // constant tokens in order of appearance
}

// ArchivedEntry is an append-only record used for similarity comparison.
type ArchivedEntry struct {
	SubmissionID string
	Seq          int64 // insertion order, ascending
	Title        string
	Features     ExtractedFeatures
	Embedding    []float64
	ArchivedAt   time.Time
}

// Match is one ranked similarity hit against an ArchivedEntry.
type Match struct {
	SubmissionID string
	Seq          int64
	Score        float64 // composite score in [0,1]
	Vector       float64
	Text         float64
	Formula      float64
	Constant     float64
}
