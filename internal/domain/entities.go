package domain

import "time"

// Book is one catalogue record as stored in the index.
type Book struct {
	ID          string   `json:"id" validate:"notblank"`
	Title       string   `json:"title" validate:"notblank"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	SourceID    string   `json:"-"`
	Tokens      []string `json:"-"`
}

// Text returns the searchable text of a book.
func (b Book) Text() string {
	text := b.Title
	for _, a := range b.Authors {
		text += " " + a
	}
	for _, g := range b.Genres {
		text += " " + g
	}
	if b.Description != "" {
		text += " " + b.Description
	}
	return text
}

// CatalogueFile is a catalogue source file that contributed books to the index.
type CatalogueFile struct {
	ID      string
	Path    string
	ModTime time.Time
}

type Source string

const (
	SourceDense  Source = "dense"
	SourceSparse Source = "sparse"
)

// Candidate is a raw hit from one candidate generator.
type Candidate struct {
	BookID   string
	RawScore float64
	Source   Source
}

// NormalizedCandidate carries a score rescaled to [0,1] within its source batch.
type NormalizedCandidate struct {
	BookID string
	Score  float64
	Source Source
}

// FusedResult is one entry of the fused ranking.
type FusedResult struct {
	BookID string  `json:"book_id"`
	Score  float64 `json:"score"`
}

type Posting struct {
	BookID string
	TF     int
}

type Stats struct {
	TotalBooks int
	AvgBookLen float64
}
