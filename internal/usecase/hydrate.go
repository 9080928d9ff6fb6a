package usecase

import (
	"errors"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

// BookHit is a fused result joined with its catalogue record for display.
type BookHit struct {
	Rank    int      `json:"rank"`
	BookID  string   `json:"book_id"`
	Score   float64  `json:"score"`
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
}

// Hydrate looks up each result's book. A result whose book has since been
// removed keeps its id and score with empty metadata.
func Hydrate(store port.IndexStore, resp domain.RetrieveResponse) ([]BookHit, error) {
	hits := make([]BookHit, 0, resp.Len())
	for i, id := range resp.BookIDs {
		hit := BookHit{Rank: i + 1, BookID: id, Score: resp.Scores[i]}
		book, err := store.GetBook(id)
		switch {
		case err == nil:
			hit.Title = book.Title
			hit.Authors = book.Authors
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
