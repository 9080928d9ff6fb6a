package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

var _ port.CandidateGenerator = (*BM25Generator)(nil)

// BM25Generator is the sparse candidate generator. It scores books against the
// inverted index with Okapi BM25.
type BM25Generator struct {
	store     port.IndexStore
	tokenizer port.Tokenizer
	k1        float64
	b         float64
}

func NewBM25Generator(store port.IndexStore, tokenizer port.Tokenizer, k1, b float64) *BM25Generator {
	return &BM25Generator{
		store:     store,
		tokenizer: tokenizer,
		k1:        k1,
		b:         b,
	}
}

func (g *BM25Generator) Source() domain.Source {
	return domain.SourceSparse
}

func (g *BM25Generator) Generate(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: sparse k must be positive, got %d", domain.ErrInvalidArgument, k)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryTokens := g.tokenizer.Tokenize(query)
	if len(queryTokens) == 0 {
		return []domain.Candidate{}, nil
	}

	stats, err := g.store.GetStats()
	if err != nil {
		return nil, fmt.Errorf("%w: read corpus stats: %w", domain.ErrIndexUnavailable, err)
	}
	if stats.TotalBooks == 0 {
		return []domain.Candidate{}, nil
	}

	avgDl := stats.AvgBookLen
	if avgDl <= 0 {
		avgDl = 1
	}
	N := float64(stats.TotalBooks)

	scores := make(map[string]float64)
	lengths := make(map[string]int)

	for _, term := range queryTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		postings, err := g.store.GetPostings(term)
		if err != nil {
			return nil, fmt.Errorf("%w: postings for %q: %w", domain.ErrIndexUnavailable, term, err)
		}
		if len(postings) == 0 {
			continue
		}

		n := float64(len(postings))
		idf := math.Log((N-n+0.5)/(n+0.5) + 1)

		for _, posting := range postings {
			dl, ok := lengths[posting.BookID]
			if !ok {
				book, err := g.store.GetBook(posting.BookID)
				if errors.Is(err, domain.ErrNotFound) {
					// Posting left behind by a concurrent delete.
					lengths[posting.BookID] = -1
					continue
				}
				if err != nil {
					return nil, fmt.Errorf("%w: book %s: %w", domain.ErrIndexUnavailable, posting.BookID, err)
				}
				dl = len(book.Tokens)
				lengths[posting.BookID] = dl
			}
			if dl < 0 {
				continue
			}

			tf := float64(posting.TF)
			scores[posting.BookID] += idf * (tf * (g.k1 + 1)) / (tf + g.k1*(1-g.b+g.b*float64(dl)/avgDl))
		}
	}

	candidates := make([]domain.Candidate, 0, len(scores))
	for id, score := range scores {
		candidates = append(candidates, domain.Candidate{
			BookID:   id,
			RawScore: score,
			Source:   domain.SourceSparse,
		})
	}
	sortCandidates(candidates)

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// sortCandidates orders by raw score descending, then book ID ascending.
func sortCandidates(c []domain.Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].RawScore != c[j].RawScore {
			return c[i].RawScore > c[j].RawScore
		}
		return c[i].BookID < c[j].BookID
	})
}
