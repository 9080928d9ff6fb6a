package retriever

import (
	"context"
	"fmt"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

var _ port.CandidateGenerator = (*DenseGenerator)(nil)

// DenseGenerator embeds the query and returns the nearest books by cosine
// similarity.
type DenseGenerator struct {
	embedder    port.Embedder
	vectorStore port.VectorStore
}

func NewDenseGenerator(embedder port.Embedder, vectorStore port.VectorStore) *DenseGenerator {
	return &DenseGenerator{
		embedder:    embedder,
		vectorStore: vectorStore,
	}
}

func (g *DenseGenerator) Source() domain.Source {
	return domain.SourceDense
}

func (g *DenseGenerator) Generate(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: dense k must be positive, got %d", domain.ErrInvalidArgument, k)
	}
	if g.vectorStore == nil || g.embedder == nil {
		return nil, fmt.Errorf("%w: embeddings not configured", domain.ErrIndexUnavailable)
	}

	embeddings, err := g.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, unavailable(ctx, "embed query", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: embedder returned empty result", domain.ErrIndexUnavailable)
	}

	results, err := g.vectorStore.Search(ctx, embeddings[0], k)
	if err != nil {
		return nil, unavailable(ctx, "vector search", err)
	}

	candidates := make([]domain.Candidate, 0, len(results))
	for _, result := range results {
		candidates = append(candidates, domain.Candidate{
			BookID:   result.ID,
			RawScore: result.Score,
			Source:   domain.SourceDense,
		})
	}
	sortCandidates(candidates)

	return candidates, nil
}

// unavailable wraps a backend failure as ErrIndexUnavailable unless the
// failure was caused by the caller's context.
func unavailable(ctx context.Context, what string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexUnavailable, what, err)
}
