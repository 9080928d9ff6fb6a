package port

import (
	"context"

	"booksearch/internal/domain"
)

// CandidateGenerator produces up to k raw candidates for a query from one
// retrieval method.
type CandidateGenerator interface {
	Generate(ctx context.Context, query string, k int) ([]domain.Candidate, error)

	Source() domain.Source
}

// Fuser merges normalized dense and sparse candidates into a ranking of at
// most topK results.
type Fuser interface {
	Fuse(dense, sparse []domain.NormalizedCandidate, topK int) []domain.FusedResult
}
