package retriever

import (
	"fmt"
	"sort"

	"booksearch/internal/domain"
	"booksearch/internal/port"
)

const (
	FusionWeighted = "weighted"
	FusionRRF      = "rrf"

	DefaultRRFK = 60
)

var (
	_ port.Fuser = (*WeightedFuser)(nil)
	_ port.Fuser = (*RRFFuser)(nil)
)

// NewFuser builds the fusion policy named by method.
func NewFuser(method string, denseWeight, sparseWeight float64, rrfK int) (port.Fuser, error) {
	if denseWeight < 0 || sparseWeight < 0 {
		return nil, fmt.Errorf("fusion weights must be non-negative, got dense=%v sparse=%v", denseWeight, sparseWeight)
	}
	switch method {
	case "", FusionWeighted:
		return NewWeightedFuser(denseWeight, sparseWeight), nil
	case FusionRRF:
		return NewRRFFuser(rrfK, denseWeight, sparseWeight), nil
	default:
		return nil, fmt.Errorf("unknown fusion method %q", method)
	}
}

// WeightedFuser sums per-source normalized scores. A book seen by only one
// source keeps that source's weighted score.
type WeightedFuser struct {
	denseWeight  float64
	sparseWeight float64
}

func NewWeightedFuser(denseWeight, sparseWeight float64) *WeightedFuser {
	return &WeightedFuser{denseWeight: denseWeight, sparseWeight: sparseWeight}
}

func (f *WeightedFuser) Fuse(dense, sparse []domain.NormalizedCandidate, topK int) []domain.FusedResult {
	scores := make(map[string]float64, len(dense)+len(sparse))
	for _, c := range dense {
		scores[c.BookID] += f.denseWeight * c.Score
	}
	for _, c := range sparse {
		scores[c.BookID] += f.sparseWeight * c.Score
	}
	return rank(scores, topK)
}

// RRFFuser implements weighted Reciprocal Rank Fusion:
// score = Σ w_s / (k + rank_s), rank starting at 1.
type RRFFuser struct {
	k            int
	denseWeight  float64
	sparseWeight float64
}

func NewRRFFuser(k int, denseWeight, sparseWeight float64) *RRFFuser {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &RRFFuser{k: k, denseWeight: denseWeight, sparseWeight: sparseWeight}
}

func (f *RRFFuser) Fuse(dense, sparse []domain.NormalizedCandidate, topK int) []domain.FusedResult {
	scores := make(map[string]float64, len(dense)+len(sparse))
	for r, c := range byScore(dense) {
		scores[c.BookID] += f.denseWeight / float64(f.k+r+1)
	}
	for r, c := range byScore(sparse) {
		scores[c.BookID] += f.sparseWeight / float64(f.k+r+1)
	}
	return rank(scores, topK)
}

// byScore returns a copy of batch ordered best-first so ranks do not depend on
// the order the generator happened to return.
func byScore(batch []domain.NormalizedCandidate) []domain.NormalizedCandidate {
	out := make([]domain.NormalizedCandidate, len(batch))
	copy(out, batch)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].BookID < out[j].BookID
	})
	return out
}

// rank sorts fused scores descending with ascending book ID on ties and keeps
// at most topK.
func rank(scores map[string]float64, topK int) []domain.FusedResult {
	fused := make([]domain.FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, domain.FusedResult{BookID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].BookID < fused[j].BookID
	})

	if topK >= 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
