package retriever

import "booksearch/internal/domain"

// MinMax rescales one source's batch to [0,1]. A batch whose scores are all
// equal, including a batch of one, normalizes to 1.0 throughout.
func MinMax(batch []domain.Candidate) []domain.NormalizedCandidate {
	if len(batch) == 0 {
		return []domain.NormalizedCandidate{}
	}

	lo, hi := batch[0].RawScore, batch[0].RawScore
	for _, c := range batch[1:] {
		lo = min(lo, c.RawScore)
		hi = max(hi, c.RawScore)
	}
	span := hi - lo

	out := make([]domain.NormalizedCandidate, len(batch))
	for i, c := range batch {
		score := 1.0
		if span > 0 {
			score = (c.RawScore - lo) / span
		}
		out[i] = domain.NormalizedCandidate{
			BookID: c.BookID,
			Score:  score,
			Source: c.Source,
		}
	}
	return out
}
