package retriever

import "math"

// PrecisionAtK is the fraction of retrieved IDs that are relevant.
func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(retrieved))
}

// RecallAtK is the fraction of relevant IDs that were retrieved.
func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(hits(retrieved, relevant)) / float64(len(relevant))
}

func hits(retrieved, relevant []string) int {
	relevantSet := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		relevantSet[r] = true
	}
	n := 0
	for _, r := range retrieved {
		if relevantSet[r] {
			n++
		}
	}
	return n
}

// ReciprocalRank is 1/rank of the first relevant ID, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		relevantSet[r] = true
	}
	for i, r := range retrieved {
		if relevantSet[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// NDCG compares graded gains in retrieved order against the ideal ordering.
func NDCG(scores, ideal []float64) float64 {
	idcg := dcg(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg(scores) / idcg
}

// BinaryNDCG computes NDCG with gain 1 for relevant IDs.
func BinaryNDCG(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		relevantSet[r] = true
	}
	gains := make([]float64, len(retrieved))
	for i, r := range retrieved {
		if relevantSet[r] {
			gains[i] = 1
		}
	}
	ideal := make([]float64, min(len(relevant), len(retrieved)))
	for i := range ideal {
		ideal[i] = 1
	}
	return NDCG(gains, ideal)
}

func dcg(scores []float64) float64 {
	total := 0.0
	for i, score := range scores {
		total += score / math.Log2(float64(i+2))
	}
	return total
}
