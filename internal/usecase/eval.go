package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"booksearch/internal/adapter/retriever"
	"booksearch/internal/domain"
)

// Judgment lists the books a reader considers relevant for one query.
type Judgment struct {
	Query    string   `json:"query"`
	Relevant []string `json:"relevant"`
}

// ReadJudgments decodes a JSON-lines relevance file.
func ReadJudgments(r io.Reader) ([]Judgment, error) {
	dec := json.NewDecoder(r)
	var out []Judgment
	for line := 1; ; line++ {
		var j Judgment
		err := dec.Decode(&j)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("judgment %d: %w", line, err)
		}
		if strings.TrimSpace(j.Query) == "" || len(j.Relevant) == 0 {
			return nil, fmt.Errorf("judgment %d: %w: query and relevant are required", line, domain.ErrInvalidArgument)
		}
		out = append(out, j)
	}
	return out, nil
}

type QueryEval struct {
	Query     string  `json:"query"`
	Retrieved int     `json:"retrieved"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	RR        float64 `json:"reciprocal_rank"`
	NDCG      float64 `json:"ndcg"`
}

type EvalReport struct {
	Queries   []QueryEval `json:"queries"`
	Precision float64     `json:"mean_precision"`
	Recall    float64     `json:"mean_recall"`
	MRR       float64     `json:"mrr"`
	NDCG      float64     `json:"mean_ndcg"`
}

// Evaluate runs every judged query through the engine with the sizes of base
// and scores the returned top-n.
func Evaluate(ctx context.Context, e *Engine, judgments []Judgment, base domain.RetrieveRequest) (*EvalReport, error) {
	report := &EvalReport{Queries: make([]QueryEval, 0, len(judgments))}

	for _, j := range judgments {
		req := base
		req.Query = j.Query

		stream, err := e.Retrieve(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", j.Query, err)
		}
		resp, err := stream.Collect()
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", j.Query, err)
		}

		q := QueryEval{
			Query:     j.Query,
			Retrieved: resp.Len(),
			Precision: retriever.PrecisionAtK(resp.BookIDs, j.Relevant),
			Recall:    retriever.RecallAtK(resp.BookIDs, j.Relevant),
			RR:        retriever.ReciprocalRank(resp.BookIDs, j.Relevant),
			NDCG:      retriever.BinaryNDCG(resp.BookIDs, j.Relevant),
		}
		report.Queries = append(report.Queries, q)

		report.Precision += q.Precision
		report.Recall += q.Recall
		report.MRR += q.RR
		report.NDCG += q.NDCG
	}

	if n := float64(len(report.Queries)); n > 0 {
		report.Precision /= n
		report.Recall /= n
		report.MRR /= n
		report.NDCG /= n
	}
	return report, nil
}
