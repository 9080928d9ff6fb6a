package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booksearch/internal/adapter/analyzer"
	"booksearch/internal/adapter/cache"
	"booksearch/internal/adapter/embedding"
	"booksearch/internal/adapter/memstore"
	"booksearch/internal/adapter/retriever"
	"booksearch/internal/domain"
	"booksearch/internal/port"
)

type fakeGenerator struct {
	source     domain.Source
	candidates []domain.Candidate
	err        error
	block      bool
	delay      time.Duration
	cancelled  chan struct{}
	calls      atomic.Int32
}

func newFake(source domain.Source, candidates ...domain.Candidate) *fakeGenerator {
	for i := range candidates {
		candidates[i].Source = source
	}
	return &fakeGenerator{source: source, candidates: candidates, cancelled: make(chan struct{})}
}

func (g *fakeGenerator) Generate(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		close(g.cancelled)
		return nil, ctx.Err()
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	out := append([]domain.Candidate(nil), g.candidates...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (g *fakeGenerator) Source() domain.Source { return g.source }

func cand(id string, score float64) domain.Candidate {
	return domain.Candidate{BookID: id, RawScore: score}
}

func request(query string) domain.RetrieveRequest {
	return domain.RetrieveRequest{Query: query, DenseTopK: 50, SparseTopK: 50, TopK: 20, TopN: 5}
}

func collect(t *testing.T, e *Engine, req domain.RetrieveRequest) domain.RetrieveResponse {
	t.Helper()
	s, err := e.Retrieve(context.Background(), req)
	require.NoError(t, err)
	resp, err := s.Collect()
	require.NoError(t, err)
	return resp
}

func assertWellFormed(t *testing.T, resp domain.RetrieveResponse, topN int) {
	t.Helper()
	require.Equal(t, len(resp.BookIDs), len(resp.Scores))
	assert.LessOrEqual(t, resp.Len(), topN)

	seen := make(map[string]bool)
	for i, id := range resp.BookIDs {
		assert.False(t, seen[id], "duplicate book id %s", id)
		seen[id] = true
		if i > 0 {
			assert.LessOrEqual(t, resp.Scores[i], resp.Scores[i-1], "scores must be non-increasing")
		}
	}
}

var catalogue = []domain.Book{
	{ID: "dune-1", Title: "Dune", Authors: []string{"Frank Herbert"}, Description: "Paul Atreides on the desert planet Arrakis, source of the spice."},
	{ID: "dune-2", Title: "Dune Messiah", Authors: []string{"Frank Herbert"}, Description: "Emperor Paul faces conspiracy across the desert empire."},
	{ID: "dune-3", Title: "Children of Dune", Authors: []string{"Frank Herbert"}, Description: "The twins of Paul inherit Arrakis."},
	{ID: "hobbit", Title: "The Hobbit", Authors: []string{"J. R. R. Tolkien"}, Description: "Bilbo leaves the Shire with dwarves to face a dragon."},
	{ID: "neuro", Title: "Neuromancer", Authors: []string{"William Gibson"}, Description: "A washed-up hacker in cyberspace."},
	{ID: "found", Title: "Foundation", Authors: []string{"Isaac Asimov"}, Description: "Psychohistory predicts the fall of a galactic empire."},
	{ID: "hyperion", Title: "Hyperion", Authors: []string{"Dan Simmons"}, Description: "Pilgrims travel to the Time Tombs on a desert world."},
	{ID: "sands", Title: "Sands of Mars", Authors: []string{"Arthur C. Clarke"}, Description: "A writer visits the red desert of Mars."},
}

// realEngine wires the BM25 and hash-embedding generators over memory stores.
func realEngine(t *testing.T, opts ...EngineOption) (*Engine, *memstore.MemoryStore) {
	t.Helper()
	tokenizer := analyzer.NewTokenizer(true)
	st := memstore.NewMemoryStore()
	vs := memstore.NewVectorStore()
	embedder := embedding.NewHashEmbedder(128, tokenizer)

	books := append([]domain.Book(nil), catalogue...)
	postings := make(map[string]map[string]int)
	total := 0
	texts := make([]string, len(books))
	for i := range books {
		books[i].Tokens = tokenizer.Tokenize(books[i].Text())
		total += len(books[i].Tokens)
		texts[i] = books[i].Text()
		for _, tok := range books[i].Tokens {
			if postings[tok] == nil {
				postings[tok] = make(map[string]int)
			}
			postings[tok][books[i].ID]++
		}
	}
	require.NoError(t, st.BatchIndex([]port.IndexedFile{{Source: domain.CatalogueFile{ID: "s", Path: "books.jsonl"}, Books: books, Postings: postings}}))
	require.NoError(t, st.UpdateStats(domain.Stats{TotalBooks: len(books), AvgBookLen: float64(total) / float64(len(books))}))

	vecs, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)
	items := make([]port.VectorItem, len(books))
	for i, b := range books {
		items[i] = port.VectorItem{ID: b.ID, Vector: vecs[i]}
	}
	require.NoError(t, vs.Upsert(items))

	e := NewEngine(
		retriever.NewDenseGenerator(embedder, vs),
		retriever.NewBM25Generator(st, tokenizer, 1.2, 0.75),
		retriever.NewWeightedFuser(1, 1),
		opts...,
	)
	return e, st
}

func TestEngine_DuneScenario(t *testing.T) {
	e, _ := realEngine(t)

	resp := collect(t, e, request("dune"))

	require.Equal(t, 5, resp.Len())
	assertWellFormed(t, resp, 5)
	assert.True(t, strings.HasPrefix(resp.BookIDs[0], "dune-"), "top hit %s", resp.BookIDs[0])
}

func TestEngine_Idempotent(t *testing.T) {
	e, _ := realEngine(t)

	a := collect(t, e, request("desert planet"))
	b := collect(t, e, request("desert planet"))
	assert.Equal(t, a, b)
}

func TestEngine_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.RetrieveRequest)
	}{
		{"empty query", func(r *domain.RetrieveRequest) { r.Query = "" }},
		{"blank query", func(r *domain.RetrieveRequest) { r.Query = "   " }},
		{"zero dense", func(r *domain.RetrieveRequest) { r.DenseTopK = 0 }},
		{"negative sparse", func(r *domain.RetrieveRequest) { r.SparseTopK = -1 }},
		{"topN above topK", func(r *domain.RetrieveRequest) { r.TopN = 21 }},
		{"zero topN", func(r *domain.RetrieveRequest) { r.TopN = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dense := newFake(domain.SourceDense, cand("a", 1))
			sparse := newFake(domain.SourceSparse, cand("a", 1))
			e := NewEngine(dense, sparse, nil)

			req := request("dune")
			tt.mutate(&req)
			s, err := e.Retrieve(context.Background(), req)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Zero(t, dense.calls.Load(), "no generator work on invalid input")
			assert.Zero(t, sparse.calls.Load())
		})
	}
}

func TestEngine_FusesBothSources(t *testing.T) {
	dense := newFake(domain.SourceDense, cand("a", 0.9), cand("b", 0.5), cand("c", 0.1))
	sparse := newFake(domain.SourceSparse, cand("b", 12), cand("d", 3), cand("a", 0))
	e := NewEngine(dense, sparse, nil)

	req := request("q")
	req.TopN = 20
	resp := collect(t, e, req)
	assertWellFormed(t, resp, 20)

	// dense: a=1 b=0.5 c=0; sparse: b=1 d=0.25 a=0
	assert.Equal(t, []string{"b", "a", "d", "c"}, resp.BookIDs)
	assert.InDelta(t, 1.5, resp.Scores[0], 1e-12)
}

func TestEngine_BothSidesMonotonic(t *testing.T) {
	dense := newFake(domain.SourceDense, cand("x", 0.4), cand("y", 0.8), cand("z", 0.2))
	sparse := newFake(domain.SourceSparse, cand("x", 5), cand("w", 9), cand("v", 1))
	e := NewEngine(dense, sparse, nil)

	req := request("q")
	req.TopN = 20
	resp := collect(t, e, req)

	dn := retriever.MinMax(dense.candidates)
	sn := retriever.MinMax(sparse.candidates)
	want := max(dn[0].Score, sn[0].Score)

	for i, id := range resp.BookIDs {
		if id == "x" {
			assert.GreaterOrEqual(t, resp.Scores[i], want)
			return
		}
	}
	t.Fatal("x missing from fused output")
}

func TestEngine_EmptyUnion(t *testing.T) {
	e := NewEngine(newFake(domain.SourceDense), newFake(domain.SourceSparse), nil)

	resp := collect(t, e, request("nothing matches"))
	assert.Equal(t, 0, resp.Len())
}

func TestEngine_TopKTruncatesBeforeTopN(t *testing.T) {
	var cands []domain.Candidate
	for i := 0; i < 30; i++ {
		cands = append(cands, cand(fmt.Sprintf("b%02d", i), float64(i)))
	}
	e := NewEngine(newFake(domain.SourceDense, cands...), newFake(domain.SourceSparse), nil)

	req := request("q")
	req.TopK, req.TopN = 3, 3
	ranked, err := e.Rank(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, ranked, 3)
	assert.Equal(t, "b29", ranked[0].BookID)
}

func TestEngine_DenseTimeoutCancelsSparse(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.block = true
	sparse := newFake(domain.SourceSparse)
	sparse.block = true

	e := NewEngine(dense, sparse, nil, WithTimeout(50*time.Millisecond))

	start := time.Now()
	s, err := e.Retrieve(context.Background(), request("dune"))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-sparse.cancelled:
	case <-time.After(time.Second):
		t.Fatal("sparse generator was not cancelled")
	}
}

func TestEngine_CallerDeadlineWins(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.block = true
	e := NewEngine(dense, newFake(domain.SourceSparse, cand("a", 1)), nil, WithTimeout(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := e.Retrieve(ctx, request("dune"))
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestEngine_LateAnswersAreDiscarded(t *testing.T) {
	dense := newFake(domain.SourceDense, cand("a", 0.9))
	dense.delay = 80 * time.Millisecond
	sparse := newFake(domain.SourceSparse, cand("b", 3))
	sparse.delay = 80 * time.Millisecond

	e := NewEngine(dense, sparse, nil, WithTimeout(20*time.Millisecond))

	s, err := e.Retrieve(context.Background(), request("dune"))
	assert.Nil(t, s)
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestEngine_FailClosed(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.err = fmt.Errorf("%w: vector store offline", domain.ErrIndexUnavailable)
	sparse := newFake(domain.SourceSparse)
	sparse.block = true

	e := NewEngine(dense, sparse, nil)

	_, err := e.Retrieve(context.Background(), request("dune"))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.NotErrorIs(t, err, domain.ErrDeadlineExceeded)

	select {
	case <-sparse.cancelled:
	case <-time.After(time.Second):
		t.Fatal("sibling generator was not cancelled")
	}
}

func TestEngine_DegradeToSingleSource(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.err = fmt.Errorf("%w: vector store offline", domain.ErrIndexUnavailable)
	sparse := newFake(domain.SourceSparse, cand("a", 3), cand("b", 1))

	e := NewEngine(dense, sparse, nil, WithDegradeToSingleSource(true))

	resp := collect(t, e, request("dune"))
	assert.Equal(t, []string{"a", "b"}, resp.BookIDs)
	assert.Equal(t, []float64{1, 0}, resp.Scores)
}

func TestEngine_DegradeBothFail(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.err = domain.ErrIndexUnavailable
	sparse := newFake(domain.SourceSparse)
	sparse.err = domain.ErrIndexUnavailable

	e := NewEngine(dense, sparse, nil, WithDegradeToSingleSource(true))

	_, err := e.Retrieve(context.Background(), request("dune"))
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func TestEngine_DegradeStillFailsOnDeadline(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.block = true
	e := NewEngine(dense, newFake(domain.SourceSparse, cand("a", 1)), nil,
		WithDegradeToSingleSource(true), WithTimeout(30*time.Millisecond))

	_, err := e.Retrieve(context.Background(), request("dune"))
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestEngine_CallerCancel(t *testing.T) {
	dense := newFake(domain.SourceDense)
	dense.block = true
	e := NewEngine(dense, newFake(domain.SourceSparse), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Retrieve(ctx, request("dune"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestEngine_CacheKeyedOnGeneration(t *testing.T) {
	st := memstore.NewMemoryStore()
	dense := newFake(domain.SourceDense, cand("a", 1))
	sparse := newFake(domain.SourceSparse, cand("b", 1))
	e := NewEngine(dense, sparse, nil, WithCache(cache.NewQueryCache(10, time.Minute), st))

	first := collect(t, e, request("dune"))
	second := collect(t, e, request("dune"))
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), dense.calls.Load(), "second call served from cache")

	require.NoError(t, st.UpdateStats(domain.Stats{TotalBooks: 1}))
	collect(t, e, request("dune"))
	assert.Equal(t, int32(2), dense.calls.Load(), "index change invalidates the cache")
}

func TestEngine_DegradedResultsNotCached(t *testing.T) {
	st := memstore.NewMemoryStore()
	dense := newFake(domain.SourceDense)
	dense.err = domain.ErrIndexUnavailable
	sparse := newFake(domain.SourceSparse, cand("b", 1))
	e := NewEngine(dense, sparse, nil,
		WithDegradeToSingleSource(true),
		WithCache(cache.NewQueryCache(10, time.Minute), st))

	collect(t, e, request("dune"))
	collect(t, e, request("dune"))
	assert.Equal(t, int32(2), sparse.calls.Load())
}

func TestHydrate(t *testing.T) {
	_, st := realEngine(t)

	hits, err := Hydrate(st, domain.RetrieveResponse{
		BookIDs: []string{"dune-1", "gone"},
		Scores:  []float64{2, 1},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Dune", hits[0].Title)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, "gone", hits[1].BookID)
	assert.Empty(t, hits[1].Title)
}
