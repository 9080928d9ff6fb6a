package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booksearch/config"
	"booksearch/internal/domain"
	"booksearch/internal/usecase"
)

type stubGenerator struct {
	source     domain.Source
	candidates []domain.Candidate
	err        error
	block      bool
	lastK      int
}

func (g *stubGenerator) Generate(ctx context.Context, _ string, k int) ([]domain.Candidate, error) {
	g.lastK = k
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.candidates, nil
}

func (g *stubGenerator) Source() domain.Source { return g.source }

func newTestServer(t *testing.T, dense, sparse *stubGenerator, opts ...usecase.EngineOption) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.RateLimit = 0
	engine := usecase.NewEngine(dense, sparse, nil, opts...)
	return New(engine, nil, cfg.Server, cfg.Retrieve).Handler()
}

func okGenerators() (*stubGenerator, *stubGenerator) {
	dense := &stubGenerator{source: domain.SourceDense, candidates: []domain.Candidate{
		{BookID: "dune", RawScore: 0.9, Source: domain.SourceDense},
		{BookID: "hobbit", RawScore: 0.1, Source: domain.SourceDense},
	}}
	sparse := &stubGenerator{source: domain.SourceSparse, candidates: []domain.Candidate{
		{BookID: "dune", RawScore: 7, Source: domain.SourceSparse},
		{BookID: "messiah", RawScore: 3, Source: domain.SourceSparse},
		{BookID: "hobbit", RawScore: 1, Source: domain.SourceSparse},
	}}
	return dense, sparse
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeLines(t *testing.T, rec *httptest.ResponseRecorder) []domain.FusedResult {
	t.Helper()
	var out []domain.FusedResult
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var r domain.FusedResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRetrieve_StreamsNDJSON(t *testing.T) {
	dense, sparse := okGenerators()
	h := newTestServer(t, dense, sparse)

	rec := post(h, `{"query":"dune","dense_top_k":5,"sparse_top_k":5,"top_k":5,"top_n":2}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	results := decodeLines(t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "dune", results[0].BookID)
	assert.InDelta(t, 2.0, results[0].Score, 1e-12)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestRetrieve_DefaultsFromConfig(t *testing.T) {
	dense, sparse := okGenerators()
	h := newTestServer(t, dense, sparse)

	rec := post(h, `{"query":"dune"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	defaults := config.DefaultConfig().Retrieve
	assert.Equal(t, defaults.DenseTopK, dense.lastK)
	assert.Equal(t, defaults.SparseTopK, sparse.lastK)
	assert.Len(t, decodeLines(t, rec), 3)
}

func TestRetrieve_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		setup    func(dense, sparse *stubGenerator)
		opts     []usecase.EngineOption
		wantCode int
		wantKind string
	}{
		{
			name:     "malformed body",
			body:     `{"query":`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_argument",
		},
		{
			name:     "unknown field",
			body:     `{"query":"dune","limit":3}`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_argument",
		},
		{
			name:     "empty query",
			body:     `{"query":""}`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_argument",
		},
		{
			name:     "top_n above top_k",
			body:     `{"query":"dune","top_k":2,"top_n":3}`,
			wantCode: http.StatusBadRequest,
			wantKind: "invalid_argument",
		},
		{
			name: "index unavailable",
			body: `{"query":"dune"}`,
			setup: func(dense, _ *stubGenerator) {
				dense.err = domain.ErrIndexUnavailable
			},
			wantCode: http.StatusServiceUnavailable,
			wantKind: "index_unavailable",
		},
		{
			name: "deadline",
			body: `{"query":"dune"}`,
			setup: func(dense, _ *stubGenerator) {
				dense.block = true
			},
			opts:     []usecase.EngineOption{usecase.WithTimeout(20 * time.Millisecond)},
			wantCode: http.StatusGatewayTimeout,
			wantKind: "deadline_exceeded",
		},
		{
			name: "unexpected failure",
			body: `{"query":"dune"}`,
			setup: func(_, sparse *stubGenerator) {
				sparse.err = errors.New("boom")
			},
			wantCode: http.StatusInternalServerError,
			wantKind: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dense, sparse := okGenerators()
			if tt.setup != nil {
				tt.setup(dense, sparse)
			}
			h := newTestServer(t, dense, sparse, tt.opts...)

			rec := post(h, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantKind, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestRequestID(t *testing.T) {
	dense, sparse := okGenerators()
	h := newTestServer(t, dense, sparse)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)
}

func TestHealth(t *testing.T) {
	dense, sparse := okGenerators()
	cfg := config.DefaultConfig()
	engine := usecase.NewEngine(dense, sparse, nil)

	healthy := New(engine, func(context.Context) error { return nil }, cfg.Server, cfg.Retrieve).Handler()
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	broken := New(engine, func(context.Context) error { return domain.ErrIndexUnavailable }, cfg.Server, cfg.Retrieve).Handler()
	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	dense, sparse := okGenerators()
	h := newTestServer(t, dense, sparse)

	post(h, `{"query":"dune"}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "booksearch_retrieve_duration_seconds")
}

func TestRateLimit(t *testing.T) {
	dense, sparse := okGenerators()
	cfg := config.DefaultConfig()
	cfg.Server.RateLimit = 1
	h := New(usecase.NewEngine(dense, sparse, nil), nil, cfg.Server, cfg.Retrieve).Handler()

	assert.Equal(t, http.StatusOK, post(h, `{"query":"dune"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, `{"query":"dune"}`).Code)
}
