package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"booksearch/internal/adapter/cache"
	"booksearch/internal/adapter/retriever"
	"booksearch/internal/domain"
	"booksearch/internal/logging"
	"booksearch/internal/metrics"
	"booksearch/internal/port"
)

const DefaultTimeout = 2 * time.Second

// Generationer reports the current index generation; the query cache uses it
// to drop rankings computed against an older index.
type Generationer interface {
	Generation() (uint64, error)
}

// Engine answers hybrid retrieval calls: it runs the dense and sparse
// generators concurrently, normalizes each batch, fuses them and streams the
// head of the ranking.
type Engine struct {
	dense   port.CandidateGenerator
	sparse  port.CandidateGenerator
	fuser   port.Fuser
	timeout time.Duration
	degrade bool

	cache *cache.QueryCache
	index Generationer

	log zerolog.Logger
}

type EngineOption func(*Engine)

// WithTimeout bounds each call. The caller's deadline still wins if sooner.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithDegradeToSingleSource lets a call succeed from one generator when the
// other fails with ErrIndexUnavailable.
func WithDegradeToSingleSource(enabled bool) EngineOption {
	return func(e *Engine) {
		e.degrade = enabled
	}
}

func WithCache(c *cache.QueryCache, index Generationer) EngineOption {
	return func(e *Engine) {
		e.cache = c
		e.index = index
	}
}

func NewEngine(dense, sparse port.CandidateGenerator, fuser port.Fuser, opts ...EngineOption) *Engine {
	if fuser == nil {
		fuser = retriever.NewWeightedFuser(1, 1)
	}
	e := &Engine{
		dense:   dense,
		sparse:  sparse,
		fuser:   fuser,
		timeout: DefaultTimeout,
		log:     logging.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve validates req, computes the fused ranking and returns a stream of
// its first TopN entries. Errors wrap ErrInvalidArgument, ErrIndexUnavailable
// or ErrDeadlineExceeded, or are the caller's context.Canceled.
func (e *Engine) Retrieve(ctx context.Context, req domain.RetrieveRequest) (*Stream, error) {
	start := time.Now()
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	ctx = logging.ContextWithLogger(ctx, e.log)

	fused, err := e.rank(ctx, req)
	metrics.RecordRetrieve(outcome(err), time.Since(start))
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("query", req.Query).Dur("elapsed", time.Since(start)).Msg("retrieve failed")
		return nil, err
	}

	logging.Ctx(ctx).Debug().
		Str("query", req.Query).
		Int("fused", len(fused)).
		Int("top_n", req.TopN).
		Dur("elapsed", time.Since(start)).
		Msg("retrieve")

	return NewStream(ctx, fused, req.TopN)
}

// Rank returns the full fused ranking (at most TopK entries) for req.
func (e *Engine) Rank(ctx context.Context, req domain.RetrieveRequest) ([]domain.FusedResult, error) {
	return e.rank(ctx, req)
}

func (e *Engine) rank(ctx context.Context, req domain.RetrieveRequest) ([]domain.FusedResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		generation uint64
		cacheable  = e.cache != nil && e.index != nil
	)
	if cacheable {
		gen, err := e.index.Generation()
		if err != nil {
			cacheable = false
		} else {
			generation = gen
			if hit, ok := e.cache.Get(req, generation); ok {
				metrics.RecordCache(true)
				return hit, nil
			}
			metrics.RecordCache(false)
		}
	}

	dense, sparse, degraded, err := e.generate(ctx, req)
	if err != nil {
		return nil, err
	}

	fused := e.fuser.Fuse(retriever.MinMax(dense), retriever.MinMax(sparse), req.TopK)

	if cacheable && !degraded {
		e.cache.Put(req, generation, fused)
	}
	return fused, nil
}

// generate fans out to both generators under the call timeout. The first
// failure cancels the sibling.
func (e *Engine) generate(ctx context.Context, req domain.RetrieveRequest) (dense, sparse []domain.Candidate, degraded bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var denseErr, sparseErr error
	g, gctx := errgroup.WithContext(callCtx)

	g.Go(func() error {
		dense, denseErr = e.run(gctx, e.dense, req.Query, req.DenseTopK)
		return e.propagate(denseErr)
	})
	g.Go(func() error {
		sparse, sparseErr = e.run(gctx, e.sparse, req.Query, req.SparseTopK)
		return e.propagate(sparseErr)
	})

	if err := g.Wait(); err != nil {
		return nil, nil, false, classify(ctx, callCtx, err, e.timeout)
	}
	// Generators that ignore ctx can finish after the deadline; their late
	// answers are discarded.
	if err := callCtx.Err(); err != nil {
		return nil, nil, false, classify(ctx, callCtx, err, e.timeout)
	}

	switch {
	case denseErr != nil && sparseErr != nil:
		return nil, nil, false, fmt.Errorf("%w: both generators failed: %w", domain.ErrIndexUnavailable, errors.Join(denseErr, sparseErr))
	case denseErr != nil:
		logging.Ctx(ctx).Warn().Err(denseErr).Msg("dense generator failed, answering from sparse only")
		metrics.RecordDegraded(string(domain.SourceDense))
		return nil, sparse, true, nil
	case sparseErr != nil:
		logging.Ctx(ctx).Warn().Err(sparseErr).Msg("sparse generator failed, answering from dense only")
		metrics.RecordDegraded(string(domain.SourceSparse))
		return dense, nil, true, nil
	}
	return dense, sparse, false, nil
}

func (e *Engine) run(ctx context.Context, gen port.CandidateGenerator, query string, k int) ([]domain.Candidate, error) {
	start := time.Now()
	candidates, err := gen.Generate(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("%s generator: %w", gen.Source(), err)
	}
	metrics.RecordGenerator(string(gen.Source()), time.Since(start), len(candidates))
	return candidates, nil
}

// propagate decides whether a generator error fails the whole call. Only index
// outages are absorbed, and only when degrading is enabled.
func (e *Engine) propagate(err error) error {
	if err == nil {
		return nil
	}
	if e.degrade && errors.Is(err, domain.ErrIndexUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// classify maps a fan-out failure onto the public error kinds. A deadline hit
// on either the caller's context or the call timeout becomes
// ErrDeadlineExceeded even if a generator reported it differently.
func classify(parent, callCtx context.Context, err error, timeout time.Duration) error {
	if errors.Is(err, domain.ErrInvalidArgument) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: retrieve did not finish within %v: %w", domain.ErrDeadlineExceeded, timeout, err)
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("retrieve cancelled: %w", parent.Err())
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return "index_unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
