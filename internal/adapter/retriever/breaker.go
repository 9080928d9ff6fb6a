package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"booksearch/internal/domain"
	"booksearch/internal/logging"
	"booksearch/internal/metrics"
	"booksearch/internal/port"
)

var _ port.CandidateGenerator = (*BreakerGenerator)(nil)

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive index failures that opens the circuit.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before a probe is let through.
	OpenTimeout time.Duration
}

// BreakerGenerator fails fast with ErrIndexUnavailable while the wrapped
// generator's index is known to be down.
type BreakerGenerator struct {
	next port.CandidateGenerator
	cb   *gobreaker.CircuitBreaker[[]domain.Candidate]
	name string
}

func NewBreakerGenerator(next port.CandidateGenerator, cfg BreakerConfig) *BreakerGenerator {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	name := string(next.Source()) + "-generator"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]domain.Candidate](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Only index outages count against the breaker; bad arguments and
		// caller cancellations say nothing about the backend.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrIndexUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerGenerator{next: next, cb: cb, name: name}
}

func (g *BreakerGenerator) Source() domain.Source {
	return g.next.Source()
}

func (g *BreakerGenerator) Generate(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	candidates, err := g.cb.Execute(func() ([]domain.Candidate, error) {
		return g.next.Generate(ctx, query, k)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(g.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrIndexUnavailable, g.name, err)
		}
		result := "failure"
		if !errors.Is(err, domain.ErrIndexUnavailable) {
			result = "caller_error"
		}
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, result).Inc()
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(g.name, "success").Inc()
	return candidates, nil
}

func (g *BreakerGenerator) State() gobreaker.State {
	return g.cb.State()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
