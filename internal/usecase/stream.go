package usecase

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	"booksearch/internal/domain"
)

const (
	modeIdle int32 = iota
	modeRecv
	modeIter
)

// Stream delivers fused results best-first from a producer goroutine. It can
// be read once, either by repeated Recv calls or by a single All/Collect.
// Close, context cancellation or the end of the results stops the producer.
type Stream struct {
	ch     chan domain.FusedResult
	done   chan struct{}
	exited chan struct{}
	err    error // set by the producer before ch is closed

	mode      atomic.Int32
	closeOnce sync.Once
}

// NewStream emits the first min(topN, len(results)) entries of results.
func NewStream(ctx context.Context, results []domain.FusedResult, topN int) (*Stream, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: top_n must be positive, got %d", domain.ErrInvalidArgument, topN)
	}
	if topN < len(results) {
		results = results[:topN]
	}

	s := &Stream{
		ch:     make(chan domain.FusedResult),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.produce(ctx, results)
	return s, nil
}

func (s *Stream) produce(ctx context.Context, results []domain.FusedResult) {
	defer close(s.exited)
	defer close(s.ch)

	for _, r := range results {
		select {
		case s.ch <- r:
		case <-s.done:
			return
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
	}
}

// Recv returns the next result, io.EOF once the stream is exhausted or closed,
// or the context error if the call was cancelled mid-stream.
func (s *Stream) Recv() (domain.FusedResult, error) {
	if !s.mode.CompareAndSwap(modeIdle, modeRecv) && s.mode.Load() != modeRecv {
		return domain.FusedResult{}, domain.ErrStreamConsumed
	}
	return s.next()
}

func (s *Stream) next() (domain.FusedResult, error) {
	r, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return domain.FusedResult{}, s.err
		}
		return domain.FusedResult{}, io.EOF
	}
	return r, nil
}

// All ranges over the stream. Breaking out of the loop closes the stream. A
// stream that has already been read yields a single ErrStreamConsumed.
func (s *Stream) All() iter.Seq2[domain.FusedResult, error] {
	return func(yield func(domain.FusedResult, error) bool) {
		if !s.mode.CompareAndSwap(modeIdle, modeIter) {
			yield(domain.FusedResult{}, domain.ErrStreamConsumed)
			return
		}
		defer s.Close()

		for {
			r, err := s.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(domain.FusedResult{}, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains the stream into parallel id and score slices.
func (s *Stream) Collect() (domain.RetrieveResponse, error) {
	resp := domain.RetrieveResponse{BookIDs: []string{}, Scores: []float64{}}
	for r, err := range s.All() {
		if err != nil {
			return domain.RetrieveResponse{}, err
		}
		resp.BookIDs = append(resp.BookIDs, r.BookID)
		resp.Scores = append(resp.Scores, r.Score)
	}
	return resp, nil
}

// Close stops the producer and waits for it to exit. It is safe to call more
// than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.exited
	return nil
}
