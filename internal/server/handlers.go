package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"booksearch/internal/domain"
	"booksearch/internal/logging"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := statusFor(err)
	writeJSON(w, code, errorBody{Error: err.Error(), Code: kind})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "index_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRequest reads a retrieve body. Omitted fields take the configured
// defaults.
func (s *Server) decodeRequest(r *http.Request) (domain.RetrieveRequest, error) {
	req := domain.RetrieveRequest{
		DenseTopK:  s.defaults.DenseTopK,
		SparseTopK: s.defaults.SparseTopK,
		TopK:       s.defaults.TopK,
		TopN:       s.defaults.TopN,
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: malformed request body: %v", domain.ErrInvalidArgument, err)
	}
	return req, nil
}

// handleRetrieve streams the ranking as NDJSON, one result per line, flushing
// after each so clients see the head of the ranking as soon as it is ready.
// Errors before the first byte map onto a status code; once streaming has
// started a failure can only end the response early.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := s.decodeRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stream, err := s.engine.Retrieve(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	sent := 0
	for result, err := range stream.All() {
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int("sent", sent).Msg("stream ended early")
			return
		}
		if err := enc.Encode(result); err != nil {
			logging.Ctx(ctx).Debug().Err(err).Msg("client went away")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		sent++
	}
}
