package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() RetrieveRequest {
	return RetrieveRequest{Query: "dune", DenseTopK: 50, SparseTopK: 50, TopK: 20, TopN: 5}
}

func TestRetrieveRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *RetrieveRequest)
		wantErr bool
		field   string
	}{
		{name: "valid", mutate: func(r *RetrieveRequest) {}},
		{name: "topN equals topK", mutate: func(r *RetrieveRequest) { r.TopN = r.TopK }},
		{name: "empty query", mutate: func(r *RetrieveRequest) { r.Query = "" }, wantErr: true, field: "query"},
		{name: "blank query", mutate: func(r *RetrieveRequest) { r.Query = "  \t" }, wantErr: true, field: "query"},
		{name: "zero dense", mutate: func(r *RetrieveRequest) { r.DenseTopK = 0 }, wantErr: true, field: "dense_top_k"},
		{name: "negative sparse", mutate: func(r *RetrieveRequest) { r.SparseTopK = -3 }, wantErr: true, field: "sparse_top_k"},
		{name: "zero topK", mutate: func(r *RetrieveRequest) { r.TopK = 0; r.TopN = 0 }, wantErr: true, field: "top_k"},
		{name: "topN above topK", mutate: func(r *RetrieveRequest) { r.TopN = 21 }, wantErr: true, field: "top_n"},
		{name: "zero topN", mutate: func(r *RetrieveRequest) { r.TopN = 0 }, wantErr: true, field: "top_n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)

			err := req.Validate()
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestBook_Text(t *testing.T) {
	b := Book{
		Title:       "Dune",
		Authors:     []string{"Frank Herbert"},
		Genres:      []string{"science fiction"},
		Description: "Desert planet",
	}
	assert.Equal(t, "Dune Frank Herbert science fiction Desert planet", b.Text())
}

func TestBook_Validate(t *testing.T) {
	assert.NoError(t, Book{ID: "b1", Title: "Dune"}.Validate())

	err := Book{ID: " ", Title: "Dune"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "id must not be empty")

	err = Book{ID: "b1"}.Validate()
	assert.Contains(t, err.Error(), "title must not be empty")
}
