package cli

import (
	"fmt"
	"os"

	"booksearch/config"
	"booksearch/internal/adapter/analyzer"
	"booksearch/internal/adapter/cache"
	"booksearch/internal/adapter/embedding"
	"booksearch/internal/adapter/retriever"
	"booksearch/internal/adapter/store"
	"booksearch/internal/domain"
	"booksearch/internal/port"
	"booksearch/internal/usecase"
)

// Index bundles the opened stores a command works against.
type Index struct {
	Store     *store.BoltStore
	Vectors   *store.BoltVectorStore
	Embedder  port.Embedder
	Tokenizer port.Tokenizer
}

func (ix *Index) Close() error {
	return ix.Store.Close()
}

func newEmbedder(cfg *config.Config, tokenizer port.Tokenizer) (port.Embedder, error) {
	e := cfg.Embedding
	opts := []embedding.Option{
		embedding.WithRateLimit(e.RequestsPerSecond),
		embedding.WithDimension(e.Dimension),
	}

	switch e.Provider {
	case "openai":
		if e.BaseURL != "" {
			return embedding.NewOpenAICompatibleEmbedder(os.Getenv(e.APIKeyEnv), e.Model, e.BaseURL, opts...), nil
		}
		return embedding.NewOpenAIEmbedder(e.APIKeyEnv, e.Model, opts...)
	case "ollama":
		return embedding.NewOllamaEmbedder(e.Model, e.BaseURL, opts...)
	case "hash":
		return embedding.NewHashEmbedder(e.Dimension, tokenizer), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", e.Provider)
	}
}

// OpenIndex opens the index under dir for querying. The index must already
// exist and must have been built with the index settings of cfg.
func OpenIndex(cfg *config.Config, dir string) (*Index, error) {
	dbPath := config.IndexDBPath(dir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s. Run 'booksearch index' first", dbPath)
	}

	st, err := store.NewBoltStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	migration, err := st.CheckMigration(cfg.IndexHash())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to check migration: %w", err)
	}
	if migration.NeedsRebuild {
		st.Close()
		return nil, fmt.Errorf("%w: %s. Run 'booksearch index --rebuild'", domain.ErrIndexUnavailable, migration.Reason)
	}

	ix, err := attachIndex(cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return ix, nil
}

// attachIndex builds the embedder and loads the vector bucket of an open store.
func attachIndex(cfg *config.Config, st *store.BoltStore) (*Index, error) {
	tokenizer := analyzer.NewTokenizer(cfg.Index.Stemming)
	embedder, err := newEmbedder(cfg, tokenizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectors, err := store.NewBoltVectorStore(st.DB(), embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	return &Index{Store: st, Vectors: vectors, Embedder: embedder, Tokenizer: tokenizer}, nil
}

// Generators returns the dense and sparse candidate generators, each behind a
// circuit breaker when enabled.
func (ix *Index) Generators(cfg *config.Config) (dense, sparse port.CandidateGenerator) {
	dense = retriever.NewDenseGenerator(ix.Embedder, ix.Vectors)
	sparse = retriever.NewBM25Generator(ix.Store, ix.Tokenizer, cfg.Index.K1, cfg.Index.B)

	if cfg.Breaker.Enabled {
		bc := retriever.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		}
		dense = retriever.NewBreakerGenerator(dense, bc)
		sparse = retriever.NewBreakerGenerator(sparse, bc)
	}
	return dense, sparse
}

// Engine assembles the retrieval engine from cfg over this index.
func (ix *Index) Engine(cfg *config.Config) (*usecase.Engine, error) {
	fuser, err := retriever.NewFuser(cfg.Fusion.Method, cfg.Fusion.DenseWeight, cfg.Fusion.SparseWeight, cfg.Fusion.RRFK)
	if err != nil {
		return nil, err
	}

	opts := []usecase.EngineOption{
		usecase.WithTimeout(cfg.Retrieve.Timeout),
		usecase.WithDegradeToSingleSource(cfg.Retrieve.DegradeToSingleSource),
	}
	if cfg.Retrieve.CacheSize > 0 {
		opts = append(opts, usecase.WithCache(cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL), ix.Store))
	}

	dense, sparse := ix.Generators(cfg)
	return usecase.NewEngine(dense, sparse, fuser, opts...), nil
}
