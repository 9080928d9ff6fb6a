package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const dataDirName = ".booksearch"

// Config holds all configuration for booksearch.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig holds catalogue indexing and BM25 configuration.
type IndexConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
	Stemming bool     `yaml:"stemming"`
	K1       float64  `yaml:"k1"`
	B        float64  `yaml:"b"`
}

// RetrieveConfig holds per-call retrieval defaults.
type RetrieveConfig struct {
	DenseTopK  int           `yaml:"dense_top_k"`
	SparseTopK int           `yaml:"sparse_top_k"`
	TopK       int           `yaml:"top_k"`
	TopN       int           `yaml:"top_n"`
	Timeout    time.Duration `yaml:"timeout"`

	// DegradeToSingleSource answers from the surviving generator when the
	// other one fails with an index error. Off means fail closed.
	DegradeToSingleSource bool `yaml:"degrade_to_single_source"`

	CacheSize int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type FusionConfig struct {
	Method       string  `yaml:"method"` // "weighted" or "rrf"
	DenseWeight  float64 `yaml:"dense_weight"`
	SparseWeight float64 `yaml:"sparse_weight"`
	RRFK         int     `yaml:"rrf_k"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"` // "openai", "ollama", "hash"
	Model             string  `yaml:"model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	Dimension         int     `yaml:"dimension"` // 0: model default (256 for hash)
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RateLimit is the number of retrieve requests allowed per client IP per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Includes: []string{"**/*.jsonl", "**/*.json"},
			Excludes: []string{"**/.git/**", "**/.booksearch/**", "**/node_modules/**"},
			Stemming: true,
			K1:       1.2,
			B:        0.75,
		},
		Retrieve: RetrieveConfig{
			DenseTopK:  50,
			SparseTopK: 50,
			TopK:       20,
			TopN:       10,
			Timeout:    2 * time.Second,
			CacheSize:  256,
			CacheTTL:   5 * time.Minute,
		},
		Fusion: FusionConfig{
			Method:       "weighted",
			DenseWeight:  1.0,
			SparseWeight: 1.0,
			RRFK:         60,
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "text-embedding-3-small",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 100,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (booksearch.yaml, then
// .booksearch/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "booksearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, dataDirName, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Index.K1 < 0 {
		errs = append(errs, fmt.Errorf("index.k1 must be non-negative, got %v", c.Index.K1))
	}
	if c.Index.B < 0 || c.Index.B > 1 {
		errs = append(errs, fmt.Errorf("index.b must be in [0,1], got %v", c.Index.B))
	}

	r := c.Retrieve
	if r.DenseTopK <= 0 || r.SparseTopK <= 0 || r.TopK <= 0 || r.TopN <= 0 {
		errs = append(errs, errors.New("retrieve top-k defaults must be positive"))
	}
	if r.TopN > r.TopK {
		errs = append(errs, fmt.Errorf("retrieve.top_n (%d) must not exceed retrieve.top_k (%d)", r.TopN, r.TopK))
	}
	if r.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("retrieve.timeout must be positive, got %v", r.Timeout))
	}
	if r.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("retrieve.cache_size must be non-negative, got %d", r.CacheSize))
	}

	switch c.Fusion.Method {
	case "weighted", "rrf":
	default:
		errs = append(errs, fmt.Errorf("fusion.method must be weighted or rrf, got %q", c.Fusion.Method))
	}
	if c.Fusion.DenseWeight < 0 || c.Fusion.SparseWeight < 0 {
		errs = append(errs, errors.New("fusion weights must be non-negative"))
	}
	if c.Fusion.DenseWeight == 0 && c.Fusion.SparseWeight == 0 {
		errs = append(errs, errors.New("at least one fusion weight must be positive"))
	}

	switch c.Embedding.Provider {
	case "openai", "ollama", "hash":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider must be openai, ollama or hash, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension < 0 || c.Embedding.BatchSize < 0 || c.Embedding.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("embedding dimension, batch_size and requests_per_second must be non-negative"))
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must be non-negative, got %d", c.Server.RateLimit))
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// IndexHash fingerprints the settings baked into a built index. A change
// means the index has to be rebuilt.
func (c *Config) IndexHash() string {
	e := c.Embedding
	key := fmt.Sprintf("stemming=%t;provider=%s;model=%s;dimension=%d", c.Index.Stemming, e.Provider, e.Model, e.Dimension)
	if e.Provider == "hash" {
		key = fmt.Sprintf("stemming=%t;provider=hash;dimension=%d", c.Index.Stemming, e.Dimension)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, dataDirName, "index.db")
}

// EnsureDataDir ensures the .booksearch directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, dataDirName), 0755)
}
