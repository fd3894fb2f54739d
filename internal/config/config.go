// Package config defines the codemorph configuration file and its defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dshills/codemorph/internal/chunker"
	"github.com/dshills/codemorph/internal/embedder"
	"github.com/dshills/codemorph/internal/indexer"
	"github.com/dshills/codemorph/internal/lang"
	"github.com/dshills/codemorph/internal/searcher"
	"github.com/dshills/codemorph/internal/storage"
	pkgconfig "github.com/dshills/codemorph/pkg/config"
	"github.com/dshills/codemorph/pkg/types"
)

// EnvConfig names a config file when no --config flag is given
const EnvConfig = "CODEMORPH_CONFIG"

// FileName is the config file looked up in the repository's index directory
const FileName = "config.yaml"

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" toml:"log"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Index     IndexConfig     `yaml:"index" toml:"index"`
	Search    SearchConfig    `yaml:"search" toml:"search"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In(LogFormatText, LogFormatJSON)),
	)
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" toml:"provider"`
	Model             string        `yaml:"model" toml:"model"`
	BaseURL           string        `yaml:"base_url" toml:"base_url"`
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	Dimension         int           `yaml:"dimension" toml:"dimension"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries        int           `yaml:"max_retries" toml:"max_retries"`
	BatchSize         int           `yaml:"batch_size" toml:"batch_size"`
	MemoryEntries     int           `yaml:"memory_entries" toml:"memory_entries"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.In(embedder.ProviderJina, embedder.ProviderOpenAI, embedder.ProviderLocal)),
		validation.Field(&c.Dimension, validation.Min(0)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.BatchSize, validation.Min(0), validation.Max(embedder.MaxBatchSize)),
		validation.Field(&c.MemoryEntries, validation.Min(0)),
	)
}

// Options converts the configuration for embedder.New
func (c *EmbeddingConfig) Options() embedder.Config {
	cfg := embedder.Config{
		Provider:          c.Provider,
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		Dimension:         c.Dimension,
		RequestsPerSecond: c.RequestsPerSecond,
		Timeout:           c.Timeout,
	}
	if c.MaxRetries > 0 {
		cfg.Retry = embedder.DefaultRetryConfig()
		cfg.Retry.MaxRetries = c.MaxRetries
	}
	return cfg
}

// IndexConfig tunes discovery and the indexing pipeline.
type IndexConfig struct {
	Workers      int           `yaml:"workers" toml:"workers"`
	MaxFileBytes int64         `yaml:"max_file_bytes" toml:"max_file_bytes"`
	MaxTokens    int           `yaml:"max_tokens" toml:"max_tokens"`
	Exclude      []string      `yaml:"exclude" toml:"exclude"`
	Languages    []string      `yaml:"languages" toml:"languages"`
	Debounce     time.Duration `yaml:"debounce" toml:"debounce"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.MaxFileBytes, validation.Min(int64(0))),
		validation.Field(&c.MaxTokens, validation.Min(0)),
		validation.Field(&c.Languages, validation.Each(validation.By(knownLanguage))),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// Indexer converts the configuration for indexer.Index
func (c *IndexConfig) Indexer() *indexer.Config {
	return &indexer.Config{
		Workers:      c.Workers,
		MaxFileBytes: c.MaxFileBytes,
		MaxTokens:    c.MaxTokens,
		Exclude:      c.Exclude,
		Languages:    c.Languages,
	}
}

func knownLanguage(value interface{}) error {
	name, _ := value.(string)
	if _, ok := lang.Get(name); !ok {
		return fmt.Errorf("unknown language %q", name)
	}
	return nil
}

// SearchConfig tunes ranking.
type SearchConfig struct {
	K         int              `yaml:"k" toml:"k"`
	Kinds     []string         `yaml:"kinds" toml:"kinds"`
	PoolSize  int              `yaml:"pool_size" toml:"pool_size"`
	Snapshots int              `yaml:"snapshots" toml:"snapshots"`
	Weights   searcher.Weights `yaml:"weights" toml:"weights"`

	// Timeout bounds one search request; zero leaves only the caller's deadline
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.K, validation.Min(0), validation.Max(searcher.MaxK)),
		validation.Field(&c.Kinds, validation.Each(validation.By(knownKind))),
		validation.Field(&c.PoolSize, validation.Min(0)),
		validation.Field(&c.Snapshots, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	w := &c.Weights
	return validation.ValidateStruct(w,
		validation.Field(&w.Vector, validation.Min(0.0)),
		validation.Field(&w.Name, validation.Min(0.0)),
		validation.Field(&w.Graph, validation.Min(0.0)),
	)
}

// SymbolKinds returns the configured kinds, or nil for the searcher default
func (c *SearchConfig) SymbolKinds() []types.SymbolKind {
	var kinds []types.SymbolKind
	for _, k := range c.Kinds {
		kinds = append(kinds, types.SymbolKind(k))
	}
	return kinds
}

// Options converts the configuration for searcher.NewSearcher
func (c *SearchConfig) Options() searcher.Options {
	return searcher.Options{
		Weights:   c.Weights,
		PoolSize:  c.PoolSize,
		Snapshots: c.Snapshots,
	}
}

func knownKind(value interface{}) error {
	name, _ := value.(string)
	_, err := types.ParseKind(name)
	return err
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		Embedding: EmbeddingConfig{
			BatchSize:     embedder.DefaultBatchSize,
			MemoryEntries: embedder.DefaultMemoryEntries,
		},
		Index: IndexConfig{
			MaxFileBytes: indexer.DefaultMaxFileBytes,
			MaxTokens:    chunker.DefaultMaxTokens,
			Debounce:     indexer.DefaultDebounce,
		},
		Search: SearchConfig{
			K:         searcher.DefaultK,
			PoolSize:  searcher.DefaultPoolSize,
			Snapshots: searcher.DefaultSnapshots,
			Weights:   searcher.DefaultWeights,
			Timeout:   searcher.DefaultTimeout,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:7474",
		},
	}
}

// Load returns the configuration for a repository. An explicit path wins,
// then $CODEMORPH_CONFIG, then <root>/.morph/config.yaml. Without any file
// the defaults are returned.
func Load(path, root string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		if err := pkgconfig.Load(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if root != "" {
		if _, err := pkgconfig.LoadIfExists(filepath.Join(root, storage.DirName, FileName), cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
