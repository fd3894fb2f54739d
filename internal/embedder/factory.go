package embedder

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvProvider selects the provider when no configuration names one
const EnvProvider = "CODEMORPH_EMBEDDING_PROVIDER"

// Config holds embedder configuration
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	Dimension         int
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             RetryConfig
}

func (c Config) options() ProviderOptions {
	return ProviderOptions{
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		Dimension:         c.Dimension,
		RequestsPerSecond: c.RequestsPerSecond,
		Retry:             c.Retry,
		Timeout:           c.Timeout,
	}
}

// NewFromEnv creates an embedder based on environment variables
// Priority:
// 1. CODEMORPH_EMBEDDING_PROVIDER (jina, openai, local)
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Embedder, error) {
	return New(Config{Provider: DetectProvider()})
}

// New creates an embedder with explicit configuration.
// An empty provider is detected from the environment.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(cfg.options())
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.options())
	case ProviderLocal:
		return NewLocalProvider(cfg.options())
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}

	return ProviderLocal
}
