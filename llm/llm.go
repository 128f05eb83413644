// Package llm declares the embedding and completion capabilities the
// retrieval pipeline consumes from a managed model provider.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrEmbeddingService  = errors.New("embedding service failure")
	ErrCompletionService = errors.New("completion service failure")
	ErrThrottled         = errors.New("provider throttled the request")
	ErrUnknownProvider   = errors.New("unknown model provider")
)

type Provider string

const (
	ProviderBedrock Provider = "bedrock"
	ProviderOpenAI  Provider = "openai"
)

type Config struct {
	Provider        Provider `yaml:"provider"`
	Region          string   `yaml:"region"`
	BaseURL         string   `yaml:"baseURL"`
	EmbeddingModel  string   `yaml:"embeddingModel"`
	CompletionModel string   `yaml:"completionModel"`
	MaxTokens       int      `yaml:"maxTokens"`
	Temperature     float64  `yaml:"temperature"`

	// RateLimit caps embedding requests per second. Zero disables it.
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

type Embedder interface {
	Model() string

	// Dimensions is zero until a model of unknown size has returned a vector.
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	Model() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// EmbeddingError wraps err as an embedding failure, marking throttling
// responses with ErrThrottled.
func EmbeddingError(err error, throttled bool) error {
	if throttled {
		return fmt.Errorf("%w: %w: %w", ErrEmbeddingService, ErrThrottled, err)
	}

	return fmt.Errorf("%w: %w", ErrEmbeddingService, err)
}

func CompletionError(err error, throttled bool) error {
	if throttled {
		return fmt.Errorf("%w: %w: %w", ErrCompletionService, ErrThrottled, err)
	}

	return fmt.Errorf("%w: %w", ErrCompletionService, err)
}
