package vector

import (
	"context"
	"errors"
	"time"

	"github.com/flarexio/mooli/chunk"
)

var (
	ErrBuildFailure      = errors.New("index build failed")
	ErrIndexNotFound     = errors.New("index not found")
	ErrCorruptIndex      = errors.New("index is corrupt")
	ErrInvalidK          = errors.New("k must be positive")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidName       = errors.New("invalid index name")
)

type Config struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
	Index    string `yaml:"index"`
}

// EmbedFunc converts one text segment into a vector.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store builds, persists and loads named indexes.
type Store interface {
	// Build embeds every chunk and atomically replaces the index stored under
	// name. A failed build leaves any previous index untouched.
	Build(ctx context.Context, name string, model string, chunks []chunk.Chunk, embed EmbedFunc) (Index, error)

	// Load returns the current complete index stored under name.
	Load(ctx context.Context, name string) (Index, error)
}

// Locker serializes rebuilds of the same index across processes.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

type Index interface {
	Name() string
	Version() string
	Model() string
	Dimensions() int
	Len() int

	// Search returns at most k results ordered by ascending distance, ties
	// broken by chunk insertion order.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
}

type Result struct {
	Chunk     chunk.Chunk `json:"chunk"`
	Embedding []float32   `json:"embedding,omitempty"`
	Score     float32     `json:"score"`
	Distance  float32     `json:"distance"`
}
