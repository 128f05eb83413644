// Package pipeline turns documents into indexes and questions into answers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/llm"
	"github.com/flarexio/mooli/vector"
)

var (
	ErrTimeout       = errors.New("external call timed out")
	ErrModelMismatch = errors.New("index was built with a different embedding model")
	ErrEmptyQuery    = errors.New("query is empty")
)

const UnavailableMessage = "An error occurred. The knowledge base is not available."

const (
	DefaultK                    = 3
	DefaultMaxContextChars      = 4000
	DefaultIndex                = "faiss_index"
	DefaultSummarizeInstruction = "Summarize the main topics and key points of the document."

	DefaultFetchTimeout    = 60 * time.Second
	DefaultEmbedTimeout    = 30 * time.Second
	DefaultCompleteTimeout = 60 * time.Second
)

var DefaultSummarizeKeywords = []string{"summarize", "summarise", "summary"}

type Config struct {
	Index                string        `yaml:"index"`
	K                    int           `yaml:"k"`
	MaxContextChars      int           `yaml:"maxContextChars"`
	SummarizeKeywords    []string      `yaml:"summarizeKeywords"`
	SummarizeInstruction string        `yaml:"summarizeInstruction"`
	FetchTimeout         time.Duration `yaml:"fetchTimeout"`
	EmbedTimeout         time.Duration `yaml:"embedTimeout"`
	CompleteTimeout      time.Duration `yaml:"completeTimeout"`
}

func (cfg *Config) ApplyDefaults() {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}

	if cfg.K <= 0 {
		cfg.K = DefaultK
	}

	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = DefaultMaxContextChars
	}

	if len(cfg.SummarizeKeywords) == 0 {
		cfg.SummarizeKeywords = DefaultSummarizeKeywords
	}

	if cfg.SummarizeInstruction == "" {
		cfg.SummarizeInstruction = DefaultSummarizeInstruction
	}

	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}

	if cfg.CompleteTimeout <= 0 {
		cfg.CompleteTimeout = DefaultCompleteTimeout
	}
}

type Option func(*Pipeline)

// WithDefaultDocument is ingested the first time a missing index is
// resolved.
func WithDefaultDocument(ref document.Ref) Option {
	return func(p *Pipeline) {
		p.defaultRef = &ref
	}
}

type Pipeline struct {
	docs      document.Store
	chunker   *chunk.Chunker
	store     vector.Store
	embedder  llm.Embedder
	completer llm.Completer
	cfg       Config
	log       *zap.Logger

	defaultRef *document.Ref
	resolveMu  sync.Mutex
}

func New(docs document.Store, chunker *chunk.Chunker, store vector.Store, embedder llm.Embedder, completer llm.Completer, cfg Config, opts ...Option) *Pipeline {
	cfg.ApplyDefaults()

	if chunker == nil {
		chunker = chunk.New()
	}

	p := &Pipeline{
		docs:      docs,
		chunker:   chunker,
		store:     store,
		embedder:  embedder,
		completer: completer,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "pipeline")),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Pipeline) IndexName() string {
	return p.cfg.Index
}

// Ingest fetches ref, extracts and splits its text and rebuilds the index
// stored under name. Temporary copies of ref are released either way.
func (p *Pipeline) Ingest(ctx context.Context, ref document.Ref, name string) (vector.Index, error) {
	if name == "" {
		name = p.cfg.Index
	}

	log := p.log.With(
		zap.String("action", "ingest"),
		zap.String("document", ref.String()),
		zap.String("index", name),
	)

	defer func() {
		if err := p.docs.Release(context.WithoutCancel(ctx), ref); err != nil {
			log.Warn(err.Error())
		}
	}()

	data, err := Bound(ctx, p.cfg.FetchTimeout, func(ctx context.Context) ([]byte, error) {
		return p.docs.Fetch(ctx, ref)
	})
	if err != nil {
		return nil, err
	}

	text, err := document.Extract(ref.Name(), data)
	if err != nil {
		return nil, err
	}

	chunks := p.chunker.Split(ref.Name(), text)
	log.Info("document split", zap.Int("chunks", len(chunks)))

	return p.store.Build(ctx, name, p.embedder.Model(), chunks, p.embed)
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	return Bound(ctx, p.cfg.EmbedTimeout, func(ctx context.Context) ([]float32, error) {
		return p.embedder.Embed(ctx, text)
	})
}

// Resolve loads the index stored under name. A missing index is built from
// the default document when one is configured, otherwise Resolve returns a
// nil index.
func (p *Pipeline) Resolve(ctx context.Context, name string) (vector.Index, error) {
	if name == "" {
		name = p.cfg.Index
	}

	idx, err := p.store.Load(ctx, name)
	if err == nil {
		return idx, nil
	}

	if !errors.Is(err, vector.ErrIndexNotFound) && !errors.Is(err, vector.ErrCorruptIndex) {
		return nil, err
	}

	if p.defaultRef == nil {
		if errors.Is(err, vector.ErrIndexNotFound) {
			return nil, nil
		}

		return nil, err
	}

	p.resolveMu.Lock()
	defer p.resolveMu.Unlock()

	// Another caller may have built it while this one waited.
	if idx, err := p.store.Load(ctx, name); err == nil {
		return idx, nil
	}

	p.log.Warn("index unavailable, ingesting default document",
		zap.String("index", name),
		zap.String("document", p.defaultRef.String()),
		zap.String("reason", err.Error()),
	)

	return p.Ingest(ctx, *p.defaultRef, name)
}

// Answer retrieves the chunks closest to query from idx and asks the
// completer. An absent or empty index yields UnavailableMessage without a
// completion call.
func (p *Pipeline) Answer(ctx context.Context, query string, idx vector.Index) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	if idx == nil || idx.Len() == 0 {
		return UnavailableMessage, nil
	}

	if idx.Model() != p.embedder.Model() {
		return "", fmt.Errorf("%w: index %s uses %s, embedder uses %s",
			ErrModelMismatch, idx.Name(), idx.Model(), p.embedder.Model())
	}

	query = p.Rewrite(query)

	qv, err := p.embed(ctx, query)
	if err != nil {
		return "", err
	}

	results, err := idx.Search(ctx, qv, p.cfg.K)
	if err != nil {
		return "", err
	}

	if len(results) == 0 {
		return UnavailableMessage, nil
	}

	prompt := BuildPrompt(query, results, p.cfg.MaxContextChars)

	return Bound(ctx, p.cfg.CompleteTimeout, func(ctx context.Context) (string, error) {
		return p.completer.Complete(ctx, prompt)
	})
}

// Ask resolves the index stored under name and answers query against it.
func (p *Pipeline) Ask(ctx context.Context, query string, name string) (string, error) {
	idx, err := p.Resolve(ctx, name)
	if err != nil {
		return "", err
	}

	return p.Answer(ctx, query, idx)
}

// Rewrite replaces a summarization request with the configured instruction.
func (p *Pipeline) Rewrite(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	for _, keyword := range p.cfg.SummarizeKeywords {
		if keyword != "" && strings.Contains(normalized, strings.ToLower(keyword)) {
			return p.cfg.SummarizeInstruction
		}
	}

	return query
}

// Bound runs fn under a deadline of d. When that deadline fires, the error
// returned by fn also wraps ErrTimeout.
func Bound[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(context.Cause(ctx), ErrTimeout) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return v, err
}
