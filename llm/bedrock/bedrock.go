// Package bedrock calls Titan embeddings and Anthropic messages models
// through the Bedrock runtime.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/flarexio/mooli/llm"
)

const (
	DefaultEmbeddingModel  = "amazon.titan-embed-text-v1"
	DefaultCompletionModel = "anthropic.claude-3-haiku-20240307-v1:0"
	DefaultMaxTokens       = 512
	DefaultTemperature     = 0.1

	anthropicVersion = "bedrock-2023-05-31"
)

var modelDimensions = map[string]int{
	"amazon.titan-embed-text-v1":    1536,
	"amazon.titan-embed-text-v2:0":  1024,
	"amazon.titan-embed-g1-text-02": 1536,
	"cohere.embed-english-v3":       1024,
	"cohere.embed-multilingual-v3":  1024,
}

type API interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// NewClient loads AWS credentials from the default chain.
func NewClient(ctx context.Context, cfg llm.Config) (*bedrockruntime.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	return bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
	}), nil
}

type Embedder struct {
	api        API
	model      string
	dimensions *llm.Dimensions
}

func NewEmbedder(api API, model string) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &Embedder{
		api:        api,
		model:      model,
		dimensions: llm.NewDimensions(modelDimensions[model]),
	}
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Dimensions() int {
	return e.dimensions.Get()
}

type titanRequest struct {
	InputText string `json:"inputText"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{InputText: text})
	if err != nil {
		return nil, llm.EmbeddingError(err, false)
	}

	out, err := invoke(ctx, e.api, e.model, body)
	if err != nil {
		return nil, llm.EmbeddingError(err, throttled(err))
	}

	var resp titanResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, llm.EmbeddingError(err, false)
	}

	if len(resp.Embedding) == 0 {
		return nil, llm.EmbeddingError(errors.New("empty embedding"), false)
	}

	if err := e.dimensions.Check(e.model, resp.Embedding); err != nil {
		return nil, llm.EmbeddingError(err, false)
	}

	return resp.Embedding, nil
}

type Completer struct {
	api         API
	model       string
	maxTokens   int
	temperature float64
}

func NewCompleter(api API, cfg llm.Config) *Completer {
	c := &Completer{
		api:         api,
		model:       cfg.CompletionModel,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}

	if c.model == "" {
		c.model = DefaultCompletionModel
	}

	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}

	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}

	return c
}

func (c *Completer) Model() string {
	return c.model
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type message struct {
	Role    string    `json:"role"`
	Content []content `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []message `json:"messages"`
}

type messagesResponse struct {
	Content    []content `json:"content"`
	StopReason string    `json:"stop_reason"`
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        c.maxTokens,
		Temperature:      c.temperature,
		Messages: []message{
			{Role: "user", Content: []content{{Type: "text", Text: prompt}}},
		},
	})
	if err != nil {
		return "", llm.CompletionError(err, false)
	}

	out, err := invoke(ctx, c.api, c.model, body)
	if err != nil {
		return "", llm.CompletionError(err, throttled(err))
	}

	var resp messagesResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", llm.CompletionError(err, false)
	}

	var sb strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 {
		return "", llm.CompletionError(errors.New("empty completion"), false)
	}

	return sb.String(), nil
}

func invoke(ctx context.Context, api API, model string, body []byte) ([]byte, error) {
	out, err := api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, err
	}

	return out.Body, nil
}

func throttled(err error) bool {
	var te *types.ThrottlingException
	return errors.As(err, &te)
}
