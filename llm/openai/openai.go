// Package openai calls an OpenAI-compatible embeddings and chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flarexio/mooli/llm"
)

const (
	DefaultBaseURL         = "https://api.openai.com/v1"
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultCompletionModel = "gpt-4o-mini"
	DefaultMaxTokens       = 512
	DefaultTemperature     = 0.1
	DefaultTimeout         = 120 * time.Second
)

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func NewClient(apiKey string, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// post sends body to path and decodes the reply into out. The returned bool
// reports a 429 response.
func (c *Client) post(ctx context.Context, path string, body any, out any) (bool, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return false, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	throttled := resp.StatusCode == http.StatusTooManyRequests

	if resp.StatusCode != http.StatusOK {
		var wrapper struct {
			Error *apiError `json:"error"`
		}

		if json.Unmarshal(respBody, &wrapper) == nil && wrapper.Error != nil {
			return throttled, fmt.Errorf("openai: %s (type: %s, status: %d)",
				wrapper.Error.Message, wrapper.Error.Type, resp.StatusCode)
		}

		return throttled, fmt.Errorf("openai: status %d", resp.StatusCode)
	}

	return false, json.Unmarshal(respBody, out)
}

type Embedder struct {
	client     *Client
	model      string
	dimensions *llm.Dimensions
}

func NewEmbedder(client *Client, model string) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &Embedder{
		client:     client,
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

type embeddingRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embeddingRequest{
		Input:          text,
		Model:          e.model,
		EncodingFormat: "float",
	}

	var resp embeddingResponse
	throttled, err := e.client.post(ctx, "/embeddings", req, &resp)
	if err != nil {
		return nil, llm.EmbeddingError(err, throttled)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, llm.EmbeddingError(errors.New("no embedding returned"), false)
	}

	if err := e.dimensions.Check(e.model, resp.Data[0].Embedding); err != nil {
		return nil, llm.EmbeddingError(err, false)
	}

	return resp.Data[0].Embedding, nil
}

type Completer struct {
	client      *Client
	model       string
	maxTokens   int
	temperature float64
}

func NewCompleter(client *Client, cfg llm.Config) *Completer {
	c := &Completer{
		client:      client,
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var resp chatResponse
	throttled, err := c.client.post(ctx, "/chat/completions", req, &resp)
	if err != nil {
		return "", llm.CompletionError(err, throttled)
	}

	if len(resp.Choices) == 0 {
		return "", llm.CompletionError(errors.New("no choices returned"), false)
	}

	return resp.Choices[0].Message.Content, nil
}
