package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"

	"github.com/flarexio/mooli/llm"
)

type fakeAPI struct {
	input *bedrockruntime.InvokeModelInput
	body  []byte
	err   error
}

func (f *fakeAPI) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}

	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestEmbed(t *testing.T) {
	assert := assert.New(t)

	vec := make([]float32, 1536)
	vec[0] = 0.5

	body, _ := json.Marshal(map[string]any{"embedding": vec, "inputTextTokenCount": 3})
	api := &fakeAPI{body: body}

	e := NewEmbedder(api, "")
	assert.Equal("amazon.titan-embed-text-v1", e.Model())
	assert.Equal(1536, e.Dimensions())

	got, err := e.Embed(context.Background(), "What is Python?")
	assert.NoError(err)
	assert.Equal(vec, got)

	assert.Equal("amazon.titan-embed-text-v1", aws.ToString(api.input.ModelId))

	var req map[string]string
	assert.NoError(json.Unmarshal(api.input.Body, &req))
	assert.Equal("What is Python?", req["inputText"])
}

func TestEmbedWrongDimensions(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"embedding": []float32{1, 2, 3}})

	_, err := NewEmbedder(&fakeAPI{body: body}, "").Embed(context.Background(), "x")
	assert.ErrorIs(t, err, llm.ErrEmbeddingService)
}

func TestEmbedLearnsUnknownDimensions(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(map[string]any{"embedding": make([]float32, 384)})
	api := &fakeAPI{body: body}

	e := NewEmbedder(api, "custom.embed-small-v1")
	assert.Equal(0, e.Dimensions())

	v, err := e.Embed(context.Background(), "x")
	assert.NoError(err)
	assert.Len(v, 384)
	assert.Equal(384, e.Dimensions())

	_, err = e.Embed(context.Background(), "y")
	assert.NoError(err)

	api.body, _ = json.Marshal(map[string]any{"embedding": make([]float32, 512)})

	_, err = e.Embed(context.Background(), "z")
	assert.ErrorIs(err, llm.ErrEmbeddingService)
}

func TestEmbedThrottled(t *testing.T) {
	assert := assert.New(t)

	api := &fakeAPI{err: &types.ThrottlingException{Message: aws.String("slow down")}}

	_, err := NewEmbedder(api, "").Embed(context.Background(), "x")
	assert.ErrorIs(err, llm.ErrEmbeddingService)
	assert.ErrorIs(err, llm.ErrThrottled)
}

func TestComplete(t *testing.T) {
	assert := assert.New(t)

	body, _ := json.Marshal(map[string]any{
		"content": []map[string]string{
			{"type": "text", "text": "Python is a "},
			{"type": "text", "text": "programming language."},
		},
		"stop_reason": "end_turn",
	})
	api := &fakeAPI{body: body}

	c := NewCompleter(api, llm.Config{})
	assert.Equal(DefaultCompletionModel, c.Model())

	answer, err := c.Complete(context.Background(), "prompt")
	assert.NoError(err)
	assert.Equal("Python is a programming language.", answer)

	var req struct {
		AnthropicVersion string  `json:"anthropic_version"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float64 `json:"temperature"`
		Messages         []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}

	assert.NoError(json.Unmarshal(api.input.Body, &req))
	assert.Equal("bedrock-2023-05-31", req.AnthropicVersion)
	assert.Equal(512, req.MaxTokens)
	assert.Equal(0.1, req.Temperature)
	assert.Len(req.Messages, 1)
	assert.Equal("user", req.Messages[0].Role)
	assert.Equal("prompt", req.Messages[0].Content[0].Text)
}

func TestCompleteEmpty(t *testing.T) {
	body, _ := json.Marshal(map[string]any{"content": []any{}})

	_, err := NewCompleter(&fakeAPI{body: body}, llm.Config{}).Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, llm.ErrCompletionService)
}
