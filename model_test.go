package mooli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"

	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/llm"
	"github.com/flarexio/mooli/pipeline"
)

func TestConfigYAMLUnmarshal(t *testing.T) {
	assert := assert.New(t)

	input := `storage:
  bucket: mooli-docs
  region: us-east-1
  defaultDocument: uploads/PythonAI.pdf
vector:
  path: /var/lib/mooli/indexes
llm:
  provider: openai
  completionModel: gpt-4o-mini
pipeline:
  k: 5
  completeTimeout: 45s
queue:
  url: redis://redis:6379/1
  retention: 72h
  maxAttempts: 3
worker:
  concurrency: 4
  jobTimeout: 2m
channels:
  slack:
    botToken: xoxb-1
  deliverTimeout: 10s`

	var cfg Config
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		assert.Fail(err.Error())
		return
	}

	cfg.ApplyDefaults("/etc/mooli")

	assert.Equal("mooli-docs", cfg.Storage.Bucket)
	assert.Equal("/var/lib/mooli/indexes", cfg.Vector.Path)
	assert.Equal(llm.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(5, cfg.Pipeline.K)
	assert.Equal(45*time.Second, cfg.Pipeline.CompleteTimeout)
	assert.Equal(4000, cfg.Pipeline.MaxContextChars)
	assert.Equal(72*time.Hour, cfg.Queue.Retention.Duration())
	assert.Equal(3, cfg.Queue.MaxAttempts)
	assert.Equal(4, cfg.Worker.Concurrency)
	assert.Equal(2*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal("xoxb-1", cfg.Channels.Slack.BotToken)
	assert.Equal(10*time.Second, cfg.Channels.DeliverTimeout)
	assert.Equal("/etc/mooli/uploads", cfg.Storage.UploadDir)
}

func TestConfigApplyDefaults(t *testing.T) {
	assert := assert.New(t)

	var cfg Config
	cfg.ApplyDefaults("/etc/mooli")

	assert.Equal("/etc/mooli/indexes", cfg.Vector.Path)
	assert.Equal(pipeline.DefaultIndex, cfg.Pipeline.Index)
	assert.Equal(pipeline.DefaultK, cfg.Pipeline.K)
	assert.Equal(chunk.DefaultSize, cfg.Chunk.Size)
	if assert.NotNil(cfg.Chunk.Overlap) {
		assert.Equal(chunk.DefaultOverlap, *cfg.Chunk.Overlap)
	}
	assert.Equal(llm.ProviderBedrock, cfg.LLM.Provider)
	assert.Equal(DefaultRedisURL, cfg.Queue.URL)
	assert.Equal(1, cfg.Queue.MaxAttempts)
	assert.Equal(time.Duration(0), cfg.Queue.Retention.Duration(), "job records are kept forever by default")
	assert.Equal(DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(DefaultNATSTopic, cfg.NATS.Topic)
}

func TestConfigKeepsZeroOverlap(t *testing.T) {
	assert := assert.New(t)

	input := `chunk:
  size: 500
  overlap: 0`

	var cfg Config
	if err := yaml.Unmarshal([]byte(input), &cfg); err != nil {
		assert.Fail(err.Error())
		return
	}

	cfg.ApplyDefaults("/etc/mooli")

	if assert.NotNil(cfg.Chunk.Overlap) {
		assert.Equal(0, *cfg.Chunk.Overlap)
	}

	c := chunk.NewFromConfig(cfg.Chunk)
	assert.Equal(500, c.Size())
	assert.Equal(0, c.Overlap())
}

func TestDurationRoundTrip(t *testing.T) {
	assert := assert.New(t)

	d := Duration(90 * time.Second)

	bs, err := yaml.Marshal(struct {
		TTL Duration `yaml:"ttl"`
	}{d})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal("ttl: 1m30s\n", string(bs))

	var decoded Duration
	err = json.Unmarshal([]byte(`"1m30s"`), &decoded)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	assert.Equal(d, decoded)

	err = json.Unmarshal([]byte(`"soon"`), &decoded)
	assert.Error(err)
}
