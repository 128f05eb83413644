package mooli

import (
	"encoding/json"
	"errors"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/chunk"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/job"
	"github.com/flarexio/mooli/llm"
	"github.com/flarexio/mooli/pipeline"
	"github.com/flarexio/mooli/vector"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidTaskID  = errors.New("invalid task id")
	ErrUploadFailure  = errors.New("upload failed")
	ErrNotSupported   = errors.New("method not supported")
)

// ErrorMessage is the reply users see when answering failed.
const ErrorMessage = "I apologize, but an error occurred while processing your request."

// SlackAcknowledgement is posted before a Slack answer is generated.
const SlackAcknowledgement = ":wave: Got it! Working on that now..."

type Config struct {
	Storage  document.Config `yaml:"storage"`
	Vector   vector.Config   `yaml:"vector"`
	Chunk    chunk.Config    `yaml:"chunk"`
	LLM      llm.Config      `yaml:"llm"`
	Pipeline pipeline.Config `yaml:"pipeline"`
	Queue    QueueConfig     `yaml:"queue"`
	Worker   job.Config      `yaml:"worker"`
	Channels channel.Config  `yaml:"channels"`
	Inbox    InboxConfig     `yaml:"inbox"`
	HTTP     HTTPConfig      `yaml:"http"`
	NATS     NATSConfig      `yaml:"nats"`
}

type QueueConfig struct {
	URL         string   `yaml:"url"`
	Prefix      string   `yaml:"prefix"`
	Retention   Duration `yaml:"retention"`
	MaxAttempts int      `yaml:"maxAttempts"`
}

type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HTTPConfig struct {
	Addr          string `yaml:"addr"`
	MaxUploadSize int64  `yaml:"maxUploadSize"`
}

type NATSConfig struct {
	URL   string `yaml:"url"`
	Topic string `yaml:"topic"`
}

const (
	DefaultRedisURL      = "redis://localhost:6379/0"
	DefaultQueuePrefix   = "mooli"
	DefaultHTTPAddr      = ":8080"
	DefaultMaxUploadSize = 32 << 20
	DefaultNATSTopic     = "mooli"
)

// ApplyDefaults fills zero values. Relative directories resolve under path.
func (cfg *Config) ApplyDefaults(path string) {
	if cfg.Vector.Path == "" {
		cfg.Vector.Path = path + "/indexes"
	}

	if cfg.Vector.Index == "" {
		cfg.Vector.Index = pipeline.DefaultIndex
	}

	if cfg.Pipeline.Index == "" {
		cfg.Pipeline.Index = cfg.Vector.Index
	}

	cfg.Pipeline.ApplyDefaults()

	if cfg.Chunk.Size <= 0 {
		cfg.Chunk.Size = chunk.DefaultSize
	}

	if cfg.Chunk.Overlap == nil || *cfg.Chunk.Overlap < 0 {
		overlap := chunk.DefaultOverlap
		cfg.Chunk.Overlap = &overlap
	}

	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = path + "/uploads"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = llm.ProviderBedrock
	}

	if cfg.Queue.URL == "" {
		cfg.Queue.URL = DefaultRedisURL
	}

	if cfg.Queue.Prefix == "" {
		cfg.Queue.Prefix = DefaultQueuePrefix
	}

	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 1
	}

	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = job.DefaultConcurrency
	}

	if cfg.Worker.DequeueTimeout <= 0 {
		cfg.Worker.DequeueTimeout = job.DefaultDequeueTimeout
	}

	if cfg.Worker.JobTimeout <= 0 {
		cfg.Worker.JobTimeout = job.DefaultJobTimeout
	}

	if cfg.Channels.DeliverTimeout <= 0 {
		cfg.Channels.DeliverTimeout = channel.DefaultDeliverTimeout
	}

	if cfg.Inbox.Path == "" {
		cfg.Inbox.Path = path + "/inbox"
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}

	if cfg.HTTP.MaxUploadSize <= 0 {
		cfg.HTTP.MaxUploadSize = DefaultMaxUploadSize
	}

	if cfg.NATS.Topic == "" {
		cfg.NATS.Topic = DefaultNATSTopic
	}
}

type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	str := d.Duration().String()
	return json.Marshal(str)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	duration, err := time.ParseDuration(str)
	if err != nil {
		return err
	}

	*d = Duration(duration)
	return nil
}

const (
	ReceiptOK      = "ok"
	ReceiptIgnored = "ignored"
)

// Receipt acknowledges scheduled work. Challenge is only set for a Slack
// url_verification handshake.
type Receipt struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Challenge string `json:"challenge,omitempty"`
}

type TaskStatus struct {
	TaskID string    `json:"task_id"`
	Status job.State `json:"status"`
	Kind   job.Kind  `json:"kind,omitempty"`
	Result string    `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// IngestPayload is carried by ingest jobs.
type IngestPayload struct {
	Document document.Ref `json:"document"`
	Index    string       `json:"index,omitempty"`
}

// AnswerPayload is carried by answer jobs. The message keeps its reply
// target until delivery.
type AnswerPayload struct {
	Message channel.Message `json:"message"`
}
