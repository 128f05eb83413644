// Package job defines the asynchronous work units exchanged between the
// request-serving process and the workers.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidJob   = errors.New("invalid job")
	ErrUnknownKind  = errors.New("unknown job kind")
	ErrHandlerPanic = errors.New("job handler panicked")
)

type Kind string

const (
	KindIngest Kind = "ingest"
	KindAnswer Kind = "answer"
)

type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure
}

const maxBackoff = 5 * time.Minute

type Job struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        State           `json:"state"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
}

type Option func(*Job)

// WithID makes the job idempotent on a caller-chosen key, such as a Slack
// event id or a Teams activity id.
func WithID(id string) Option {
	return func(j *Job) {
		if id != "" {
			j.ID = id
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// NewJob creates a pending job carrying payload encoded as JSON.
func NewJob(kind Kind, payload any, opts ...Option) (*Job, error) {
	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		Payload:      bs,
		State:        StatePending,
		MaxAttempts:  1,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return ErrInvalidJob
	}

	return json.Unmarshal(j.Payload, v)
}

func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

func (j *Job) MarkStarted(now time.Time) {
	j.State = StateStarted
	j.StartedAt = &now
	j.UpdatedAt = now
	j.Attempts++
}

func (j *Job) MarkSuccess(result string, now time.Time) {
	j.State = StateSuccess
	j.Result = result
	j.Error = ""
	j.CompletedAt = &now
	j.UpdatedAt = now
}

func (j *Job) MarkFailure(reason string, now time.Time) {
	j.State = StateFailure
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Retry puts the job back in pending with exponential backoff: 1s, 2s, 4s,
// capped at five minutes.
func (j *Job) Retry(reason string, now time.Time) {
	j.State = StatePending
	j.Error = reason
	j.UpdatedAt = now

	backoff := maxBackoff
	if j.Attempts < 10 {
		backoff = min(time.Duration(1<<j.Attempts)*time.Second/2, maxBackoff)
	}

	j.ScheduledFor = now.Add(backoff)
}

// Queue stores jobs durably and hands them to workers.
type Queue interface {
	// Enqueue schedules the job and returns its id. A job whose id already
	// exists is not scheduled again.
	Enqueue(ctx context.Context, j *Job) (string, error)

	// Dequeue waits up to timeout for the next job and marks it started.
	// It returns nil when no job is available.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)

	Complete(ctx context.Context, id string, result string) error

	// Fail records the failure, or reschedules the job when attempts remain.
	Fail(ctx context.Context, id string, reason string) error

	Status(ctx context.Context, id string) (*Job, error)

	Ping(ctx context.Context) error
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, j *Job) (string, error)
}

type HandlerFunc func(ctx context.Context, j *Job) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, j *Job) (string, error) {
	return f(ctx, j)
}
