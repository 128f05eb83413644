package mooli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/job"
	"github.com/flarexio/mooli/pipeline"
)

// NewJobHandler runs ingest and answer jobs on behalf of a worker.
func NewJobHandler(p *pipeline.Pipeline, adapters channel.Adapters, deliverTimeout time.Duration) job.Handler {
	if deliverTimeout <= 0 {
		deliverTimeout = channel.DefaultDeliverTimeout
	}

	return &jobHandler{
		pipeline:       p,
		adapters:       adapters,
		deliverTimeout: deliverTimeout,
		log: zap.L().With(
			zap.String("component", "job_handler"),
		),
	}
}

type jobHandler struct {
	pipeline       *pipeline.Pipeline
	adapters       channel.Adapters
	deliverTimeout time.Duration
	log            *zap.Logger
}

func (h *jobHandler) Handle(ctx context.Context, j *job.Job) (string, error) {
	switch j.Kind {
	case job.KindIngest:
		return h.ingest(ctx, j)

	case job.KindAnswer:
		return h.answer(ctx, j)

	default:
		return "", fmt.Errorf("%w: %s", job.ErrUnknownKind, j.Kind)
	}
}

func (h *jobHandler) ingest(ctx context.Context, j *job.Job) (string, error) {
	var payload IngestPayload
	if err := j.Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %w", job.ErrInvalidJob, err)
	}

	idx, err := h.pipeline.Ingest(ctx, payload.Document, payload.Index)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Indexed %d chunks of %s into %s.",
		idx.Len(), payload.Document.Name(), idx.Name()), nil
}

func (h *jobHandler) answer(ctx context.Context, j *job.Job) (string, error) {
	var payload AnswerPayload
	if err := j.Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: %w", job.ErrInvalidJob, err)
	}

	msg := payload.Message

	log := h.log.With(
		zap.String("action", "answer"),
		zap.String("job_id", j.ID),
		zap.String("platform", string(msg.Platform)),
		zap.String("sender", msg.Sender),
	)

	adapter, err := h.adapters.Lookup(msg.Platform)
	if err != nil {
		return "", err
	}

	if msg.Platform == channel.PlatformSlack && j.Attempts <= 1 {
		if err := h.deliver(ctx, adapter, msg, SlackAcknowledgement); err != nil {
			log.Warn(err.Error())
		}
	}

	answer, err := h.pipeline.Ask(ctx, msg.Text, "")
	if err != nil {
		log.Error(err.Error())

		if err := h.deliver(context.WithoutCancel(ctx), adapter, msg, ErrorMessage); err != nil {
			log.Error(err.Error())
		}

		return "", err
	}

	if err := h.deliver(ctx, adapter, msg, answer); err != nil {
		return "", err
	}

	return answer, nil
}

func (h *jobHandler) deliver(ctx context.Context, adapter channel.Adapter, msg channel.Message, text string) error {
	_, err := pipeline.Bound(ctx, h.deliverTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, adapter.Deliver(ctx, msg.Target, text)
	})

	return err
}
