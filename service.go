package mooli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/document"
	"github.com/flarexio/mooli/job"
	"github.com/flarexio/mooli/pipeline"
)

// Service defines the core logic of Mooli.
type Service interface {

	// Close releases the job queue.
	Close() error

	// Chat answers a web chat message synchronously.
	Chat(ctx context.Context, message string) (string, error)

	// Upload stores an uploaded document and schedules its ingestion.
	Upload(ctx context.Context, name string, r io.Reader) (*Receipt, error)

	// Ingest schedules ingestion of a document already in storage.
	Ingest(ctx context.Context, ref document.Ref, index string) (*Receipt, error)

	// Receive normalizes a chat platform payload and schedules its answer.
	Receive(ctx context.Context, platform channel.Platform, raw []byte) (*Receipt, error)

	// TaskStatus reports the state of a scheduled job.
	TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
}

type ServiceMiddleware func(Service) Service

// Uploader keeps uploaded files until their ingestion job releases them.
type Uploader interface {
	Save(ctx context.Context, name string, r io.Reader) (document.Ref, error)
	Release(ctx context.Context, ref document.Ref) error
}

func NewService(cfg Config, p *pipeline.Pipeline, queue job.Queue, uploads Uploader, adapters channel.Adapters) Service {
	return &service{
		cfg:      cfg,
		pipeline: p,
		queue:    queue,
		uploads:  uploads,
		adapters: adapters,
		log: zap.L().With(
			zap.String("service", "mooli"),
		),
	}
}

type service struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	queue    job.Queue
	uploads  Uploader
	adapters channel.Adapters
	log      *zap.Logger
}

func (svc *service) Close() error {
	return svc.queue.Close()
}

func (svc *service) Chat(ctx context.Context, message string) (string, error) {
	return svc.pipeline.Ask(ctx, message, "")
}

func (svc *service) Upload(ctx context.Context, name string, r io.Reader) (*Receipt, error) {
	if svc.uploads == nil {
		return nil, ErrNotSupported
	}

	if !document.Supported(name) {
		return nil, fmt.Errorf("%w: %s", document.ErrUnsupportedFormat, name)
	}

	ref, err := svc.uploads.Save(ctx, name, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailure, err)
	}

	receipt, err := svc.Ingest(ctx, ref, "")
	if err != nil {
		if err := svc.uploads.Release(context.WithoutCancel(ctx), ref); err != nil {
			svc.log.Warn(err.Error(), zap.String("document", ref.String()))
		}

		return nil, err
	}

	receipt.Message = "File uploaded successfully. Processing started."
	return receipt, nil
}

func (svc *service) Ingest(ctx context.Context, ref document.Ref, index string) (*Receipt, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, document.ErrInvalidRef)
	}

	if !ref.Local() && ref.Bucket == "" {
		ref.Bucket = svc.cfg.Storage.Bucket
	}

	payload := IngestPayload{
		Document: ref,
		Index:    index,
	}

	j, err := job.NewJob(job.KindIngest, payload,
		job.WithMaxAttempts(svc.cfg.Queue.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}

	id, err := svc.queue.Enqueue(ctx, j)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Status:  ReceiptOK,
		TaskID:  id,
		Message: "Ingestion of " + ref.Name() + " scheduled.",
	}, nil
}

func (svc *service) Receive(ctx context.Context, platform channel.Platform, raw []byte) (*Receipt, error) {
	adapter, err := svc.adapters.Lookup(platform)
	if err != nil {
		return nil, err
	}

	if platform == channel.PlatformSlack {
		if challenge, ok := svc.adapters.Slack.Challenge(raw); ok {
			return &Receipt{Status: ReceiptOK, Challenge: challenge}, nil
		}
	}

	msg, err := adapter.Normalize(raw)
	if err != nil {
		if errors.Is(err, channel.ErrReject) {
			svc.log.Warn(err.Error(), zap.String("platform", string(platform)))

			return &Receipt{
				Status:  ReceiptIgnored,
				Message: channel.FallbackMessage,
			}, nil
		}

		return nil, err
	}

	var id string
	if msg.ID != "" {
		id = string(msg.Platform) + ":" + msg.ID
	}

	j, err := job.NewJob(job.KindAnswer, AnswerPayload{Message: msg},
		job.WithID(id),
		job.WithMaxAttempts(svc.cfg.Queue.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}

	taskID, err := svc.queue.Enqueue(ctx, j)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Status: ReceiptOK,
		TaskID: taskID,
	}, nil
}

func (svc *service) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, ErrInvalidTaskID
	}

	j, err := svc.queue.Status(ctx, taskID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTaskID, err)
		}

		return nil, err
	}

	return &TaskStatus{
		TaskID: j.ID,
		Status: j.State,
		Kind:   j.Kind,
		Result: j.Result,
		Error:  j.Error,
	}, nil
}
