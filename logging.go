package mooli

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/flarexio/mooli/channel"
	"github.com/flarexio/mooli/document"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "mooli"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("service closed")
	return nil
}

func (mw *loggingMiddleware) Chat(ctx context.Context, message string) (string, error) {
	log := mw.log.With(
		zap.String("action", "chat"),
		zap.Int("length", len(message)),
	)

	answer, err := mw.next.Chat(ctx, message)
	if err != nil {
		log.Error(err.Error())
		return "", err
	}

	log.Info("message answered")
	return answer, nil
}

func (mw *loggingMiddleware) Upload(ctx context.Context, name string, r io.Reader) (*Receipt, error) {
	log := mw.log.With(
		zap.String("action", "upload"),
		zap.String("file", name),
	)

	receipt, err := mw.next.Upload(ctx, name, r)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("file uploaded", zap.String("task_id", receipt.TaskID))
	return receipt, nil
}

func (mw *loggingMiddleware) Ingest(ctx context.Context, ref document.Ref, index string) (*Receipt, error) {
	log := mw.log.With(
		zap.String("action", "ingest"),
		zap.String("document", ref.String()),
	)

	if index != "" {
		log = log.With(
			zap.String("index", index),
		)
	}

	receipt, err := mw.next.Ingest(ctx, ref, index)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("ingestion scheduled", zap.String("task_id", receipt.TaskID))
	return receipt, nil
}

func (mw *loggingMiddleware) Receive(ctx context.Context, platform channel.Platform, raw []byte) (*Receipt, error) {
	log := mw.log.With(
		zap.String("action", "receive"),
		zap.String("platform", string(platform)),
	)

	receipt, err := mw.next.Receive(ctx, platform, raw)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	switch {
	case receipt.Challenge != "":
		log.Info("challenge answered")

	case receipt.Status == ReceiptIgnored:
		log.Warn("message ignored")

	default:
		log.Info("answer scheduled", zap.String("task_id", receipt.TaskID))
	}

	return receipt, nil
}

func (mw *loggingMiddleware) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	log := mw.log.With(
		zap.String("action", "task_status"),
		zap.String("task_id", taskID),
	)

	status, err := mw.next.TaskStatus(ctx, taskID)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Debug("task status", zap.String("status", string(status.Status)))
	return status, nil
}
