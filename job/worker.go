package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultConcurrency    = 2
	DefaultDequeueTimeout = 5 * time.Second
	DefaultJobTimeout     = 5 * time.Minute
)

type Config struct {
	Concurrency    int           `yaml:"concurrency"`
	DequeueTimeout time.Duration `yaml:"dequeueTimeout"`
	JobTimeout     time.Duration `yaml:"jobTimeout"`
}

type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Worker drains a Queue with a fixed number of goroutines. A failing or
// panicking job never stops the goroutine that ran it.
type Worker struct {
	queue   Queue
	handler Handler
	cfg     Config
	log     *zap.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWorker(queue Queue, handler Handler, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = DefaultDequeueTimeout
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "worker")),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)

	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	w.log.Info("worker starting",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("dequeue_timeout", w.cfg.DequeueTimeout),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}

	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(w.done)
}

// Stop cancels the loops and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}

	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.Info("worker stopped")
}

func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running:     running,
		QueueHealth: true,
	}

	if err := w.queue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	}

	return health
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.With(zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		j, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			log.Error(err.Error())

			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}

			continue
		}

		if j == nil {
			continue
		}

		w.process(ctx, j, log)
	}
}

func (w *Worker) process(ctx context.Context, j *Job, log *zap.Logger) {
	log = log.With(
		zap.String("job_id", j.ID),
		zap.String("kind", string(j.Kind)),
		zap.Int("attempt", j.Attempts),
	)

	start := time.Now()
	result, err := w.run(ctx, j)

	// Record the outcome even when shutdown has cancelled ctx.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		log.Error(err.Error(), zap.Duration("duration", time.Since(start)))

		if err := w.queue.Fail(ctx, j.ID, err.Error()); err != nil {
			log.Error("failed to record failure", zap.Error(err))
		}

		return
	}

	log.Info("job done", zap.Duration("duration", time.Since(start)))

	if err := w.queue.Complete(ctx, j.ID, result); err != nil {
		log.Error("failed to record result", zap.Error(err))
	}
}

func (w *Worker) run(ctx context.Context, j *Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	return w.handler.Handle(ctx, j)
}
