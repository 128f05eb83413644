// Package watcher ingests documents dropped into an inbox directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/flarexio/mooli"
	"github.com/flarexio/mooli/document"
)

// DefaultSettle is how long a file must stay unchanged before ingestion.
const DefaultSettle = 500 * time.Millisecond

type Ingester interface {
	Ingest(ctx context.Context, ref document.Ref, index string) (*mooli.Receipt, error)
}

type Inbox struct {
	dir      string
	ingester Ingester
	settle   time.Duration
	watcher  *fsnotify.Watcher
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingFile
	wg      sync.WaitGroup
}

type pendingFile struct {
	timer *time.Timer
}

type Option func(*Inbox)

func WithSettle(d time.Duration) Option {
	return func(i *Inbox) {
		if d > 0 {
			i.settle = d
		}
	}
}

func NewInbox(dir string, ingester Ingester, opts ...Option) (*Inbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(abs); err != nil {
		w.Close()
		return nil, err
	}

	inbox := &Inbox{
		dir:      abs,
		ingester: ingester,
		settle:   DefaultSettle,
		watcher:  w,
		pending:  make(map[string]*pendingFile),
		log: zap.L().With(
			zap.String("component", "inbox"),
			zap.String("dir", abs),
		),
	}

	for _, opt := range opts {
		opt(inbox)
	}

	return inbox, nil
}

func (i *Inbox) Dir() string {
	return i.dir
}

// Run schedules ingestion of every supported file created or rewritten in
// the inbox until ctx is done.
func (i *Inbox) Run(ctx context.Context) error {
	i.log.Info("watching inbox")

	defer i.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-i.watcher.Events:
			if !ok {
				return nil
			}

			if !document.Supported(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			i.schedule(ctx, event.Name)

		case err, ok := <-i.watcher.Errors:
			if !ok {
				return nil
			}

			i.log.Error(err.Error())
		}
	}
}

func (i *Inbox) schedule(ctx context.Context, path string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if p, ok := i.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(i.settle)
		return
	}

	p := new(pendingFile)

	i.wg.Add(1)
	p.timer = time.AfterFunc(i.settle, func() {
		defer i.wg.Done()

		i.mu.Lock()
		if i.pending[path] == p {
			delete(i.pending, path)
		}
		i.mu.Unlock()

		i.ingest(ctx, path)
	})

	i.pending[path] = p
}

func (i *Inbox) ingest(ctx context.Context, path string) {
	log := i.log.With(
		zap.String("action", "ingest"),
		zap.String("file", filepath.Base(path)),
	)

	if ctx.Err() != nil {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}

	receipt, err := i.ingester.Ingest(ctx, document.Ref{Path: path}, "")
	if err != nil {
		log.Error(err.Error())
		return
	}

	log.Info("ingestion scheduled", zap.String("task_id", receipt.TaskID))
}

func (i *Inbox) stopTimers() {
	i.mu.Lock()
	for path, p := range i.pending {
		if p.timer.Stop() {
			i.wg.Done()
		}

		delete(i.pending, path)
	}
	i.mu.Unlock()

	i.wg.Wait()
}

func (i *Inbox) Close() error {
	return i.watcher.Close()
}
