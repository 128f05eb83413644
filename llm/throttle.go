package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const DefaultThrottleBackoff = 30 * time.Second

// Throttle is an Embedder that keeps calls under a token bucket and backs
// off entirely for a while after the provider reports throttling.
type Throttle struct {
	next    Embedder
	limiter *rate.Limiter
	backoff time.Duration

	mu      sync.Mutex
	retryAt time.Time
}

func NewThrottle(next Embedder, perSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &Throttle{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		backoff: DefaultThrottleBackoff,
	}
}

func (t *Throttle) Model() string {
	return t.next.Model()
}

func (t *Throttle) Dimensions() int {
	return t.next.Dimensions()
}

func (t *Throttle) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.wait(ctx); err != nil {
		return nil, EmbeddingError(err, false)
	}

	v, err := t.next.Embed(ctx, text)
	if err != nil && errors.Is(err, ErrThrottled) {
		t.mu.Lock()
		t.retryAt = time.Now().Add(t.backoff)
		t.mu.Unlock()
	}

	return v, err
}

func (t *Throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	retryAt := t.retryAt
	t.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return t.limiter.Wait(ctx)
}
