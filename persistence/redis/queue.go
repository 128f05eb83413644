package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flarexio/mooli/job"
)

// A started job whose worker has been silent this long is handed to
// another worker.
const claimTimeout = 10 * time.Minute

var _ job.Queue = (*Queue)(nil)

type QueueOption func(*Queue)

func WithPrefix(prefix string) QueueOption {
	return func(q *Queue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

func WithConsumer(name string) QueueOption {
	return func(q *Queue) {
		if name != "" {
			q.consumer = name
		}
	}
}

// WithRetention expires job records after d. Zero keeps them forever.
func WithRetention(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.retention = d
		}
	}
}

// Queue stores each job as a JSON record and schedules it on a Redis
// stream read by a consumer group. Retries wait in a sorted set until due.
type Queue struct {
	client    *redis.Client
	prefix    string
	consumer  string
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func NewQueue(ctx context.Context, client *redis.Client, opts ...QueueOption) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}

	hostname, _ := os.Hostname()

	q := &Queue{
		client:   client,
		prefix:   DefaultPrefix,
		consumer: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		now:      time.Now,
		log:      zap.L().With(zap.String("component", "queue")),
	}

	for _, opt := range opts {
		opt(q)
	}

	err := client.XGroupCreateMkStream(ctx, q.stream(), q.group(), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	return q, nil
}

func (q *Queue) stream() string    { return q.prefix + ":jobs" }
func (q *Queue) group() string     { return q.prefix + ":workers" }
func (q *Queue) scheduled() string { return q.prefix + ":scheduled" }

func (q *Queue) jobKey(id string) string {
	return q.prefix + ":job:" + id
}

func (q *Queue) msgKey(id string) string {
	return q.prefix + ":job:" + id + ":msg"
}

func (q *Queue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	if j == nil || j.ID == "" {
		return "", job.ErrInvalidJob
	}

	bs, err := json.Marshal(j)
	if err != nil {
		return "", err
	}

	created, err := q.client.SetNX(ctx, q.jobKey(j.ID), bs, q.retention).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	if !created {
		q.log.Debug("duplicate job ignored", zap.String("job_id", j.ID))
		return j.ID, nil
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream(),
		Values: map[string]any{
			"job_id": j.ID,
			"kind":   string(j.Kind),
		},
	}).Err()

	if err != nil {
		q.client.Del(context.WithoutCancel(ctx), q.jobKey(j.ID))
		return "", fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	return j.ID, nil
}

func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	if err := q.promote(ctx); err != nil {
		q.log.Warn(err.Error(), zap.String("action", "promote"))
	}

	if j, err := q.claimAbandoned(ctx); err == nil && j != nil {
		return j, nil
	}

	block := time.Duration(-1)
	if timeout > 0 {
		block = timeout
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group(),
		Consumer: q.consumer,
		Streams:  []string{q.stream(), ">"},
		Count:    1,
		Block:    block,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("read job stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.start(ctx, streams[0].Messages[0])
}

// start marks the job behind msg as started. Messages pointing at missing,
// undecodable or already finished jobs are acknowledged and dropped. Any
// other failure leaves the message pending so it can be claimed again.
func (q *Queue) start(ctx context.Context, msg redis.XMessage) (*job.Job, error) {
	id, _ := msg.Values["job_id"].(string)

	j, err := q.Status(ctx, id)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		q.drop(ctx, msg.ID)
		return nil, nil

	case errors.Is(err, job.ErrInvalidJob):
		q.drop(ctx, msg.ID)
		return nil, err

	case err != nil:
		return nil, err
	}

	if j.State.Terminal() {
		q.drop(ctx, msg.ID)
		return nil, nil
	}

	j.MarkStarted(q.now().UTC())

	if err := q.save(ctx, q.client, j); err != nil {
		return nil, err
	}

	if err := q.client.Set(ctx, q.msgKey(j.ID), msg.ID, q.retention).Err(); err != nil {
		return nil, err
	}

	return j, nil
}

func (q *Queue) Complete(ctx context.Context, id string, result string) error {
	j, err := q.Status(ctx, id)
	if err != nil {
		return err
	}

	j.MarkSuccess(result, q.now().UTC())

	return q.finish(ctx, j)
}

func (q *Queue) Fail(ctx context.Context, id string, reason string) error {
	j, err := q.Status(ctx, id)
	if err != nil {
		return err
	}

	now := q.now().UTC()
	if j.CanRetry() {
		j.Retry(reason, now)
	} else {
		j.MarkFailure(reason, now)
	}

	return q.finish(ctx, j)
}

// finish acknowledges the stream message of j and stores its new state,
// scheduling it again when it went back to pending.
func (q *Queue) finish(ctx context.Context, j *job.Job) error {
	msgID, err := q.client.Get(ctx, q.msgKey(j.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := q.client.TxPipeline()

	if msgID != "" {
		pipe.XAck(ctx, q.stream(), q.group(), msgID)
		pipe.XDel(ctx, q.stream(), msgID)
	}

	if err := q.save(ctx, pipe, j); err != nil {
		return err
	}

	if j.State == job.StatePending {
		pipe.ZAdd(ctx, q.scheduled(), redis.Z{
			Score:  float64(j.ScheduledFor.UnixMilli()),
			Member: j.ID,
		})
	}

	pipe.Del(ctx, q.msgKey(j.ID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}

	return nil
}

func (q *Queue) Status(ctx context.Context, id string) (*job.Job, error) {
	if id == "" {
		return nil, job.ErrJobNotFound
	}

	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", job.ErrJobNotFound, id)
		}

		return nil, err
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: decode job %s: %w", job.ErrInvalidJob, id, err)
	}

	return &j, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close leaves the shared client open.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) save(ctx context.Context, c redis.Cmdable, j *job.Job) error {
	bs, err := json.Marshal(j)
	if err != nil {
		return err
	}

	return c.Set(ctx, q.jobKey(j.ID), bs, q.retention).Err()
}

func (q *Queue) drop(ctx context.Context, msgID string) {
	q.client.XAck(ctx, q.stream(), q.group(), msgID)
	q.client.XDel(ctx, q.stream(), msgID)
}

// promote moves due retries from the scheduled set to the stream.
func (q *Queue) promote(ctx context.Context) error {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduled(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		// Only the worker that removes the member schedules it.
		removed, err := q.client.ZRem(ctx, q.scheduled(), id).Result()
		if err != nil {
			return err
		}

		if removed == 0 {
			continue
		}

		err = q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream(),
			Values: map[string]any{"job_id": id},
		}).Err()
		if err != nil {
			return err
		}
	}

	return nil
}

func (q *Queue) claimAbandoned(ctx context.Context) (*job.Job, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream(),
		Group:  q.group(),
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream(),
			Group:    q.group(),
			Consumer: q.consumer,
			MinIdle:  claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		j, err := q.start(ctx, claimed[0])
		if err != nil || j == nil {
			continue
		}

		q.log.Warn("claimed abandoned job", zap.String("job_id", j.ID))
		return j, nil
	}

	return nil, nil
}
