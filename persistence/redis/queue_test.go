package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/flarexio/mooli/job"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
	})

	return mr, client
}

type queueTestSuite struct {
	suite.Suite
	ctx    context.Context
	mr     *miniredis.Miniredis
	client *redis.Client
	queue  *Queue
}

func (suite *queueTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.mr, suite.client = setupTestRedis(suite.T())

	q, err := NewQueue(suite.ctx, suite.client, WithConsumer("test"))
	suite.Require().NoError(err)

	suite.queue = q
}

func (suite *queueTestSuite) newJob(opts ...job.Option) *job.Job {
	j, err := job.NewJob(job.KindAnswer, map[string]string{"query": "hello"}, opts...)
	suite.Require().NoError(err)

	return j
}

func (suite *queueTestSuite) TestLifecycleSurvivesNewQueue() {
	j := suite.newJob()

	id, err := suite.queue.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)
	suite.Equal(j.ID, id)

	status, err := suite.queue.Status(suite.ctx, id)
	suite.Require().NoError(err)
	suite.Equal(job.StatePending, status.State)

	started, err := suite.queue.Dequeue(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Require().NotNil(started)
	suite.Equal(id, started.ID)
	suite.Equal(job.StateStarted, started.State)
	suite.Equal(1, started.Attempts)

	status, err = suite.queue.Status(suite.ctx, id)
	suite.Require().NoError(err)
	suite.Equal(job.StateStarted, status.State)

	err = suite.queue.Complete(suite.ctx, id, "the answer")
	suite.Require().NoError(err)

	// A fresh connection and queue see the same terminal state.
	client := redis.NewClient(&redis.Options{Addr: suite.mr.Addr()})
	defer client.Close()

	other, err := NewQueue(suite.ctx, client, WithConsumer("other"))
	suite.Require().NoError(err)

	status, err = other.Status(suite.ctx, id)
	suite.Require().NoError(err)
	suite.Equal(job.StateSuccess, status.State)
	suite.Equal("the answer", status.Result)
	suite.NotNil(status.CompletedAt)

	next, err := other.Dequeue(suite.ctx, 0)
	suite.NoError(err)
	suite.Nil(next)
}

func (suite *queueTestSuite) TestEnqueueIsIdempotent() {
	first := suite.newJob(job.WithID("Ev0123"))
	second := suite.newJob(job.WithID("Ev0123"))

	id, err := suite.queue.Enqueue(suite.ctx, first)
	suite.Require().NoError(err)
	suite.Equal("Ev0123", id)

	id, err = suite.queue.Enqueue(suite.ctx, second)
	suite.Require().NoError(err)
	suite.Equal("Ev0123", id)

	length, err := suite.client.XLen(suite.ctx, suite.queue.stream()).Result()
	suite.Require().NoError(err)
	suite.Equal(int64(1), length)
}

func (suite *queueTestSuite) TestEnqueueInvalid() {
	_, err := suite.queue.Enqueue(suite.ctx, nil)
	suite.ErrorIs(err, job.ErrInvalidJob)
}

func (suite *queueTestSuite) TestStatusUnknown() {
	_, err := suite.queue.Status(suite.ctx, "does-not-exist")
	suite.ErrorIs(err, job.ErrJobNotFound)

	_, err = suite.queue.Status(suite.ctx, "")
	suite.ErrorIs(err, job.ErrJobNotFound)
}

func (suite *queueTestSuite) TestDequeueEmpty() {
	j, err := suite.queue.Dequeue(suite.ctx, 0)
	suite.NoError(err)
	suite.Nil(j)
}

func (suite *queueTestSuite) TestFailWithoutRetry() {
	j := suite.newJob()

	_, err := suite.queue.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)

	_, err = suite.queue.Dequeue(suite.ctx, 0)
	suite.Require().NoError(err)

	err = suite.queue.Fail(suite.ctx, j.ID, "delivery failed")
	suite.Require().NoError(err)

	status, err := suite.queue.Status(suite.ctx, j.ID)
	suite.Require().NoError(err)
	suite.Equal(job.StateFailure, status.State)
	suite.Equal("delivery failed", status.Error)

	length, err := suite.client.XLen(suite.ctx, suite.queue.stream()).Result()
	suite.Require().NoError(err)
	suite.Equal(int64(0), length)
}

func (suite *queueTestSuite) TestFailRetriesWithBackoff() {
	j := suite.newJob(job.WithMaxAttempts(2))

	_, err := suite.queue.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)

	_, err = suite.queue.Dequeue(suite.ctx, 0)
	suite.Require().NoError(err)

	err = suite.queue.Fail(suite.ctx, j.ID, "throttled")
	suite.Require().NoError(err)

	status, err := suite.queue.Status(suite.ctx, j.ID)
	suite.Require().NoError(err)
	suite.Equal(job.StatePending, status.State)
	suite.Equal("throttled", status.Error)

	// Not due yet.
	next, err := suite.queue.Dequeue(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Nil(next)

	later := time.Now().Add(time.Minute)
	suite.queue.now = func() time.Time { return later }

	next, err = suite.queue.Dequeue(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Require().NotNil(next)
	suite.Equal(j.ID, next.ID)
	suite.Equal(2, next.Attempts)

	err = suite.queue.Fail(suite.ctx, j.ID, "throttled again")
	suite.Require().NoError(err)

	status, err = suite.queue.Status(suite.ctx, j.ID)
	suite.Require().NoError(err)
	suite.Equal(job.StateFailure, status.State)
	suite.Equal("throttled again", status.Error)
}

func (suite *queueTestSuite) TestRetention() {
	q, err := NewQueue(suite.ctx, suite.client, WithPrefix("retained"), WithRetention(time.Hour))
	suite.Require().NoError(err)

	j := suite.newJob()

	_, err = q.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)

	suite.Equal(time.Hour, suite.mr.TTL(q.jobKey(j.ID)))

	j2 := suite.newJob()

	_, err = suite.queue.Enqueue(suite.ctx, j2)
	suite.Require().NoError(err)

	suite.Equal(time.Duration(0), suite.mr.TTL(suite.queue.jobKey(j2.ID)))
}

func (suite *queueTestSuite) TestPing() {
	suite.NoError(suite.queue.Ping(suite.ctx))
	suite.NoError(suite.queue.Close())
}

func (suite *queueTestSuite) TestReadFailureKeepsMessagePending() {
	j := suite.newJob()

	id, err := suite.queue.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)

	key := suite.queue.jobKey(id)
	record, err := suite.client.Get(suite.ctx, key).Result()
	suite.Require().NoError(err)

	// A key of the wrong type makes GET fail with something other than nil.
	suite.client.Del(suite.ctx, key)
	suite.client.HSet(suite.ctx, key, "state", "pending")

	started, err := suite.queue.Dequeue(suite.ctx, 0)
	suite.Error(err)
	suite.NotErrorIs(err, job.ErrJobNotFound)
	suite.Nil(started)

	pending, err := suite.client.XPending(suite.ctx, suite.queue.stream(), suite.queue.group()).Result()
	suite.Require().NoError(err)
	suite.Equal(int64(1), pending.Count)

	suite.client.Del(suite.ctx, key)
	suite.Require().NoError(suite.client.Set(suite.ctx, key, record, 0).Err())

	msgs, err := suite.client.XRange(suite.ctx, suite.queue.stream(), "-", "+").Result()
	suite.Require().NoError(err)
	suite.Require().Len(msgs, 1)

	started, err = suite.queue.start(suite.ctx, msgs[0])
	suite.Require().NoError(err)
	suite.Require().NotNil(started)
	suite.Equal(job.StateStarted, started.State)
}

func (suite *queueTestSuite) TestUndecodableJobIsDropped() {
	j := suite.newJob()

	id, err := suite.queue.Enqueue(suite.ctx, j)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.client.Set(suite.ctx, suite.queue.jobKey(id), "not json", 0).Err())

	_, err = suite.queue.Dequeue(suite.ctx, 0)
	suite.ErrorIs(err, job.ErrInvalidJob)

	pending, err := suite.client.XPending(suite.ctx, suite.queue.stream(), suite.queue.group()).Result()
	suite.Require().NoError(err)
	suite.Equal(int64(0), pending.Count)
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(queueTestSuite))
}
