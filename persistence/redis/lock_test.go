package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockAcquireRelease(t *testing.T) {
	assert := assert.New(t)

	_, client := setupTestRedis(t)
	ctx := context.Background()

	first := NewLock(client, "")
	second := NewLock(client, "")
	assert.NotEqual(first.OwnerID(), second.OwnerID())

	ok, err := first.Acquire(ctx, "index:faiss_index", time.Minute)
	assert.NoError(err)
	assert.True(ok)

	ok, err = second.Acquire(ctx, "index:faiss_index", time.Minute)
	assert.NoError(err)
	assert.False(ok)

	// Releasing someone else's lock leaves it held.
	assert.NoError(second.Release(ctx, "index:faiss_index"))

	ok, err = second.Acquire(ctx, "index:faiss_index", time.Minute)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(first.Release(ctx, "index:faiss_index"))

	ok, err = second.Acquire(ctx, "index:faiss_index", time.Minute)
	assert.NoError(err)
	assert.True(ok)
}

func TestLockExpires(t *testing.T) {
	assert := assert.New(t)

	mr, client := setupTestRedis(t)
	ctx := context.Background()

	first := NewLock(client, "mooli")
	second := NewLock(client, "mooli")

	ok, err := first.Acquire(ctx, "index:kb", time.Second)
	assert.NoError(err)
	assert.True(ok)
	assert.True(mr.Exists("mooli:lock:index:kb"))

	mr.FastForward(2 * time.Second)

	ok, err = second.Acquire(ctx, "index:kb", time.Second)
	assert.NoError(err)
	assert.True(ok)
}
