package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flarexio/mooli/vector"
)

var _ vector.Locker = (*Lock)(nil)

// Lock is a SETNX lock owned by one process. Only the owner can release it.
type Lock struct {
	client  *redis.Client
	prefix  string
	ownerID string
}

func NewLock(client *redis.Client, prefix string) *Lock {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Lock{
		client:  client,
		prefix:  prefix + ":lock:",
		ownerID: newOwnerID(),
	}
}

// newOwnerID returns hostname:pid:random.
func newOwnerID() string {
	hostname, _ := os.Hostname()

	bs := make([]byte, 8)
	_, _ = rand.Read(bs)

	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(bs))
}

func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release is a no-op when the lock expired or belongs to another owner.
func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, l.ownerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}

	return nil
}

func (l *Lock) OwnerID() string {
	return l.ownerID
}
