// Package redis keeps job records, the job stream and the index rebuild
// locks in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "mooli"

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
