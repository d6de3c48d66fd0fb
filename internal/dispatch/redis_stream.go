package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"swaprelay/internal/contract"
)

const DefaultStream = "swaprelay:jobs"

// RedisStreamClient appends envelopes to a Redis stream consumed by the job scheduler.
type RedisStreamClient struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamClient(client *redis.Client, stream string, maxLen int64) (*RedisStreamClient, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamClient{client: client, stream: stream, maxLen: maxLen}, nil
}

func (c *RedisStreamClient) Dispatch(ctx context.Context, env contract.Envelope) (Receipt, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal envelope: %w", err)
	}

	id := uuid.NewString()
	args := &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{
			"id":       id,
			"job_id":   env.JobID,
			"envelope": string(body),
		},
	}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}

	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		return Receipt{}, fmt.Errorf("xadd %s: %w", c.stream, err)
	}
	return Receipt{ID: id}, nil
}

func (c *RedisStreamClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
