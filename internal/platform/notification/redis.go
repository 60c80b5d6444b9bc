package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisPublisher appends events to a Redis stream with XADD. Consumers
// (ward displays, pager bridges) read the stream with their own groups.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher publishes to stream, trimming it approximately to
// maxLen entries when maxLen > 0.
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: streamValues(ev),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// streamValues flattens an event into stream fields. Data keys are prefixed
// so they cannot shadow the fixed fields.
func streamValues(ev Event) map[string]interface{} {
	values := map[string]interface{}{
		"category":    string(ev.Category),
		"message":     ev.Message,
		"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.CaseID != "" {
		values["case_id"] = ev.CaseID
	}
	for k, v := range ev.Data {
		values["data."+k] = v
	}
	return values
}
