package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnknownThread = errors.New("conversation: unknown thread")

// CheckpointStore persists the latest State of each thread.
type CheckpointStore interface {
	Load(ctx context.Context, threadID string) (*State, error)
	Save(ctx context.Context, s State) error
	Delete(ctx context.Context, threadID string) error
}

type redisCheckpoints struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisCheckpoints stores each state as one JSON value. ttl <= 0 keeps checkpoints forever.
func NewRedisCheckpoints(client *redis.Client, ttl time.Duration) CheckpointStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &redisCheckpoints{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("dental.internal.conversation.checkpoint"),
	}
}

func checkpointKey(threadID string) string {
	return fmt.Sprintf("checkpoint:%s", threadID)
}

func (c *redisCheckpoints) Load(ctx context.Context, threadID string) (*State, error) {
	ctx, span := c.tracer.Start(ctx, "conversation.load_checkpoint",
		trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	data, err := c.redis.Get(ctx, checkpointKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUnknownThread
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load checkpoint: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: decode checkpoint: %v", ErrInvalidState, err)
	}
	if err := s.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &s, nil
}

func (c *redisCheckpoints) Save(ctx context.Context, s State) error {
	ctx, span := c.tracer.Start(ctx, "conversation.save_checkpoint",
		trace.WithAttributes(attribute.String("thread_id", s.ThreadID), attribute.Int("version", s.Version)))
	defer span.End()

	if err := s.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: marshal checkpoint: %w", err)
	}
	if err := c.redis.Set(ctx, checkpointKey(s.ThreadID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: persist checkpoint: %w", err)
	}
	return nil
}

func (c *redisCheckpoints) Delete(ctx context.Context, threadID string) error {
	ctx, span := c.tracer.Start(ctx, "conversation.delete_checkpoint")
	defer span.End()

	if err := c.redis.Del(ctx, checkpointKey(threadID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: delete checkpoint: %w", err)
	}
	return nil
}
