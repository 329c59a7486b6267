package transport

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamClient is the minimal client surface used by the Redis transport.
type RedisStreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RedisPublisher appends envelopes to one Redis stream per topic.
type RedisPublisher struct {
	client RedisStreamClient
	maxLen int64
}

// NewRedisPublisher constructs a publisher; maxLen > 0 caps each stream
// approximately.
func NewRedisPublisher(client RedisStreamClient, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"key":     key,
			"payload": string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Err()
}

// RedisConsumer reads a set of streams through one consumer group. The group
// holds the delivery position server-side, so restarts and downtime windows
// resume where the group left off instead of dropping to the stream tail.
type RedisConsumer struct {
	client   RedisStreamClient
	topics   []string
	group    string
	consumer string
	block    time.Duration

	retryDelay time.Duration
	sleep      func(context.Context, time.Duration) error
}

// NewRedisConsumer constructs a consumer reading as the named member of the
// group. The group is created at each stream's tail on first use.
func NewRedisConsumer(client RedisStreamClient, group, consumer string, topics []string, block time.Duration) *RedisConsumer {
	if block <= 0 {
		block = 5 * time.Second
	}
	return &RedisConsumer{
		client:     client,
		topics:     topics,
		group:      group,
		consumer:   consumer,
		block:      block,
		retryDelay: time.Second,
		sleep:      sleepCtx,
	}
}

// Run reads entries until the context ends. An entry is acknowledged only
// after the handler succeeds; a failed entry stays pending and is retried
// before any new delivery, so handler errors never skip an event.
func (c *RedisConsumer) Run(ctx context.Context, handler HandlerFunc) error {
	if err := c.ensureGroups(ctx); err != nil {
		return err
	}

	// Start with this consumer's pending entries so work interrupted by a
	// crash is re-processed before anything new.
	cursor := "0"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams := make([]string, 0, len(c.topics)*2)
		streams = append(streams, c.topics...)
		for range c.topics {
			streams = append(streams, cursor)
		}

		res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  streams,
			Block:    c.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				cursor = ">"
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		delivered := 0
		failed := false
		for _, stream := range res {
			for _, msg := range stream.Messages {
				delivered++
				raw, ok := msg.Values["payload"].(string)
				if !ok {
					// Malformed entry: ack it away, it can never succeed.
					if err := c.client.XAck(ctx, stream.Stream, c.group, msg.ID).Err(); err != nil {
						return err
					}
					continue
				}
				if err := handler(ctx, []byte(raw)); err != nil {
					failed = true
					continue
				}
				if err := c.client.XAck(ctx, stream.Stream, c.group, msg.ID).Err(); err != nil {
					return err
				}
			}
		}

		switch {
		case failed:
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return err
			}
			cursor = "0"
		case cursor == "0" && delivered == 0:
			cursor = ">"
		}
	}
}

func (c *RedisConsumer) ensureGroups(ctx context.Context) error {
	for _, topic := range c.topics {
		err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}
