package tabsync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// RedisBroadcaster carries sync messages over a redis pub/sub channel,
// linking every process that shares the cache origin.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger

	mu     sync.Mutex
	sub    *redis.PubSub
	out    chan Message
	closed bool
}

// NewRedisBroadcaster creates a broadcaster over the given channel.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *observability.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		logger:  logger.WithComponent("tabsync"),
	}
}

// Publish marshals and sends one message.
func (r *RedisBroadcaster) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe opens the pub/sub stream and starts decoding messages.
// Malformed payloads are dropped with a warning.
func (r *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out != nil {
		return r.out, nil
	}

	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	r.sub = sub
	r.out = make(chan Message, 64)

	go func(in <-chan *redis.Message, out chan<- Message) {
		defer close(out)
		for raw := range in {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				r.logger.LogWarn(ctx, "dropping malformed sync message", "action", "subscribe", "error", err)
				continue
			}
			select {
			case out <- msg:
			default:
				// Best-effort channel; shed rather than block redis reads.
			}
		}
	}(sub.Channel(), r.out)

	return r.out, nil
}

// Close tears down the subscription. The client is shared and stays open.
func (r *RedisBroadcaster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.sub != nil {
		return r.sub.Close()
	}
	return nil
}
