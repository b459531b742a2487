package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"jwtauth/pkg/logging"
)

// Redis is a Medium backed by Redis. Values live under <prefix>:kv:<key>;
// every write is announced on the <prefix>:events channel so that all
// processes sharing the server observe it.
type Redis struct {
	client redis.UniversalClient
	prefix string

	hub *hub

	mu      sync.Mutex
	started bool
	closed  bool
	pubsub  *redis.PubSub
	doneCh  chan struct{}
}

// redisEvent is the payload published on the events channel.
type redisEvent struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted,omitempty"`
	Value   []byte `json:"value,omitempty"`
}

// NewRedis creates a Redis medium. The client stays owned by the caller.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		hub:    newHub("RedisStorage"),
		doneCh: make(chan struct{}),
	}
}

func (r *Redis) dataKey(key string) string {
	return r.prefix + ":kv:" + key
}

func (r *Redis) channel() string {
	return r.prefix + ":events"
}

// Get returns the value stored under key, or ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	value, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s from redis: %w", key, err)
	}
	return value, nil
}

// Put stores value and announces the write.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	payload, err := json.Marshal(redisEvent{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.dataKey(key), value, 0)
		pipe.Publish(ctx, r.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", key, err)
	}
	return nil
}

// Delete removes key and announces the deletion.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	payload, err := json.Marshal(redisEvent{Key: key, Deleted: true})
	if err != nil {
		return fmt.Errorf("failed to encode change event: %w", err)
	}

	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.dataKey(key))
		pipe.Publish(ctx, r.channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

// Watch reports changes of key announced by any process.
func (r *Redis) Watch(ctx context.Context, key string) (<-chan Event, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := r.start(ctx); err != nil {
		return nil, err
	}

	ch, err := r.hub.subscribe(ctx, key)
	if err != nil {
		return nil, err
	}

	value, err := r.Get(ctx, key)
	switch {
	case err == nil:
		r.hub.seed(key, value, true)
	case errors.Is(err, ErrNotFound):
		r.hub.seed(key, nil, false)
	default:
		logging.Warn("RedisStorage", "Failed to read initial value of %s: %v", key, err)
	}
	return ch, nil
}

// start subscribes to the events channel once. It returns after Redis has
// confirmed the subscription, so no later write is missed.
func (r *Redis) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	pubsub := r.client.Subscribe(context.WithoutCancel(ctx), r.channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel(), err)
	}

	r.pubsub = pubsub
	r.started = true
	go r.processMessages(pubsub.Channel())

	logging.Debug("RedisStorage", "Subscribed to %s", r.channel())
	return nil
}

func (r *Redis) processMessages(messages <-chan *redis.Message) {
	defer close(r.doneCh)

	for msg := range messages {
		var ev redisEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logging.Warn("RedisStorage", "Ignoring malformed change event: %v", err)
			continue
		}
		if ev.Deleted {
			r.hub.publishDelete(ev.Key)
		} else {
			r.hub.publishPut(ev.Key, ev.Value)
		}
	}
}

// Close unsubscribes and closes every watcher channel. The Redis client is
// not closed.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pubsub := r.pubsub
	r.mu.Unlock()

	var err error
	if pubsub != nil {
		err = pubsub.Close()
		<-r.doneCh
	}

	r.hub.close()
	return err
}
