package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"supportchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultEventChannel is the redis channel every instance publishes pushes on.
const DefaultEventChannel = "support:events"

// Delivery addresses a push frame to users, to every connected admin, or both.
// RoomID names the room whose state changed, if any; Origin is the instance
// that published it.
type Delivery struct {
	UserIDs  []string        `json:"userIds,omitempty"`
	Admins   bool            `json:"admins,omitempty"`
	RoomID   string          `json:"roomId,omitempty"`
	Origin   string          `json:"origin,omitempty"`
	Envelope models.Envelope `json:"envelope"`
}

// Publisher sends deliveries without consuming any.
type Publisher interface {
	Publish(ctx context.Context, d Delivery) error
}

// EventBus carries deliveries to every hub instance, including the sender's.
type EventBus interface {
	Publish(ctx context.Context, d Delivery) error
	Deliveries() <-chan Delivery
	Close() error
}

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// LocalBus is the single-instance bus.
type LocalBus struct {
	mu     sync.RWMutex
	closed bool
	ch     chan Delivery
}

func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{ch: make(chan Delivery, buffer)}
}

func (b *LocalBus) Publish(ctx context.Context, d Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	select {
	case b.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Deliveries() <-chan Delivery { return b.ch }

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// RedisPublisher writes deliveries to a redis channel. Tools that change rooms
// outside a server use it to tell running instances.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, d Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// RedisBus fans deliveries out through redis pub/sub so connections held by
// other instances receive them too.
type RedisBus struct {
	*RedisPublisher
	pubsub *redis.PubSub
	out    chan Delivery
}

// NewRedisBus subscribes to channel and starts forwarding payloads.
func NewRedisBus(ctx context.Context, rdb *redis.Client, channel string) (*RedisBus, error) {
	pubsub := rdb.Subscribe(ctx, channel)
	// Wait for the subscription so nothing published after this returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	b := &RedisBus{
		RedisPublisher: NewRedisPublisher(rdb, channel),
		pubsub:         pubsub,
		out:            make(chan Delivery, 256),
	}
	go b.listen()
	return b, nil
}

func (b *RedisBus) listen() {
	defer close(b.out)
	for msg := range b.pubsub.Channel() {
		var d Delivery
		if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
			zap.S().Errorw("failed to decode redis delivery", "channel", msg.Channel, "error", err)
			continue
		}
		b.out <- d
	}
}

func (b *RedisBus) Deliveries() <-chan Delivery { return b.out }

func (b *RedisBus) Close() error { return b.pubsub.Close() }
