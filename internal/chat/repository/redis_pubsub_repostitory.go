package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_delivery_service/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// Event definition one payload delivered on a subscribed channel
type Event struct {
	Channel string
	Payload []byte
}

// Subscription definition a live channel-set subscription. The channel set
// can be mutated while the subscription is open. Exclusively owned by one
// listener task.
type Subscription interface {
	// Events stream of payloads, closed when the subscription ends
	Events() <-chan Event
	// Add subscribes extra channels on the open subscription
	Add(channels ...string) error
	// Remove unsubscribes channels from the open subscription
	Remove(channels ...string) error
	// Close tears the subscription down and closes Events
	Close() error
}

// PubSub definition the broker capability. The broker keeps no history,
// a payload published while a subscriber is absent is lost to it and has
// to be recovered through the inbox instead.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// RedisPubSub definition redis pub/sub adapter
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 payload 序列化後發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a channel-set subscription. The pump goroutine exits when
// ctx is cancelled or the subscription is closed.
func (r *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	sub := r.client.Subscribe(ctx, channels...)
	// force the subscribe handshake so a broken broker fails here, not on
	// the first missed event
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	s := &redisSubscription{
		ctx:    ctx,
		sub:    sub,
		events: make(chan Event, 64),
	}
	go s.pump()
	return s, nil
}

type redisSubscription struct {
	ctx    context.Context
	sub    *redis.PubSub
	events chan Event
}

func (s *redisSubscription) pump() {
	defer close(s.events)
	ch := s.sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.events <- Event{Channel: m.Channel, Payload: []byte(m.Payload)}:
			case <-s.ctx.Done():
				s.sub.Close()
				return
			}
		case <-s.ctx.Done():
			logger.Log.Info(fmt.Sprintf("subscription closed: %v", s.ctx.Err()))
			s.sub.Close()
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Add(channels ...string) error {
	return s.sub.Subscribe(s.ctx, channels...)
}

func (s *redisSubscription) Remove(channels ...string) error {
	return s.sub.Unsubscribe(s.ctx, channels...)
}

func (s *redisSubscription) Close() error {
	return s.sub.Close()
}
