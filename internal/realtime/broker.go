package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/fernandonovaluz/escola-backend/internal/config"
)

// Envelope carries an encoded frame between hubs. An empty Room addresses
// every client.
type Envelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
}

// Broker relays envelopes between hubs running in different processes.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

// InMemory fans envelopes out to every subscriber of this process.
type InMemory struct {
	mu   sync.Mutex
	subs map[chan Envelope]struct{}
	size int
}

// NewInMemory creates a broker whose subscribers buffer up to size envelopes.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{subs: make(map[chan Envelope]struct{}), size: size}
}

// Publish hands env to every subscriber that has room for it.
func (b *InMemory) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			metricsDropped("broker")
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx ends.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports how many subscriptions are open.
func (b *InMemory) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// RedisBroker relays envelopes over a Redis Pub/Sub channel.
type RedisBroker struct {
	client  *redis.Client
	channel string
	cb      *gobreaker.CircuitBreaker
}

// NewRedisBroker builds a broker on channel.
func NewRedisBroker(client *redis.Client, channel string, breaker config.Breaker) *RedisBroker {
	if channel == "" {
		channel = "escola:realtime"
	}
	return &RedisBroker{
		client:  client,
		channel: channel,
		cb:      breaker.New(),
	}
}

// Publish sends env to every subscribed instance.
func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Publish(ctx, b.channel, payload).Err()
	})
	return err
}

// Subscribe streams envelopes until ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					slog.Warn("realtime: dropping malformed envelope", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
