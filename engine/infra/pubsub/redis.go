package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 64

// Redis is the production Provider, backed by Redis Pub/Sub.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub: redis client is required")
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing on %s: %w", channel, err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, so a caller that
// publishes right after Subscribe does not race its own message.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, subscriptionBuffer)
	go func(in <-chan *redis.Message) {
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				payload := make([]byte, len(msg.Payload))
				copy(payload, msg.Payload)
				select {
				case out <- Message{Channel: msg.Channel, Payload: payload}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}(ps.Channel())
	return &redisSubscription{ps: ps, cancel: cancel, messages: out}, nil
}

type redisSubscription struct {
	ps       *redis.PubSub
	cancel   context.CancelFunc
	messages <-chan Message
	once     sync.Once
}

func (s *redisSubscription) Messages() <-chan Message { return s.messages }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	return err
}
