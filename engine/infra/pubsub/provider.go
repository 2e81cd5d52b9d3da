// Package pubsub carries the live notification channel between the engine
// and its observers. Delivery is at-most-once and non-durable: a UI that
// misses a message re-fetches run state from the store.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/runloom/runloom/engine/event"
)

// Message is one raw payload delivered on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live message stream. Close is idempotent and closes the
// Messages channel.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Provider publishes to and subscribes on named channels. Publish satisfies
// event.Publisher, so a Provider can be handed directly to the emitter.
type Provider interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// DecodeEnvelope parses a message published by the event emitter.
func DecodeEnvelope(msg Message) (*event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope from %s: %w", msg.Channel, err)
	}
	return &env, nil
}
