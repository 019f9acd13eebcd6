// Package eventbus carries execution lifecycle events between stepflow processes.
package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/events"
)

// Event is anything published on the lifecycle topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event. Events sharing a key keep their order
// on partitioned transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// Typed adapts a handler for one concrete event struct. Payloads of any
// other type are reported as errors.
func Typed[T any](handler func(ctx context.Context, event *T) error) EventHandler {
	return func(ctx context.Context, event any) error {
		typed, ok := event.(*T)
		if !ok {
			return fmt.Errorf("unexpected event payload %T", event)
		}

		return handler(ctx, typed)
	}
}
