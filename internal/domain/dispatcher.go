package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peaceseal.io/herald/internal/pkg/logger"
)

// ErrNoHandler is returned by Dispatch when nothing subscribed to the event type.
var ErrNoHandler = errors.New("no handler registered for event type")

// EventHandler processes a domain event.
type EventHandler func(ctx context.Context, event *DomainEvent) error

// EventDispatcher routes domain events to registered handlers.
type EventDispatcher struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
}

// NewEventDispatcher creates a new EventDispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Register registers a handler for a specific event type.
func (d *EventDispatcher) Register(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Handles reports whether at least one handler is registered for eventType.
func (d *EventDispatcher) Handles(eventType EventType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

// Dispatch calls every handler registered for event.EventType in
// registration order. A failing handler does not stop the rest; all
// failures are joined into the returned error.
func (d *EventDispatcher) Dispatch(ctx context.Context, event *DomainEvent) error {
	d.mu.RLock()
	handlers := d.handlers[event.EventType]
	d.mu.RUnlock()

	log := logger.From(ctx).With(
		zap.String("event_type", string(event.EventType)),
		zap.String("event_id", event.EventID),
	)

	if len(handlers) == 0 {
		log.Warn("no handlers registered for event type")
		return fmt.Errorf("%w: %s", ErrNoHandler, event.EventType)
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			log.Error("event handler failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("handler for %s failed: %w", event.EventType, err))
		}
	}

	return errors.Join(errs...)
}
