package events

import (
	"sync"
)

// EventHandler defines a function type where its input type is the generic type. Returning an error stops the
// delivery of the event to the remaining handlers.
type EventHandler[T any] func(T) error

// EventEmitter describes a provider which can subscribe EventHandler methods for callback when the event type (generic)
// is published. Subscribing and publishing may happen from different goroutines.
type EventEmitter[T any] struct {
	// subscriptions defines the EventHandler methods which should be invoked when a new event is published to this
	// emitter.
	subscriptions []EventHandler[T]

	// lock guards subscriptions.
	lock sync.RWMutex
}

// Publish emits the provided event by calling every EventHandler subscribed, in subscription order. The first error
// returned by a handler is returned to the publisher.
func (e *EventEmitter[T]) Publish(event T) error {
	e.lock.RLock()
	subscriptions := e.subscriptions
	e.lock.RUnlock()

	for _, subscription := range subscriptions {
		if err := subscription(event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds an EventHandler to the list of subscribed EventHandler objects for this emitter. When an event is
// published, the callback will be triggered with the event data.
func (e *EventEmitter[T]) Subscribe(callback EventHandler[T]) {
	e.lock.Lock()
	defer e.lock.Unlock()

	// Copy on write so that a concurrent Publish keeps iterating over the old slice.
	subscriptions := make([]EventHandler[T], len(e.subscriptions), len(e.subscriptions)+1)
	copy(subscriptions, e.subscriptions)
	e.subscriptions = append(subscriptions, callback)
}

// SubscriptionCount returns the number of handlers subscribed to this emitter.
func (e *EventEmitter[T]) SubscriptionCount() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return len(e.subscriptions)
}
