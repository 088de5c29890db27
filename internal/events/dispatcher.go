package events

import (
	"context"
	"log/slog"
	"sync"
)

// Listener receives published events. Listeners run synchronously on the
// publishing goroutine; a panicking listener is isolated and logged.
type Listener func(Event)

// Subscription is the handle returned by Subscribe. Closing it removes the
// listener; Close is idempotent.
type Subscription struct {
	d    *Dispatcher
	fn   Listener
	once sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.d.remove(s)
	})
}

// Dispatcher is an in-process broadcast bus. Publish invokes every current
// subscriber in registration order; there is no buffering or backpressure.
type Dispatcher struct {
	log *slog.Logger

	mu   sync.Mutex
	subs []*Subscription
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{log: log}
}

func (d *Dispatcher) Subscribe(fn Listener) *Subscription {
	sub := &Subscription{d: d, fn: fn}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()
	return sub
}

func (d *Dispatcher) remove(sub *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return
		}
	}
}

// Publish broadcasts evt to a snapshot of the current subscribers, so
// subscribe/unsubscribe during a publish never observes a half-mutated
// registry.
func (d *Dispatcher) Publish(evt Event) {
	d.mu.Lock()
	snapshot := make([]*Subscription, len(d.subs))
	copy(snapshot, d.subs)
	d.mu.Unlock()

	for _, sub := range snapshot {
		d.invoke(sub, evt)
	}
}

func (d *Dispatcher) invoke(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event listener panicked", "kind", evt.Kind, "panic", r)
		}
	}()
	sub.fn(evt)
}

// Next blocks until an event satisfying match is published or ctx is done.
// The transient subscription is always removed before returning.
func (d *Dispatcher) Next(ctx context.Context, match func(Event) bool) (Event, error) {
	ch := make(chan Event, 1)
	sub := d.Subscribe(func(evt Event) {
		if match(evt) {
			select {
			case ch <- evt:
			default:
			}
		}
	})
	defer sub.Close()

	select {
	case evt := <-ch:
		return evt, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Clear drops every subscriber. Used on dispose and connection-state resets.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	d.subs = nil
	d.mu.Unlock()
}
