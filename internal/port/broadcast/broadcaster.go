// Package broadcast defines the port for pushing run lifecycle events to
// connected chat clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every connected client. Delivery is
// best effort: slow or gone subscribers never block the run loop.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all events. Console mode and tests run without a fan-out
// layer.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}

// Multi forwards every event to each of the given broadcasters in order.
func Multi(bs ...Broadcaster) Broadcaster {
	return multi(bs)
}

type multi []Broadcaster

func (m multi) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range m {
		b.BroadcastEvent(ctx, eventType, payload)
	}
}
