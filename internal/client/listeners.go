package client

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Listener receives the connectivity result of every health probe.
type Listener func(connected bool)

// registry holds listeners keyed by registration id so that registering the
// same function twice yields two independent subscriptions.
type registry struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]Listener
}

func (r *registry) add(l Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = l
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *registry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		out = append(out, l)
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

func (r *registry) clear() {
	r.mu.Lock()
	clear(r.listeners)
	r.mu.Unlock()
}

// notify calls every listener outside the lock. A panicking listener is
// logged and skipped.
func (r *registry) notify(connected bool, logger zerolog.Logger) {
	for _, l := range r.snapshot() {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error().Str("panic", fmt.Sprint(p)).Msg("connection listener panicked")
				}
			}()
			l(connected)
		}()
	}
}

// OnConnectionChange registers l for every health probe result and returns a
// function that removes exactly this registration. Calling it more than once
// is harmless.
func (c *Client) OnConnectionChange(l Listener) (unsubscribe func()) {
	return c.listeners.add(l)
}
