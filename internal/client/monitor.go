package client

import (
	"context"
	"errors"
	"time"

	"github.com/TimurManjosov/querygate/internal/health"
)

// State is the last observed connectivity.
type State struct {
	Connected bool
	LastError string
	CheckedAt time.Time
}

// State returns the result of the most recent probe.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Start probes once immediately and then every poll interval until Close.
// Calls after the first, or after Close, do nothing.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		if c.ctx.Err() != nil {
			return
		}
		c.started = true
		go c.poll()
	})
}

func (c *Client) poll() {
	defer close(c.done)

	c.check(c.ctx, true)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.check(c.ctx, true)
		}
	}
}

// CheckNow runs one health probe, records the result and notifies every
// listener, whether or not connectivity changed. It reports the new state.
func (c *Client) CheckNow(ctx context.Context) bool {
	return c.check(ctx, false)
}

func (c *Client) check(ctx context.Context, onPoller bool) bool {
	st, err := c.Health(ctx)
	if err != nil && c.ctx.Err() != nil {
		// closed while probing; listeners are gone
		return false
	}

	next := State{CheckedAt: time.Now()}
	switch {
	case err != nil:
		next.LastError = err.Error()
	case st.Database == health.DatabaseConnected:
		next.Connected = true
	default:
		next.LastError = st.Error
		if next.LastError == "" {
			next.LastError = "database " + st.Database
		}
	}

	c.stateMu.Lock()
	c.state = next
	c.stateMu.Unlock()

	if !next.Connected {
		c.logger.Warn().Str("error", next.LastError).Msg("server reports database unreachable")
	}
	if onPoller {
		c.dispatching.Store(true)
		defer c.dispatching.Store(false)
	}
	c.listeners.notify(next.Connected, c.logger)
	return next.Connected
}

// Close stops polling, waits for an in-flight probe to finish and drops all
// listeners. It is safe to call more than once, including from a listener;
// while the poller is running listeners Close does not wait for it, and the
// poller exits as soon as they return.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.startOnce.Do(func() {}) // a later Start must not launch the poller
	if c.started && !c.dispatching.Load() {
		<-c.done
	}
	c.listeners.clear()
	return nil
}

// ErrClosed is returned by WaitConnected after Close.
var ErrClosed = errors.New("client closed")

// WaitConnected blocks until a probe reports the database connected, ctx ends
// or the client is closed.
func (c *Client) WaitConnected(ctx context.Context) error {
	ch := make(chan struct{}, 1)
	unsubscribe := c.OnConnectionChange(func(connected bool) {
		if connected {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if c.State().Connected {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}
