package realtime

import (
	"context"
	"log/slog"
	"time"
)

type State string

const (
	StateInitialized  State = "initialized"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// failedAfter is the number of consecutive failed pings after which a
// disconnected transport is reported as failed.
const failedAfter = 3

func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(next State, err error) {
	c.stateMu.Lock()
	prev := c.state
	c.state = next
	c.stateMu.Unlock()

	if prev == next {
		return
	}

	switch next {
	case StateConnected:
		slog.Info("[REALTIME] Connected", "previous", prev)
	case StateDisconnected:
		slog.Warn("[REALTIME] Disconnected", "previous", prev, "error", err)
	case StateFailed:
		slog.Error("[REALTIME] Connection failed", "previous", prev, "error", err)
	}
}

// Monitor pings the transport every interval until ctx is done and records
// connection state transitions. It only observes; reconnection is left to the
// transport.
func (c *Client) Monitor(ctx context.Context, interval time.Duration) {
	if c.transport == nil {
		return
	}

	failures := 0
	check := func() {
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		if err := c.transport.Ping(pingCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= failedAfter {
				c.setState(StateFailed, err)
			} else {
				c.setState(StateDisconnected, err)
			}
			return
		}
		failures = 0
		c.setState(StateConnected, nil)
	}

	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
