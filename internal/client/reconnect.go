package client

import "context"

// ReconnectPolicy decides whether to reconnect after the connection was
// lost. It is asked once per failure and may block until the user answers;
// ctx is cancelled when the client shuts down.
type ReconnectPolicy interface {
	ShouldReconnect(ctx context.Context, cause error) bool
}

// ReconnectFunc adapts a function to ReconnectPolicy.
type ReconnectFunc func(ctx context.Context, cause error) bool

// ShouldReconnect calls f.
func (f ReconnectFunc) ShouldReconnect(ctx context.Context, cause error) bool {
	return f(ctx, cause)
}

// NeverReconnect ends the session on the first failure.
var NeverReconnect ReconnectPolicy = ReconnectFunc(func(context.Context, error) bool { return false })

// AlwaysReconnect retries until the client is closed.
var AlwaysReconnect ReconnectPolicy = ReconnectFunc(func(ctx context.Context, _ error) bool { return ctx.Err() == nil })

// coordinate runs once per failed session, after both of its loops have
// stopped. A failed reconnect asks the policy again.
func (c *Client) coordinate(old *session, cause error) {
	old.wg.Wait()

	for {
		if c.isClosed() {
			return
		}

		c.metrics.ReconnectPrompted()
		if !c.policy.ShouldReconnect(c.ctx, cause) {
			c.logger.Info("reconnect declined", "err", cause)
			c.shutdown(joinAbandoned(cause))
			return
		}
		if c.isClosed() {
			return
		}

		prev := c.machine.State()
		c.machine.Reset()
		c.publish(prev, c.machine.State(), noticeEffect("Reconnecting..."))

		conn, err := c.manager.Reconnect(c.ctx, c.cfg.Address)
		if err != nil {
			c.publish(c.machine.State(), c.machine.State(), noticeEffect("Unable to reconnect to the server."))
			cause = err
			continue
		}
		c.begin(conn)
		return
	}
}
