package client

import (
	"fmt"
	"time"

	"github.com/omochice/bullscows-client/internal/metrics"
)

// keepAlive sends the heartbeat right away and then on every tick until the
// session ends. The server never answers it.
func (c *Client) keepAlive(s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if s.ctx.Err() != nil {
			return
		}
		if err := s.conn.WriteLine(c.cfg.HeartbeatPayload); err != nil {
			if s.ctx.Err() == nil {
				c.fail(s, metrics.SourceKeepAlive, fmt.Errorf("heartbeat: %w", err))
			}
			return
		}
		c.metrics.HeartbeatSent()
		c.logger.Debug("heartbeat sent", "conn_id", s.conn.id)

		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
