package client

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/omochice/bullscows-client/internal/game"
	"github.com/omochice/bullscows-client/internal/metrics"
)

// readLoop turns the inbound stream into tokens. The read deadline is only
// a poll so cancellation is noticed; it is never treated as a failure.
func (c *Client) readLoop(s *session) {
	defer s.wg.Done()

	lines, framer := s.conn.handoff()
	for _, line := range lines {
		if !c.handle(s, line) {
			return
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		if s.ctx.Err() != nil {
			return
		}

		n, err := s.conn.read(buf, time.Now().Add(c.cfg.PollInterval))
		if n > 0 {
			c.logger.Debug("received", "conn_id", s.conn.id, "bytes", n)
			for _, line := range framer.Feed(buf[:n]) {
				if !c.handle(s, line) {
					return
				}
			}
		}
		if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if s.ctx.Err() != nil || s.conn.Closed() {
			return
		}

		if errors.Is(err, io.EOF) {
			if framer.Buffered() > 0 {
				c.logger.Debug("dropping unterminated data", "conn_id", s.conn.id, "bytes", framer.Buffered())
			}
			state := c.machine.State()
			c.publish(state, state, game.Effect{Notice: "Server closed the connection.", Opponent: game.Off})
			c.fail(s, metrics.SourceReader, ErrStreamClosed)
			return
		}
		c.fail(s, metrics.SourceReader, fmt.Errorf("read: %w", err))
		return
	}
}
