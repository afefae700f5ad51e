package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/UnicycleUnicorn/MessagingPlatform/pkg/log"
)

// keepaliveLoop sends periodic heartbeats and reconnects with exponential
// backoff when the server stops acknowledging
func (c *Client) keepaliveLoop(ctx context.Context) {
	ticker := c.clock.Ticker(c.interval)
	defer ticker.Stop()

	backoff := minReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := c.handler.Heartbeat(c.server); err != nil {
				log.Warn("Heartbeat failed", zap.Stringer("server", c.server), zap.Error(err))
			}

		case <-c.lost:
			if c.recovered.Swap(false) {
				backoff = minReconnectBackoff
			}

			log.Warn("Connection lost, reconnecting", zap.Stringer("server", c.server), zap.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(backoff):
			}

			if _, err := c.handler.Connect(c.server, c.hello); err != nil {
				log.Warn("Reconnection failed", zap.Stringer("server", c.server), zap.Error(err))
			}

			// Exponential backoff
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
		}
	}
}
