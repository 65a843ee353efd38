package tier

import (
	"context"

	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"go.uber.org/zap"
)

// Submit hands a finished packet to the ingestion worker, blocking while
// the inbound queue is full.
func (c *Coordinator) Submit(ctx context.Context, p packet.Packet) error {
	select {
	case c.queue <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the ingestion worker. It persists queued packets strictly in
// arrival order until ctx is cancelled. Packets still queued at that point
// are drained before returning, so a clean shutdown loses nothing that
// Submit accepted.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("ingestion worker started", zap.Int("queue_capacity", cap(c.queue)))
	for {
		select {
		case p := <-c.queue:
			c.ingestQueued(ctx, p)
		case <-ctx.Done():
			for {
				select {
				case p := <-c.queue:
					c.ingestQueued(ctx, p)
				default:
					c.logger.Info("ingestion worker stopped")
					return nil
				}
			}
		}
	}
}

func (c *Coordinator) ingestQueued(ctx context.Context, p packet.Packet) {
	if err := c.Ingest(ctx, p); err != nil {
		c.logger.Warn("packet not fully persisted", zap.String("kind", string(p.Kind())), zap.Error(err))
	}
}
