package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/buffer"
	"github.com/Guliveer/pingtel/internal/metrics"
)

// Queue is the durable buffer as seen by the drainer.
type Queue interface {
	Count() int
	DrainOnce(ctx context.Context, send buffer.SendFunc) (delivered, remaining int, err error)
}

// Drainer retries buffered records on a fixed period.
type Drainer struct {
	queue    Queue
	send     buffer.SendFunc
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewDrainer creates a drainer that retries through send every interval.
func NewDrainer(queue Queue, send buffer.SendFunc, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Drainer {
	return &Drainer{
		queue:    queue,
		send:     send,
		interval: interval,
		clock:    clock,
		logger:   logger.Named("drainer"),
	}
}

// Run drains once immediately, to pick up records left by a previous run,
// and then every interval until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	d.Tick(ctx)

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			d.Tick(ctx)
		}
	}
}

// Tick runs one drain pass. It is a no-op when the buffer is empty.
func (d *Drainer) Tick(ctx context.Context) (delivered, remaining int) {
	if d.queue.Count() == 0 {
		return 0, 0
	}

	delivered, remaining, err := d.queue.DrainOnce(ctx, d.send)
	if err != nil {
		d.logger.Error("Drain pass failed", zap.Error(err))
		return delivered, remaining
	}
	metrics.DrainDeliveredTotal.Add(float64(delivered))

	if delivered > 0 {
		d.logger.Info("Delivered buffered records",
			zap.Int("delivered", delivered),
			zap.Int("remaining", remaining))
	} else {
		d.logger.Debug("No buffered records delivered", zap.Int("remaining", remaining))
	}
	return delivered, remaining
}
