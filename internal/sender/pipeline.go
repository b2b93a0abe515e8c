package sender

import (
	"context"

	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/metrics"
	"github.com/Guliveer/pingtel/internal/models"
)

// Result is the outcome of a delivery.
type Result string

const (
	// Delivered means the first attempt succeeded.
	Delivered Result = "delivered"

	// Buffered means the record was stored for the drainer.
	Buffered Result = "buffered"

	// Dropped means the record could neither be sent nor stored.
	Dropped Result = "dropped"
)

// Store accepts records that could not be delivered.
type Store interface {
	Append(m models.Measurement) (models.Measurement, error)
}

// Pipeline makes one synchronous delivery attempt per record and hands
// failures to the store. Retrying is left to the drainer so a prober's
// cadence is never held up by an outage.
type Pipeline struct {
	uploader Uploader
	store    Store
	logger   *zap.Logger
}

// NewPipeline creates a delivery pipeline.
func NewPipeline(uploader Uploader, store Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		uploader: uploader,
		store:    store,
		logger:   logger.Named("delivery"),
	}
}

// Deliver sends m once and buffers it on any failure. It never returns an
// error; the result tells the caller what happened.
func (p *Pipeline) Deliver(ctx context.Context, m models.Measurement) Result {
	err := Attempt(ctx, p.uploader, m)
	if err == nil {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryResultDelivered).Inc()
		return Delivered
	}

	stamped, storeErr := p.store.Append(m)
	if storeErr != nil {
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryResultDropped).Inc()
		p.logger.Error("Failed to buffer undelivered record",
			zap.String("target", m.Target),
			zap.NamedError("delivery_error", err),
			zap.Error(storeErr))
		return Dropped
	}

	metrics.DeliveriesTotal.WithLabelValues(metrics.DeliveryResultBuffered).Inc()
	p.logger.Warn("Delivery failed, record buffered",
		zap.String("target", m.Target),
		zap.String("failure_id", stamped.FailureSessionID()),
		zap.Error(err))
	return Buffered
}

// Send makes one attempt without buffering. The drainer uses it for records
// that are already in the buffer.
func (p *Pipeline) Send(ctx context.Context, m models.Measurement) error {
	return Attempt(ctx, p.uploader, m)
}
