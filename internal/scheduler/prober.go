package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/collector"
	"github.com/Guliveer/pingtel/internal/metrics"
	"github.com/Guliveer/pingtel/internal/models"
	"github.com/Guliveer/pingtel/internal/sender"
)

// Deliverer hands one measurement to the delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, m models.Measurement) sender.Result
}

// Prober measures one target on a fixed cadence until cancelled.
type Prober struct {
	target   string
	source   collector.Source
	delivery Deliverer
	cadence  time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

// NewProber creates a prober for target.
func NewProber(target string, source collector.Source, delivery Deliverer, cadence time.Duration, clock clockwork.Clock, logger *zap.Logger) *Prober {
	return &Prober{
		target:   target,
		source:   source,
		delivery: delivery,
		cadence:  cadence,
		clock:    clock,
		logger:   logger.With(zap.String("target", target)),
	}
}

// Run probes, delivers and sleeps in a loop. It returns once ctx is
// cancelled; a delivery already in progress is allowed to finish.
func (p *Prober) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.cadence):
		}
	}
}

// cycle performs one probe and one delivery.
func (p *Prober) cycle(ctx context.Context) {
	m, err := p.source.Measure(ctx, p.target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ProbeErrorsTotal.WithLabelValues(p.target).Inc()
		p.logger.Error("Probe failed", zap.String("source", p.source.Name()), zap.Error(err))
		return
	}

	metrics.ProbesTotal.WithLabelValues(p.target, string(m.Kind)).Inc()
	switch m.Kind {
	case models.KindTimeout:
		p.logger.Warn("Request timed out")
	default:
		p.logger.Info("Reply received", zap.Float64("rtt_ms", m.Value))
	}

	// Uploads are not interrupted by shutdown.
	res := p.delivery.Deliver(context.WithoutCancel(ctx), m)
	p.logger.Debug("Measurement handled", zap.String("result", string(res)))
}
