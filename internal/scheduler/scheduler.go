// Package scheduler runs one prober per target plus the buffer drainer and
// coordinates shutdown. Probers never touch the buffer directly; they go
// through the delivery pipeline, and only the drainer removes records.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/buffer"
	"github.com/Guliveer/pingtel/internal/collector"
)

// defaultFinalDrainTimeout bounds the drain pass run during shutdown.
const defaultFinalDrainTimeout = 30 * time.Second

// State is the lifecycle state of the scheduler.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config holds the scheduling parameters.
type Config struct {
	Targets           []string
	Cadence           time.Duration
	RetryInterval     time.Duration
	FinalDrainTimeout time.Duration
	Clock             clockwork.Clock
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	if c.Cadence <= 0 {
		return fmt.Errorf("probe cadence must be greater than 0")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be greater than 0")
	}
	return nil
}

// Summary describes the outcome of a run.
type Summary struct {
	// FinalDelivered is the number of records delivered by the shutdown drain.
	FinalDelivered int

	// Remaining is the number of records left in the buffer after shutdown.
	Remaining int
}

// Scheduler owns the probers and the drainer.
type Scheduler struct {
	cfg      Config
	source   collector.Source
	delivery Deliverer
	queue    Queue
	send     buffer.SendFunc
	logger   *zap.Logger

	state atomic.Int32
	wg    sync.WaitGroup
}

// New creates a scheduler. send is the single-attempt upload used for
// buffered records.
func New(cfg Config, source collector.Source, delivery Deliverer, queue Queue, send buffer.SendFunc, logger *zap.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FinalDrainTimeout <= 0 {
		cfg.FinalDrainTimeout = defaultFinalDrainTimeout
	}
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		delivery: delivery,
		queue:    queue,
		send:     send,
		logger:   logger,
	}, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start runs the probers and the drainer. It blocks until ctx is cancelled,
// then drains the buffer one last time, waits for in-flight probes to finish
// and returns.
func (s *Scheduler) Start(ctx context.Context) Summary {
	s.state.Store(int32(StateRunning))

	drainerCtx, stopDrainer := context.WithCancel(ctx)
	defer stopDrainer()
	drainer := NewDrainer(s.queue, s.send, s.cfg.RetryInterval, s.cfg.Clock, s.logger)
	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		drainer.Run(drainerCtx)
	}()

	for _, target := range s.cfg.Targets {
		p := NewProber(target, s.source, s.delivery, s.cfg.Cadence, s.cfg.Clock, s.logger.Named("prober"))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			p.Run(ctx)
		}()
	}

	s.logger.Info("Probers running",
		zap.Int("targets", len(s.cfg.Targets)),
		zap.Duration("cadence", s.cfg.Cadence),
		zap.Duration("retry_interval", s.cfg.RetryInterval))

	<-ctx.Done()
	return s.shutdown(drainerDone)
}

// shutdown runs the Draining phase.
func (s *Scheduler) shutdown(drainerDone <-chan struct{}) Summary {
	s.state.Store(int32(StateDraining))
	s.logger.Info("Shutting down, running final drain")

	<-drainerDone

	// The parent context is already cancelled.
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FinalDrainTimeout)
	defer cancel()

	var summary Summary
	if s.queue.Count() > 0 {
		delivered, remaining, err := s.queue.DrainOnce(drainCtx, s.send)
		if err != nil {
			s.logger.Error("Final drain failed", zap.Error(err))
		}
		summary.FinalDelivered = delivered
		if delivered > 0 {
			s.logger.Info("Delivered buffered records", zap.Int("delivered", delivered))
		}
		if remaining > 0 {
			s.logger.Warn("Records remain buffered for the next run", zap.Int("remaining", remaining))
		}
	}

	s.wg.Wait()

	summary.Remaining = s.queue.Count()
	s.state.Store(int32(StateTerminated))
	s.logger.Info("Scheduler stopped", zap.Int("buffered", summary.Remaining))
	return summary
}
