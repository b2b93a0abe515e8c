// ICMP echo source built on pro-bing.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/models"
)

const (
	defaultPingCount    = 1
	defaultPingInterval = 1 * time.Second
	defaultPingTimeout  = 2 * time.Second
	defaultPingSize     = 56 // 64 bytes - 8 byte ICMP header
)

var errSetup = errors.New("failed to create pinger")

// PingConfig controls how each probe is issued.
type PingConfig struct {
	Count      int
	Interval   time.Duration
	Timeout    time.Duration
	Privileged bool
}

// PingSource measures round-trip time with ICMP echo requests.
type PingSource struct {
	cfg    PingConfig
	source string
	clock  clockwork.Clock
	logger *zap.Logger

	// run issues the echo requests; replaced in tests.
	run func(ctx context.Context, target string) (*probing.Statistics, error)
}

// NewPingSource creates an ICMP source that stamps records with source.
func NewPingSource(cfg PingConfig, source string, clock clockwork.Clock, logger *zap.Logger) (*PingSource, error) {
	if source == "" {
		return nil, fmt.Errorf("source identity is required")
	}
	if cfg.Count <= 0 {
		cfg.Count = defaultPingCount
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPingInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPingTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &PingSource{
		cfg:    cfg,
		source: source,
		clock:  clock,
		logger: logger.Named("ping"),
	}
	s.run = s.ping
	return s, nil
}

// Name returns the source identifier.
func (s *PingSource) Name() string { return "icmp" }

// Measure implements Source.
func (s *PingSource) Measure(ctx context.Context, target string) (models.Measurement, error) {
	issued := s.clock.Now()

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	stats, err := s.run(probeCtx, target)
	if ctx.Err() != nil {
		return models.Measurement{}, ctx.Err()
	}
	if errors.Is(err, errSetup) {
		return models.Measurement{}, fmt.Errorf("ping %s: %w", target, err)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		// Send failures such as an unreachable network are observations.
		s.logger.Debug("Echo request failed", zap.String("target", target), zap.Error(err))
		return models.NewTimeout(issued, target, s.source), nil
	}

	if statsNotReady(stats) || stats.PacketsRecv == 0 {
		return models.NewTimeout(issued, target, s.source), nil
	}
	return models.NewResponseTime(issued, target, s.source, stats.AvgRtt), nil
}

func (s *PingSource) ping(ctx context.Context, target string) (*probing.Statistics, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSetup, err)
	}
	defer pinger.Stop()

	pinger.SetPrivileged(s.cfg.Privileged)
	pinger.Count = s.cfg.Count
	pinger.Interval = s.cfg.Interval
	pinger.Timeout = s.cfg.Timeout
	pinger.Size = defaultPingSize

	if err := pinger.RunWithContext(ctx); err != nil {
		return pinger.Statistics(), err
	}
	return pinger.Statistics(), nil
}

// statsNotReady reports stats that still look like the initial defaults.
func statsNotReady(stats *probing.Statistics) bool {
	if stats == nil {
		return true
	}
	return stats.PacketsSent == 0 || (stats.PacketsRecv > 0 && stats.AvgRtt == 0)
}
