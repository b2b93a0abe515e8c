package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/buffer"
	"github.com/Guliveer/pingtel/internal/collector"
	"github.com/Guliveer/pingtel/internal/config"
	"github.com/Guliveer/pingtel/internal/metrics"
	"github.com/Guliveer/pingtel/internal/scheduler"
	"github.com/Guliveer/pingtel/internal/sender"
)

// runAgent wires the components together and probes until ctx is cancelled.
// Errors are returned only for startup failures; a run that was started
// always ends with a nil error after the final drain.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics.BuildInfo.WithLabelValues(version).Set(1)
	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, logger)
	}

	buf, err := buffer.New(cfg.Buffer.Path, cfg.Buffer.MaxRecords, logger)
	if err != nil {
		if errors.Is(err, buffer.ErrLocked) {
			return fmt.Errorf("another agent is already running on this buffer: %w", err)
		}
		return fmt.Errorf("opening buffer: %w", err)
	}
	defer buf.Close()

	uploader, closeUploader, err := buildUploader(cfg, logger)
	if err != nil {
		return err
	}
	defer closeUploader()

	if cfg.Startup.CheckIngest {
		if err := sender.CheckReachable(ctx, uploader, cfg.Startup.CheckTimeout.Duration, logger); err != nil {
			return fmt.Errorf("ingestion service unreachable: %w", err)
		}
	}

	if n := buf.Count(); n > 0 {
		logger.Info("Found records from a previous run",
			zap.Int("records", n),
			zap.String("session", buf.Session()))
	}

	pipeline := sender.NewPipeline(uploader, buf, logger)

	src, err := collector.NewPingSource(collector.PingConfig{
		Count:      cfg.Probe.Count,
		Timeout:    cfg.Probe.Timeout.Duration,
		Privileged: cfg.Probe.Privileged,
	}, cfg.Source, nil, logger)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Targets:       cfg.Targets,
		Cadence:       cfg.Probe.Interval.Duration,
		RetryInterval: cfg.Buffer.RetryInterval.Duration,
	}, src, pipeline, buf, pipeline.Send, logger)
	if err != nil {
		return err
	}

	summary := sched.Start(ctx)
	if summary.Remaining > 0 {
		logger.Warn("Exiting with buffered records",
			zap.Int("remaining", summary.Remaining),
			zap.String("buffer", buf.Path()))
	}
	return nil
}

// buildUploader returns the uploader for the configured ingestion backend
// and a function releasing its resources.
func buildUploader(cfg *config.Config, logger *zap.Logger) (sender.Uploader, func(), error) {
	switch cfg.Ingest.Kind {
	case config.IngestKindInflux:
		u, err := sender.NewInfluxUploader(sender.InfluxConfig{
			URL:         cfg.Ingest.URL,
			Token:       cfg.Auth.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Ingest.Table,
			Timeout:     cfg.Ingest.Timeout.Duration,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return u, u.Close, nil

	case config.IngestKindHTTP:
		client := sender.NewHTTPClient(cfg.Ingest.Timeout.Duration)
		tokens, err := sender.NewTokenSource(sender.TokenSourceConfig{
			TokenURL:     cfg.Auth.TokenURL,
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Scope:        cfg.Auth.Scope,
			Cache:        cfg.Auth.CacheTokens,
		}, client, logger)
		if err != nil {
			return nil, nil, err
		}
		u, err := sender.NewHTTPUploader(sender.HTTPConfig{
			URL:      cfg.Ingest.URL,
			Database: cfg.Ingest.Database,
			Table:    cfg.Ingest.Table,
			Gzip:     cfg.Ingest.Gzip,
			Timeout:  cfg.Ingest.Timeout.Duration,
		}, client, tokens, logger)
		if err != nil {
			return nil, nil, err
		}
		return u, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown ingest kind %q", cfg.Ingest.Kind)
	}
}

// errAgentRunning is returned by drain when a running agent owns the buffer.
var errAgentRunning = errors.New("agent is running")

// drainBuffer runs a single drain pass over the buffer. It refuses to touch a
// buffer owned by a running agent; that agent drains it itself.
func drainBuffer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (delivered, remaining int, err error) {
	buf, err := buffer.New(cfg.Buffer.Path, cfg.Buffer.MaxRecords, logger)
	if err != nil {
		if errors.Is(err, buffer.ErrLocked) {
			return 0, 0, fmt.Errorf("%w: stop it before draining %s by hand (%w)", errAgentRunning, cfg.Buffer.Path, err)
		}
		return 0, 0, fmt.Errorf("opening buffer: %w", err)
	}
	defer buf.Close()

	uploader, closeUploader, err := buildUploader(cfg, logger)
	if err != nil {
		return 0, 0, err
	}
	defer closeUploader()

	if buf.Count() == 0 {
		return 0, 0, nil
	}

	pipeline := sender.NewPipeline(uploader, buf, logger)
	return buf.DrainOnce(ctx, pipeline.Send)
}

// bufferState describes the buffer as shown by the status command.
type bufferState struct {
	Path    string
	Records int
	Session string
}

// bufferStatus reads the buffer file without locking or rewriting it, so it
// can be used while an agent is running.
func bufferStatus(cfg *config.Config) (bufferState, error) {
	st, err := buffer.Inspect(cfg.Buffer.Path)
	if err != nil {
		return bufferState{}, fmt.Errorf("reading buffer: %w", err)
	}
	return bufferState{
		Path:    st.Path,
		Records: st.Records,
		Session: st.Session,
	}, nil
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting metrics server", zap.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
