package sender

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/models"
)

// InfluxConfig configures the InfluxDB v2 uploader.
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

// InfluxUploader writes each record as one point through the blocking write
// API. The credential is the static API token; Authenticate only hands it
// back so the pipeline sees the same two-step contract as for HTTP.
type InfluxUploader struct {
	client      influxdb2.Client
	writeAPI    influxdb2api.WriteAPIBlocking
	token       string
	measurement string
	logger      *zap.Logger
}

// NewInfluxUploader creates an uploader for cfg.
func NewInfluxUploader(cfg InfluxConfig, logger *zap.Logger) (*InfluxUploader, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("influx token is required")
	}
	if cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx org and bucket are required")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = models.RecordType
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(timeout.Seconds())).
		SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxUploader{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		token:       cfg.Token,
		measurement: cfg.Measurement,
		logger:      logger.Named("influx"),
	}, nil
}

// Authenticate implements Uploader.
func (u *InfluxUploader) Authenticate(context.Context) (Token, error) {
	return Token{AccessToken: u.token}, nil
}

// Ping implements Pinger by calling the server's /ping endpoint.
func (u *InfluxUploader) Ping(ctx context.Context) error {
	ok, err := u.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

// Upload implements Uploader.
func (u *InfluxUploader) Upload(ctx context.Context, _ Token, m models.Measurement) error {
	if err := u.writeAPI.WritePoint(ctx, ToPoint(u.measurement, m)); err != nil {
		return fmt.Errorf("write point: %w", err)
	}
	return nil
}

// Close releases the client's resources.
func (u *InfluxUploader) Close() {
	u.client.Close()
}

// ToPoint maps a record onto an InfluxDB point.
func ToPoint(measurement string, m models.Measurement) *write.Point {
	tags := map[string]string{
		"dstIp":          m.Target,
		"source":         m.Source,
		"observableType": string(m.Kind),
	}
	if id := m.FailureSessionID(); id != "" {
		tags["failureId"] = id
	}
	fields := map[string]any{
		"observableValue": m.Value,
	}
	return influxdb2.NewPoint(measurement, tags, fields, m.Timestamp)
}
