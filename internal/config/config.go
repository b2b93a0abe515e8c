// Package config handles configuration loading from YAML files, .env files
// and environment variables.
// Configuration precedence: CLI flags > environment > .env file > config file
// > embedded config > defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Guliveer/pingtel/internal/models"
)

// Ingestion backends.
const (
	IngestKindHTTP   = "http"
	IngestKindInflux = "influxdb"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Source  string        `yaml:"source"`
	Targets []string      `yaml:"targets"`
	Debug   bool          `yaml:"debug"`
	Probe   ProbeConfig   `yaml:"probe"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Auth    AuthConfig    `yaml:"auth"`
	Influx  InfluxConfig  `yaml:"influx"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Startup StartupConfig `yaml:"startup"`
}

// ProbeConfig holds probe cadence and bounds.
type ProbeConfig struct {
	Interval   Duration `yaml:"interval"`
	Count      int      `yaml:"count"`
	Timeout    Duration `yaml:"timeout"`
	Privileged bool     `yaml:"privileged"`
}

// IngestConfig holds the ingestion endpoint settings.
type IngestConfig struct {
	Kind     string   `yaml:"kind"`
	URL      string   `yaml:"url"`
	Database string   `yaml:"database"`
	Table    string   `yaml:"table"`
	Timeout  Duration `yaml:"timeout"`
	Gzip     bool     `yaml:"gzip"`
}

// AuthConfig holds credentials for the ingestion service.
type AuthConfig struct {
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
	CacheTokens  bool   `yaml:"cache_tokens"`
	Token        string `yaml:"token"`
}

// InfluxConfig holds InfluxDB v2 settings used when ingest.kind is influxdb.
type InfluxConfig struct {
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// BufferConfig holds durable buffer settings.
type BufferConfig struct {
	Path          string   `yaml:"path"`
	MaxRecords    int      `yaml:"max_records"`
	RetryInterval Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StartupConfig controls the ingestion reachability check at startup.
type StartupConfig struct {
	CheckIngest  bool     `yaml:"check_ingest"`
	CheckTimeout Duration `yaml:"check_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Probe: ProbeConfig{
			Interval: Duration{5 * time.Second},
			Count:    1,
			Timeout:  Duration{2 * time.Second},
		},
		Ingest: IngestConfig{
			Kind:    IngestKindHTTP,
			Table:   "Ping",
			Timeout: Duration{10 * time.Second},
		},
		Buffer: BufferConfig{
			Path:          "./pingtel-buffer.ndjson",
			MaxRecords:    10000,
			RetryInterval: Duration{60 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Startup: StartupConfig{
			CheckIngest:  true,
			CheckTimeout: Duration{30 * time.Second},
		},
	}
}

// CLIOverrides holds values from command-line flags.
// Empty values are treated as "not set" and skipped.
type CLIOverrides struct {
	Targets    []string
	Source     string
	BufferPath string
	Debug      bool

	// DotEnv is the .env file to read; "" means ./.env when present.
	DotEnv string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with
// defaults and the process environment.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config data: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > .env file > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
		}
	}

	dotenv, err := readDotEnv(cli.DotEnv)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if len(cli.Targets) > 0 {
		cfg.Targets = cli.Targets
	}
	if cli.Source != "" {
		cfg.Source = cli.Source
	}
	if cli.BufferPath != "" {
		cfg.Buffer.Path = cli.BufferPath
	}
	if cli.Debug {
		cfg.Debug = true
	}
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// readDotEnv reads key/value pairs without touching the process environment.
func readDotEnv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return values, nil
}

// applyEnvOverrides applies PINGTEL_* variables found through lookup.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PINGTEL_SOURCE":          &cfg.Source,
		"PINGTEL_INGEST_KIND":     &cfg.Ingest.Kind,
		"PINGTEL_INGEST_URL":      &cfg.Ingest.URL,
		"PINGTEL_INGEST_DATABASE": &cfg.Ingest.Database,
		"PINGTEL_INGEST_TABLE":    &cfg.Ingest.Table,
		"PINGTEL_AUTH_TOKEN_URL":  &cfg.Auth.TokenURL,
		"PINGTEL_CLIENT_ID":       &cfg.Auth.ClientID,
		"PINGTEL_CLIENT_SECRET":   &cfg.Auth.ClientSecret,
		"PINGTEL_AUTH_SCOPE":      &cfg.Auth.Scope,
		"PINGTEL_AUTH_TOKEN":      &cfg.Auth.Token,
		"PINGTEL_INFLUX_ORG":      &cfg.Influx.Org,
		"PINGTEL_INFLUX_BUCKET":   &cfg.Influx.Bucket,
		"PINGTEL_BUFFER_PATH":     &cfg.Buffer.Path,
		"PINGTEL_LOG_LEVEL":       &cfg.Logging.Level,
		"PINGTEL_METRICS_ADDR":    &cfg.Metrics.ListenAddr,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PINGTEL_TARGETS"); ok && v != "" {
		cfg.Targets = splitList(v)
	}
	if v, ok := lookup("PINGTEL_MAX_BUFFER_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PINGTEL_MAX_BUFFER_SIZE: %w", err)
		}
		cfg.Buffer.MaxRecords = n
	}
	if v, ok := lookup("PINGTEL_DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PINGTEL_DEBUG: %w", err)
		}
		cfg.Debug = b
	}

	durations := map[string]*Duration{
		"PINGTEL_PROBE_INTERVAL": &cfg.Probe.Interval,
		"PINGTEL_PROBE_TIMEOUT":  &cfg.Probe.Timeout,
		"PINGTEL_RETRY_INTERVAL": &cfg.Buffer.RetryInterval,
	}
	for key, dst := range durations {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			dst.Duration = d
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is complete for a probing run.
// Every problem is reported, not only the first one. Targets are normalized
// in place.
func (c *Config) Validate() error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%s is required", field))
	}

	if strings.TrimSpace(c.Source) == "" {
		missing("source")
	}
	targets, err := models.ValidateTargets(c.Targets)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Targets = targets
	}

	if c.Probe.Interval.Duration <= 0 {
		errs = append(errs, errors.New("probe.interval must be greater than 0"))
	}
	if c.Probe.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("probe.timeout must be greater than 0"))
	}
	if c.Probe.Count <= 0 {
		errs = append(errs, errors.New("probe.count must be greater than 0"))
	}

	errs = append(errs, c.deliveryErrors()...)
	return joinInvalid(errs)
}

// ValidateDelivery checks only the settings needed to upload buffered
// records, for commands that do not probe.
func (c *Config) ValidateDelivery() error {
	return joinInvalid(c.deliveryErrors())
}

func (c *Config) deliveryErrors() []error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("%s is required", field))
	}

	if c.Ingest.URL == "" {
		missing("ingest.url")
	} else if err := checkScheme(c.Ingest.URL); err != nil {
		errs = append(errs, err)
	}
	switch c.Ingest.Kind {
	case IngestKindHTTP:
		if c.Ingest.Database == "" {
			missing("ingest.database")
		}
		if c.Ingest.Table == "" {
			missing("ingest.table")
		}
		if c.Auth.TokenURL == "" {
			missing("auth.token_url")
		}
		if c.Auth.ClientID == "" {
			missing("auth.client_id")
		}
		if c.Auth.ClientSecret == "" {
			missing("auth.client_secret")
		}
	case IngestKindInflux:
		if c.Auth.Token == "" {
			missing("auth.token")
		}
		if c.Influx.Org == "" {
			missing("influx.org")
		}
		if c.Influx.Bucket == "" {
			missing("influx.bucket")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ingest.kind %q", c.Ingest.Kind))
	}

	if c.Buffer.Path == "" {
		missing("buffer.path")
	}
	if c.Buffer.MaxRecords <= 0 {
		errs = append(errs, errors.New("buffer.max_records must be greater than 0"))
	}
	if c.Buffer.RetryInterval.Duration <= 0 {
		errs = append(errs, errors.New("buffer.retry_interval must be greater than 0"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}

	return errs
}

func joinInvalid(errs []error) error {
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// checkScheme requires HTTPS except for local development endpoints.
func checkScheme(url string) error {
	if strings.HasPrefix(url, "https://") {
		return nil
	}
	if strings.Contains(url, "localhost") || strings.Contains(url, "127.0.0.1") {
		return nil
	}
	return fmt.Errorf("ingest.url must use HTTPS (got: %s)", url)
}
