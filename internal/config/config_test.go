package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const embeddedHTTP = `
source: embedded-host
targets: ["8.8.8.8"]
ingest:
  url: "https://ingest.example.com"
  database: "telemetry"
auth:
  token_url: "https://login.example.com/token"
  client_id: "embedded_id"
  client_secret: "embedded_secret"
`

// noDotEnv points LoadLayered at an empty .env so tests ignore the working directory.
func noDotEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	return path
}

func TestLoadLayered_CLIOverridesEverything(t *testing.T) {
	t.Setenv("PINGTEL_SOURCE", "env-host")
	t.Setenv("PINGTEL_TARGETS", "9.9.9.9")
	cli := CLIOverrides{
		Targets:    []string{"1.1.1.1", "1.0.0.1"},
		Source:     "cli-host",
		BufferPath: "/tmp/cli.ndjson",
		Debug:      true,
		DotEnv:     noDotEnv(t),
	}

	cfg, err := LoadLayered(cli, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	require.Equal(t, "cli-host", cfg.Source)
	require.Equal(t, []string{"1.1.1.1", "1.0.0.1"}, cfg.Targets)
	require.Equal(t, "/tmp/cli.ndjson", cfg.Buffer.Path)
	require.True(t, cfg.Debug)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadLayered_EnvOverridesEmbed(t *testing.T) {
	t.Setenv("PINGTEL_INGEST_URL", "https://env.example.com")
	t.Setenv("PINGTEL_PROBE_INTERVAL", "250ms")
	t.Setenv("PINGTEL_MAX_BUFFER_SIZE", "42")

	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com", cfg.Ingest.URL)
	require.Equal(t, "embedded_id", cfg.Auth.ClientID)
	require.Equal(t, 250*time.Millisecond, cfg.Probe.Interval.Duration)
	require.Equal(t, 42, cfg.Buffer.MaxRecords)
}

func TestLoadLayered_DotEnvBelowEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "creds.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PINGTEL_CLIENT_SECRET=from_dotenv\nPINGTEL_CLIENT_ID=dotenv_id\n"), 0600))
	t.Setenv("PINGTEL_CLIENT_ID", "env_id")

	cfg, err := LoadLayered(CLIOverrides{DotEnv: envFile}, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	require.Equal(t, "from_dotenv", cfg.Auth.ClientSecret)
	require.Equal(t, "env_id", cfg.Auth.ClientID)

	_, set := os.LookupEnv("PINGTEL_CLIENT_SECRET")
	require.False(t, set, ".env values must not leak into the process environment")
}

func TestLoadLayered_MissingExplicitDotEnv(t *testing.T) {
	_, err := LoadLayered(CLIOverrides{DotEnv: filepath.Join(t.TempDir(), "missing.env")}, nil, "")
	require.Error(t, err)
}

func TestLoadLayered_FileOverridesEmbed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pingtel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer:\n  max_records: 10\n  retry_interval: 5s\n"), 0600))

	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Buffer.MaxRecords)
	require.Equal(t, 5*time.Second, cfg.Buffer.RetryInterval.Duration)
	require.Equal(t, "embedded-host", cfg.Source)
}

func TestLoadLayered_DefaultsWhenEmpty(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, nil, "")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Probe.Interval.Duration)
	require.Equal(t, 60*time.Second, cfg.Buffer.RetryInterval.Duration)
	require.Equal(t, IngestKindHTTP, cfg.Ingest.Kind)
	require.False(t, cfg.Auth.CacheTokens)
}

func TestLoadLayered_BadEnvDuration(t *testing.T) {
	t.Setenv("PINGTEL_RETRY_INTERVAL", "soon")
	_, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, nil, "")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryMissingField(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidConfig))
	for _, field := range []string{"source", "ingest.url", "ingest.database", "auth.token_url", "auth.client_id", "auth.client_secret", "target"} {
		require.Contains(t, err.Error(), field)
	}
}

func TestValidate_InvalidTarget(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{Targets: []string{"8.8.8.8", "300.1.1.1"}, DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidate_RequiresHTTPS(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), "")
	require.NoError(t, err)

	cfg.Ingest.URL = "http://ingest.example.com"
	require.Error(t, cfg.Validate())

	cfg.Ingest.URL = "http://localhost:8080"
	require.NoError(t, cfg.Validate())
}

func TestValidate_Influx(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source = "host"
	cfg.Targets = []string{"1.1.1.1"}
	cfg.Ingest.Kind = IngestKindInflux
	cfg.Ingest.URL = "https://influx.example.com"
	require.Error(t, cfg.Validate())

	cfg.Auth.Token = "tok"
	cfg.Influx.Org = "org"
	cfg.Influx.Bucket = "bucket"
	require.NoError(t, cfg.Validate())
}

func TestWriteConfig_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Ingest.URL = "https://test.example.com"

	require.NoError(t, WriteConfig(cfg, path))

	back, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, nil, path)
	require.NoError(t, err)
	require.Equal(t, "https://test.example.com", back.Ingest.URL)
	require.Equal(t, cfg.Probe.Timeout, back.Probe.Timeout)
}

func TestValidateDelivery_IgnoresProbeSettings(t *testing.T) {
	cfg, err := LoadLayered(CLIOverrides{DotEnv: noDotEnv(t)}, []byte(embeddedHTTP), "")
	require.NoError(t, err)
	cfg.Source = ""
	cfg.Targets = nil

	require.NoError(t, cfg.ValidateDelivery())
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
