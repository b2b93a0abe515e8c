package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/models"
)

// defaultRequestTimeout bounds each HTTP request when none is configured.
const defaultRequestTimeout = 10 * time.Second

// HTTPConfig configures the JSON ingestion uploader.
type HTTPConfig struct {
	URL      string
	Database string
	Table    string
	Gzip     bool
	Timeout  time.Duration
}

// HTTPUploader posts one JSON record per request to the ingestion endpoint
// using a bearer token from a TokenSource.
type HTTPUploader struct {
	client   *http.Client
	endpoint string
	gzip     bool
	tokens   *TokenSource
	logger   *zap.Logger
}

// NewHTTPClient returns the client shared by the uploader and its token source.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// NewHTTPUploader creates an uploader for cfg.
func NewHTTPUploader(cfg HTTPConfig, client *http.Client, tokens *TokenSource, logger *zap.Logger) (*HTTPUploader, error) {
	endpoint, err := IngestEndpoint(cfg.URL, cfg.Database, cfg.Table)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if client == nil {
		client = NewHTTPClient(cfg.Timeout)
	}
	return &HTTPUploader{
		client:   client,
		endpoint: endpoint,
		gzip:     cfg.Gzip,
		tokens:   tokens,
		logger:   logger.Named("http"),
	}, nil
}

// IngestEndpoint builds the streaming ingestion URL for a database and table.
func IngestEndpoint(base, database, table string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("ingest url is required")
	}
	if database == "" || table == "" {
		return "", fmt.Errorf("ingest database and table are required")
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing ingest url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("ingest url must be absolute (got %q)", base)
	}
	u = u.JoinPath("v1", "rest", "ingest", database, table)
	q := u.Query()
	q.Set("streamFormat", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Authenticate implements Uploader.
func (u *HTTPUploader) Authenticate(ctx context.Context) (Token, error) {
	return u.tokens.Token(ctx)
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, token Token, m models.Measurement) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	body := data
	if u.gzip {
		var compressed bytes.Buffer
		gz := gzip.NewWriter(&compressed)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("compress record: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalize gzip compression: %w", err)
		}
		body = compressed.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		u.tokens.Invalidate()
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
