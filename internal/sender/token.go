package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/metrics"
)

const (
	// expirySkew is subtracted from token lifetimes before caching.
	expirySkew = 60 * time.Second

	tokenCacheKey = "token"
)

// TokenSourceConfig configures an OAuth2 client-credentials token source.
type TokenSourceConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Cache        bool
	Clock        clockwork.Clock
}

// TokenSource fetches bearer tokens from an OAuth2 token endpoint. With
// caching enabled a token is reused until shortly before it expires;
// otherwise every call performs a fresh request.
type TokenSource struct {
	cfg    TokenSourceConfig
	client *http.Client
	logger *zap.Logger
	cache  *ttlcache.Cache[string, Token]
}

// NewTokenSource creates a token source using client for requests.
func NewTokenSource(cfg TokenSourceConfig, client *http.Client, logger *zap.Logger) (*TokenSource, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	ts := &TokenSource{
		cfg:    cfg,
		client: client,
		logger: logger.Named("auth"),
	}
	if cfg.Cache {
		ts.cache = ttlcache.New[string, Token](
			ttlcache.WithDisableTouchOnHit[string, Token](),
		)
	}
	return ts, nil
}

// Token returns a valid bearer token.
func (s *TokenSource) Token(ctx context.Context) (Token, error) {
	if s.cache != nil {
		if item := s.cache.Get(tokenCacheKey); item != nil {
			if tok := item.Value(); tok.Valid(s.cfg.Clock.Now()) {
				return tok, nil
			}
		}
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		metrics.AuthRequestsTotal.WithLabelValues("error").Inc()
		return Token{}, err
	}
	metrics.AuthRequestsTotal.WithLabelValues("ok").Inc()

	if s.cache != nil && !tok.Expiry.IsZero() {
		if ttl := tok.Expiry.Sub(s.cfg.Clock.Now()); ttl > 0 {
			s.cache.Set(tokenCacheKey, tok, ttl)
		}
	}
	return tok, nil
}

// Invalidate drops a cached token, for example after the service rejected it.
func (s *TokenSource) Invalidate() {
	if s.cache != nil {
		s.cache.Delete(tokenCacheKey)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *TokenSource) fetch(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	if s.cfg.Scope != "" {
		form.Set("scope", s.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("token response has no access_token")
	}

	tok := Token{AccessToken: tr.AccessToken}
	if tr.ExpiresIn > 0 {
		lifetime := time.Duration(tr.ExpiresIn) * time.Second
		if lifetime > expirySkew {
			lifetime -= expirySkew
		}
		tok.Expiry = s.cfg.Clock.Now().Add(lifetime)
	}
	s.logger.Debug("Obtained access token", zap.Time("expiry", tok.Expiry))
	return tok, nil
}
