// Package sender delivers measurements to the ingestion service. It defines
// the Uploader capability (authenticate, then upload one record), two
// implementations of it, and the Pipeline that makes exactly one delivery
// attempt and falls back to the durable buffer.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guliveer/pingtel/internal/models"
)

var (
	// ErrAuthentication wraps failures to obtain a credential.
	ErrAuthentication = errors.New("authentication failed")

	// ErrDelivery wraps failures to write a record.
	ErrDelivery = errors.New("delivery failed")
)

// Token is a bearer credential.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && (t.Expiry.IsZero() || now.Before(t.Expiry))
}

// Uploader obtains a credential and writes one record to the ingestion service.
type Uploader interface {
	Authenticate(ctx context.Context) (Token, error)
	Upload(ctx context.Context, token Token, m models.Measurement) error
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body)
}

// Attempt authenticates and uploads m once. Both failure kinds are wrapped so
// callers can tell them apart with errors.Is, although the pipeline treats
// them the same.
func Attempt(ctx context.Context, u Uploader, m models.Measurement) error {
	token, err := u.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if err := u.Upload(ctx, token, m); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}
