package sender

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Pinger is implemented by uploaders whose Authenticate does no I/O and that
// can probe the service directly instead.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckReachable verifies at startup that the ingestion service answers,
// retrying with exponential backoff for up to maxElapsed. Uploaders that
// implement Pinger are pinged; the others must obtain a credential.
func CheckReachable(ctx context.Context, u Uploader, maxElapsed time.Duration, logger *zap.Logger) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	check := func() (struct{}, error) {
		_, err := u.Authenticate(ctx)
		return struct{}{}, err
	}
	failure := ErrAuthentication
	if p, ok := u.(Pinger); ok {
		check = func() (struct{}, error) {
			return struct{}{}, p.Ping(ctx)
		}
		failure = ErrDelivery
	}

	_, err := backoff.Retry(ctx, check,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Ingestion service not reachable yet",
				zap.Duration("retry_in", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", failure, err)
	}
	return nil
}
