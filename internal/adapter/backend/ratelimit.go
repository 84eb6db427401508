package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"agntschat/internal/domain"
	"agntschat/internal/infra/config"
)

// newLimiter returns a request limiter, or nil when the rate is unlimited.
func newLimiter(cfg config.BackendConfig) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60.0, burst)
}

// waitTurn blocks until the limiter admits one request.
func waitTurn(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: rate limit: %v", domain.ErrBackend, err)
	}
	return nil
}
