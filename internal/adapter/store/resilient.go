package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "modernc.org/sqlite/lib"

	"agntschat/internal/domain"
	"agntschat/internal/infra/tracer"
)

// RetryPolicy bounds how hard Execute tries before giving up.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Default retry settings.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// StoreError is returned when a store operation fails. Kind is one of
// domain.ErrTransientStore, domain.ErrIntegrity, domain.ErrCorruption or
// domain.ErrStore; Err is the last underlying cause.
type StoreError struct {
	Purpose  string
	Attempts int
	Kind     error
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s (%s, %d attempt(s)): %v", e.Kind, e.Purpose, e.Attempts, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ResilientStore runs store operations with bounded retry on transient
// contention. It holds no per-call state and is safe for concurrent use.
type ResilientStore struct {
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewResilientStore creates an executor. A non-positive MaxAttempts or a
// negative BaseDelay falls back to the defaults.
func NewResilientStore(policy RetryPolicy, logger *slog.Logger) *ResilientStore {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	return &ResilientStore{policy: policy, logger: logger, sleep: sleepCtx}
}

// Execute runs fn, retrying transient failures with linear backoff
// (attempt × BaseDelay). Integrity and corruption failures are never retried.
func (s *ResilientStore) Execute(ctx context.Context, purpose string, fn func(ctx context.Context) error) error {
	_, err := ExecuteValue(ctx, s, purpose, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteValue is Execute for operations that produce a value.
func ExecuteValue[T any](ctx context.Context, s *ResilientStore, purpose string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := tracer.StartSpan(ctx, "store.execute", tracer.StringAttr("store.purpose", purpose))

	var zero T
	maxAttempts := s.policy.MaxAttempts
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			span.SetAttributes(tracer.IntAttr("store.attempts", attempt))
			tracer.Finish(span, nil)
			return v, nil
		}

		kind := classify(err)
		if kind == nil {
			// Domain outcomes such as not-found pass through untouched.
			tracer.Finish(span, err)
			return zero, err
		}
		if kind != domain.ErrTransientStore || attempt >= maxAttempts {
			serr := &StoreError{Purpose: purpose, Attempts: attempt, Kind: kind, Err: err}
			if kind == domain.ErrTransientStore {
				s.logger.Error("store retries exhausted", "purpose", purpose, "attempts", attempt, "error", err)
			}
			span.SetAttributes(tracer.IntAttr("store.attempts", attempt))
			tracer.Finish(span, serr)
			return zero, serr
		}

		delay := time.Duration(attempt) * s.policy.BaseDelay
		s.logger.Warn("transient store error, retrying",
			"purpose", purpose,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		if werr := s.sleep(ctx, delay); werr != nil {
			serr := &StoreError{Purpose: purpose, Attempts: attempt, Kind: domain.ErrStore,
				Err: fmt.Errorf("%w (last error: %v)", werr, err)}
			tracer.Finish(span, serr)
			return zero, serr
		}
	}
}

// sqliteCoder matches driver errors that expose an extended result code.
type sqliteCoder interface {
	Code() int
}

// classify maps an error to its store category, or nil when err is a domain
// outcome rather than a store failure.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		return nil
	case errors.Is(err, domain.ErrTransientStore):
		return domain.ErrTransientStore
	case errors.Is(err, domain.ErrIntegrity):
		return domain.ErrIntegrity
	case errors.Is(err, domain.ErrCorruption):
		return domain.ErrCorruption
	}

	var ce sqliteCoder
	if errors.As(err, &ce) {
		switch ce.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_INTERRUPT, sqlite3.SQLITE_IOERR:
			return domain.ErrTransientStore
		case sqlite3.SQLITE_CONSTRAINT:
			return domain.ErrIntegrity
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return domain.ErrCorruption
		}
	}
	return domain.ErrStore
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
