package store

import (
	"context"
	"database/sql/driver"
	"strconv"
	"time"

	"github.com/gear6io/gharp/pkg/errors"
	"github.com/gear6io/gharp/server/config"
	"github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"
)

// RetryConfig is the exponential backoff policy applied to transient store
// failures. MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the default retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryConfigFrom converts the YAML retry section
func RetryConfigFrom(cfg config.RetryConfig) RetryConfig {
	rc := RetryConfig{
		MaxAttempts:   cfg.MaxAttempts,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.BackoffFactor < 1 {
		rc.BackoffFactor = 1
	}
	return rc
}

// IsTransient reports whether err is worth retrying: transaction conflicts,
// lost connections and I/O hiccups. Everything else (syntax, catalog, bad
// input) fails the first time.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var duckErr *duckdb.Error
	if !errors.As(err, &duckErr) {
		return false
	}
	switch duckErr.Type {
	case duckdb.ErrorTypeTransaction, duckdb.ErrorTypeConnection, duckdb.ErrorTypeIO:
		return true
	default:
		return false
	}
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context) error

// RetryWithBackoff runs operation until it succeeds, returns a non-transient
// error, the context ends, or the attempts run out.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, operation RetryableOperation, logger zerolog.Logger) error {
	var lastErr error
	delay := cfg.BaseDelay
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Int("attempt", attempt).Msg("Store operation succeeded after retry")
			}
			return nil
		}

		if !IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("delay", delay).
			Msg("Transient store failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return errors.New(ErrStoreRetryExhausted, "store operation failed after retry attempts", lastErr).
		AddContext("max_attempts", strconv.Itoa(attempts))
}
