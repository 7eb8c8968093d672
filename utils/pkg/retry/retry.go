package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Multiplier scales the delay between attempts: BaseBackoff * Multiplier^(attempt-1).
	// Zero means 2.
	Multiplier float64

	// Jitter randomizes each delay within [delay*(1-Jitter), delay]. Zero disables it.
	Jitter float64

	// Classify maps an operation error to a Kind. Defaults to KindOf, which treats
	// anything not explicitly tagged as Transient.
	Classify func(error) Kind

	// OnRetry is called after a failed attempt when another attempt will follow.
	OnRetry func(attempt int, err error, delay time.Duration)

	Clock clockwork.Clock
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be greater than 0")
	}
	if c.BaseBackoff < 0 {
		return errors.New("base backoff must not be negative")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		return errors.New("jitter must be between 0 and 1")
	}
	if c.Classify == nil {
		c.Classify = KindOf
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Do executes the given function with exponential backoff retry.
// Errors that IsRetryable rejects stop the loop immediately; AlreadyDone errors
// count as success. Returns the last error if all attempts fail.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, cfg.Clock, cfg.backoff(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		switch KindOf(lastErr) {
		case AlreadyDone:
			return nil
		case Terminal, Fatal:
			return lastErr
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if cfg.OnRetry != nil && attempt < cfg.MaxAttempts {
			cfg.OnRetry(attempt, lastErr, cfg.backoff(attempt))
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoValue runs fn up to cfg.MaxAttempts times and returns its value.
//
// Every failure is retried unless cfg.Classify marks it Terminal or Fatal, in which
// case def is returned together with the error after that single attempt. An
// AlreadyDone error ends the loop successfully with the value fn returned next to
// it. When the budget is exhausted def is returned with a nil error. The only other
// error returned is the context's.
func DoValue[T any](ctx context.Context, cfg Config, def T, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cfg.Validate(); err != nil {
		return def, AsFatal(err)
	}

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return def, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return def, ctxErr
		}

		switch cfg.Classify(err) {
		case AlreadyDone:
			return v, nil
		case Terminal, Fatal:
			return def, err
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, cfg.Clock, delay); err != nil {
			return def, err
		}
	}

	return def, nil
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind == Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	type hasStatusCode interface {
		StatusCode() int
	}
	var sc hasStatusCode
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection closed",
		"connection refused",
		"connection reset",
		"eof",
		"broken pipe",
		"timeout",
		"temporary failure",
		"service unavailable",
		"rate limit",
		"too many requests",
		"nonce too low",
		"replacement transaction underpriced",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// Delay returns the wait applied after the given 1-indexed failed attempt,
// before jitter.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	mult := c.Multiplier
	if mult == 0 {
		mult = 2
	}
	d := float64(c.BaseBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (c Config) backoff(attempt int) time.Duration {
	d := c.Delay(attempt)
	if c.Jitter > 0 && d > 0 {
		d = time.Duration(float64(d) * (1 - c.Jitter*rand.Float64()))
	}
	return d
}

func sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
