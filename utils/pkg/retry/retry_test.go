package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRetry_DefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	require.Equal(t, 5*time.Second, cfg.MaxBackoff)
}

func TestRetry_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 2}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2.0, cfg.Multiplier)
	require.NotNil(t, cfg.Clock)
	require.NotNil(t, cfg.Classify)

	require.Error(t, (&Config{}).Validate())
	require.Error(t, (&Config{MaxAttempts: 1, Multiplier: 0.5}).Validate())
	require.Error(t, (&Config{MaxAttempts: 1, Jitter: 2}).Validate())
	require.Error(t, (&Config{MaxAttempts: 1, BaseBackoff: -time.Second}).Validate())
}

func TestRetry_Do_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetry_Do_ExhaustsAllAttempts(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	attempts := 0
	originalErr := errors.New("connection reset")
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return originalErr
	})
	require.ErrorIs(t, err, originalErr)
	require.Equal(t, 3, attempts)
}

func TestRetry_Do_NonRetryableError(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	attempts := 0
	originalErr := errors.New("invalid input")
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return originalErr
	})
	require.Equal(t, originalErr, err)
	require.Equal(t, 1, attempts)
}

func TestRetry_Do_AlreadyDoneIsSuccess(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return AlreadyDonef("already claimed")
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetry_Do_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("connection reset")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, attempts)
}

func TestRetry_DoValue_AlwaysFailingReturnsDefault(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 3, 7} {
		var calls int
		cfg := Config{MaxAttempts: n}
		got, err := DoValue(context.Background(), cfg, "default", func(ctx context.Context) (string, error) {
			calls++
			return "partial", errors.New("invalid captcha")
		})
		require.NoError(t, err)
		require.Equal(t, "default", got)
		require.Equal(t, n, calls)
	}
}

func TestRetry_DoValue_TerminalStopsImmediately(t *testing.T) {
	t.Parallel()

	var calls int
	terminal := Terminalf("wallet balance is 0")
	got, err := DoValue(context.Background(), Config{MaxAttempts: 5}, false, func(ctx context.Context) (bool, error) {
		calls++
		return true, terminal
	})
	require.ErrorIs(t, err, terminal)
	require.False(t, got)
	require.Equal(t, 1, calls)
}

func TestRetry_DoValue_FatalStopsImmediately(t *testing.T) {
	t.Parallel()

	var calls int
	_, err := DoValue(context.Background(), Config{MaxAttempts: 5}, 0, func(ctx context.Context) (int, error) {
		calls++
		return 0, AsFatal(errors.New("ledger unavailable"))
	})
	require.True(t, IsFatal(err))
	require.Equal(t, 1, calls)
}

func TestRetry_DoValue_AlreadyDoneReturnsValueOnFirstAttempt(t *testing.T) {
	t.Parallel()

	var calls int
	got, err := DoValue(context.Background(), Config{MaxAttempts: 5}, false, func(ctx context.Context) (bool, error) {
		calls++
		return true, AlreadyDonef("please wait 24 hours before requesting again")
	})
	require.NoError(t, err)
	require.True(t, got)
	require.Equal(t, 1, calls)
}

func TestRetry_DoValue_CustomClassifier(t *testing.T) {
	t.Parallel()

	var calls int
	cfg := Config{
		MaxAttempts: 4,
		Classify: func(err error) Kind {
			if err.Error() == "done" {
				return AlreadyDone
			}
			return Transient
		},
	}
	got, err := DoValue(context.Background(), cfg, -1, func(ctx context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 42, errors.New("done")
		}
		return 0, errors.New("busy")
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 2, calls)
}

func TestRetry_DoValue_BackoffFollowsMultiplier(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	var delays []time.Duration
	cfg := Config{
		MaxAttempts: 4,
		BaseBackoff: time.Second,
		Multiplier:  3,
		Clock:       clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = DoValue(context.Background(), cfg, false, func(ctx context.Context) (bool, error) {
			calls.Add(1)
			return false, errors.New("service is busy")
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, d := range []time.Duration{time.Second, 3 * time.Second, 9 * time.Second} {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(d)
	}
	<-done

	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, []time.Duration{time.Second, 3 * time.Second, 9 * time.Second}, delays)
}

func TestRetry_DoValue_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	_, err := DoValue(ctx, Config{MaxAttempts: 5, BaseBackoff: time.Hour}, false, func(ctx context.Context) (bool, error) {
		calls++
		cancel()
		return false, errors.New("busy")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetry_Delay(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}
	require.Equal(t, time.Duration(0), cfg.Delay(0))
	require.Equal(t, 500*time.Millisecond, cfg.Delay(1))
	require.Equal(t, time.Second, cfg.Delay(2))
	require.Equal(t, 2*time.Second, cfg.Delay(3))
	require.Equal(t, 5*time.Second, cfg.Delay(10))

	cfg.Multiplier = 1
	require.Equal(t, 500*time.Millisecond, cfg.Delay(6))
}

func TestRetry_Backoff_JitterBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseBackoff: time.Second, Multiplier: 2, Jitter: 0.5}
	for range 100 {
		d := cfg.backoff(2)
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestRetry_KindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, Transient, KindOf(errors.New("x")))
	require.Equal(t, Terminal, KindOf(Terminalf("x")))
	require.Equal(t, AlreadyDone, KindOf(AsAlreadyDone(errors.New("x"))))
	require.Equal(t, Fatal, KindOf(AsFatal(errors.New("x"))))
	wrapped := errors.Join(errors.New("outer"), Terminalf("inner"))
	require.Equal(t, Terminal, KindOf(wrapped))
	require.Nil(t, AsTerminal(nil))
	require.False(t, IsTerminal(nil))
	require.Equal(t, "already_done", AlreadyDone.String())
}

func TestRetry_IsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout error", err: &net.OpError{Op: "read", Err: errors.New("i/o timeout")}, want: true},
		{name: "connection reset", err: errors.New("connection reset by peer"), want: true},
		{name: "EOF", err: errors.New("EOF"), want: true},
		{name: "rate limit", err: errors.New("rate limit exceeded"), want: true},
		{name: "nonce too low", err: errors.New("nonce too low"), want: true},
		{name: "429", err: &httpError{statusCode: http.StatusTooManyRequests}, want: true},
		{name: "503", err: &httpError{statusCode: http.StatusServiceUnavailable}, want: true},
		{name: "400", err: &httpError{statusCode: http.StatusBadRequest}, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: false},
		{name: "tagged transient", err: Transientf("anything"), want: true},
		{name: "tagged terminal", err: Terminalf("timeout"), want: false},
		{name: "plain", err: errors.New("invalid input"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type httpError struct {
	statusCode int
}

func (e *httpError) Error() string {
	return http.StatusText(e.statusCode)
}

func (e *httpError) StatusCode() int {
	return e.statusCode
}
