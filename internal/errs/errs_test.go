package errs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyWrappers(t *testing.T) {
	require.Equal(t, KindTransient, Classify(NewTransientError(errors.New("boom"))))
	require.Equal(t, KindPermanent, Classify(NewPermanentError(errors.New("boom"))))
	require.Equal(t, KindUnknown, Classify(errors.New("boom")))
}

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0}
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewTransientError(errors.New("not yet"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()
	cfg.BaseDelay = time.Millisecond
	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return NewPermanentError(errors.New("no retry"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	_ = cb.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)

	time.Sleep(15 * time.Millisecond)
	err = cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
}

func TestManagerReusesBreakerByName(t *testing.T) {
	m := NewManager(DefaultCircuitBreakerConfig())
	a := m.Get("x")
	b := m.Get("x")
	require.Same(t, a, b)
}
