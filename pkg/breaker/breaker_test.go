package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("dep", Config{FailureThreshold: 3, ResetTimeout: time.Second}, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow())
		b.ReportFailure()
	}
	require.Equal(t, Closed, b.State())

	require.NoError(t, b.Allow())
	b.ReportFailure()
	require.Equal(t, Open, b.State())

	err := b.Allow()
	var circuitErr *CircuitOpenError
	require.True(t, errors.As(err, &circuitErr))
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := New("dep", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.ReportFailure()
	require.Equal(t, Open, b.State())

	now = now.Add(20 * time.Millisecond)
	require.NoError(t, b.Allow()) // transitions to half-open and allows the probe
	b.ReportSuccess()
	require.Equal(t, Closed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("dep", Config{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.ReportFailure()
	now = now.Add(20 * time.Millisecond)
	require.NoError(t, b.Allow())
	b.ReportFailure()
	require.Equal(t, Open, b.State())
}

func TestWrapReportsOutcome(t *testing.T) {
	b := New("dep", Config{FailureThreshold: 2, ResetTimeout: time.Second}, nil)
	err := b.Wrap(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	err = b.Wrap(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
}
