package circuit_breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func Test_circuitBreaker_Call(t *testing.T) {
	t.Parallel()
	errService := errors.New("service error")
	ok := func() error { return nil }
	fail := func() error { return errService }

	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := newWithClock(Config{
		Window:           10,
		OpenTimeout:      time.Second,
		FailureRatio:     0.3,
		RecoveryRequests: 2,
	}, clock.now)

	for i := 0; i < 20; i++ {
		require.NoError(t, cb.Call(ok))
	}
	require.Equal(t, Closed, cb.State())

	require.ErrorIs(t, cb.Call(fail), errService)
	require.ErrorIs(t, cb.Call(fail), errService)
	require.Equal(t, Closed, cb.State())
	require.ErrorIs(t, cb.Call(fail), errService)
	require.Equal(t, Open, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpen)
	require.False(t, called)

	clock.advance(2 * time.Second)
	require.ErrorIs(t, cb.Call(fail), errService)
	require.Equal(t, Open, cb.State(), "failed probe re-opens")

	clock.advance(2 * time.Second)
	require.NoError(t, cb.Call(ok))
	require.Equal(t, HalfOpen, cb.State())
	require.NoError(t, cb.Call(ok))
	require.Equal(t, Closed, cb.State())
}

func Test_circuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := New(Config{Window: 1, OpenTimeout: time.Hour, FailureRatio: 1, RecoveryRequests: 1})
	_ = cb.Call(func() error { return errors.New("boom") })
	require.Equal(t, Open, cb.State())
	cb.Reset()
	require.Equal(t, Closed, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
}
