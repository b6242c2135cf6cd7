package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiterSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://B.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Equal(t, rate.Inf, l.Limit("https://example.com"))
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	l.Throttle("https://example.com")
	require.Equal(t, rate.Inf, l.Limit("https://example.com"))
}

func TestLimiterHostOverrideAndThrottle(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, HostRPS: map[string]float64{"Fast.example.com": 8}, MinRPS: 1})
	require.Equal(t, rate.Limit(8), l.Limit("https://fast.example.com/x"))
	require.Equal(t, rate.Limit(1), l.Limit("https://other.example.com"))

	l.Throttle("https://fast.example.com/y")
	require.Equal(t, rate.Limit(4), l.Limit("https://fast.example.com"))
	l.Throttle("https://fast.example.com")
	l.Throttle("https://fast.example.com")
	l.Throttle("https://fast.example.com")
	require.Equal(t, rate.Limit(1), l.Limit("https://fast.example.com"))
}
