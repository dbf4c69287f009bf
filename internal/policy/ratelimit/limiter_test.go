package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequestsPerHost(t *testing.T) {
	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.r10.net/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.r10.net/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://wmaraci.com/forum"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "hosts have independent buckets")
}

func TestLimiterHostOverrideAndUnlimited(t *testing.T) {
	l := New(Config{DefaultRPS: 0, HostRPS: map[string]float64{"WWW.BLACKHATWORLD.COM": 5}})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://wmaraci.com/x"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "https://www.blackhatworld.com/a"))
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.blackhatworld.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://x.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://x.test"))

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://x.test"))
}
