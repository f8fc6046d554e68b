package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesOneHost(t *testing.T) {
	t.Parallel()
	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "host b must not wait on host a")
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com/again"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()
	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.com/"))
	}
}
