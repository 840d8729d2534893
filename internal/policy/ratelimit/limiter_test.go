package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterDisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://api.github.com/repos/a/b"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDelaysSecondCall(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms; the burst token is consumed first.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://api.github.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://api.github.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterBucketsArePerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://one.example.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://two.example.com"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com"))
}
