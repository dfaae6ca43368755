package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://www.icmanzoni.edu.it/albo"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.ICMANZONI.EDU.IT/news"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "host keys are case-insensitive")
}

func TestLimiterIsolatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.WaitKey(context.Background(), "backend"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.WaitKey(ctx, "backend"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.WaitKey(context.Background(), "x"))
	nilLimiter.Backoff("https://example.com", time.Second)
}

func TestLimiterBackoff(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	l.Backoff("https://slow.example/page", 150*time.Millisecond)
	l.Backoff("https://slow.example/page", 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/other"))
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond, "a shorter pause must not shorten an active one")

	start = time.Now()
	require.NoError(t, l.Wait(context.Background(), "https://fast.example/"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	l.Backoff("https://slow.example/", time.Hour)
	require.ErrorIs(t, l.Wait(ctx, "https://slow.example/"), context.DeadlineExceeded)

	l.mu.Lock()
	paused := l.pausedUntil["slow.example"].Sub(l.now())
	l.mu.Unlock()
	assert.LessOrEqual(t, paused, MaxBackoff)
}
