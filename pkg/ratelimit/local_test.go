package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter_OverrideTightensBudget(t *testing.T) {
	l := NewLocalLimiter(nil, ProviderLimit{Requests: 1000, Window: time.Minute})
	override := ProviderLimit{Requests: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		release, err := l.Acquire(context.Background(), "google", override, 50*time.Millisecond)
		require.NoError(t, err)
		release()
	}

	// third request in the window exceeds the job's budget of 2
	_, err := l.Acquire(context.Background(), "google", override, 50*time.Millisecond)
	require.Error(t, err)
}

func TestLocalLimiter_ZeroOverrideUsesConfiguredLimit(t *testing.T) {
	l := NewLocalLimiter(map[string]ProviderLimit{
		"osm": {Requests: 1, Window: time.Minute},
	}, ProviderLimit{Requests: 1000, Window: time.Minute})

	release, err := l.Acquire(context.Background(), "osm", ProviderLimit{}, 50*time.Millisecond)
	require.NoError(t, err)
	release()

	_, err = l.Acquire(context.Background(), "osm", ProviderLimit{}, 50*time.Millisecond)
	require.Error(t, err)

	// other providers fall back to the default budget
	release, err = l.Acquire(context.Background(), "microsoft", ProviderLimit{}, 50*time.Millisecond)
	require.NoError(t, err)
	release()
}

func TestLocalLimiter_BlockDelaysAcquire(t *testing.T) {
	l := NewLocalLimiter(nil, ProviderLimit{Requests: 1000, Window: time.Minute})
	require.NoError(t, l.Block(context.Background(), "osm", 30*time.Millisecond))

	start := time.Now()
	release, err := l.Acquire(context.Background(), "osm", ProviderLimit{}, time.Second)
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestLocalLimiter_ConcurrencySlots(t *testing.T) {
	l := NewLocalLimiter(nil, ProviderLimit{Requests: 1000, Window: time.Minute, MaxConcurrent: 1})

	release, err := l.Acquire(context.Background(), "osm", ProviderLimit{}, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "osm", ProviderLimit{}, 50*time.Millisecond)
	require.Error(t, err)

	release()
	release2, err := l.Acquire(context.Background(), "osm", ProviderLimit{}, 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}
