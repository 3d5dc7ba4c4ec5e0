package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForSearch_HoldsUntilLateSearchRequest(t *testing.T) {
	found := make(chan struct{}, 1)
	idle := make(chan struct{}, 1)

	go func() {
		time.Sleep(80 * time.Millisecond)
		signal(found)
	}()

	start := time.Now()
	err := waitForSearch(context.Background(), 10*time.Millisecond, 5*time.Second, found, idle)
	require.NoError(t, err)
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	require.Less(t, elapsed, 5*time.Second)
}

func TestWaitForSearch_ReturnsOnNetworkIdle(t *testing.T) {
	found := make(chan struct{}, 1)
	idle := make(chan struct{}, 1)
	signal(idle)

	start := time.Now()
	require.NoError(t, waitForSearch(context.Background(), 20*time.Millisecond, 5*time.Second, found, idle))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	require.Less(t, elapsed, time.Second)
}

func TestWaitForSearch_LimitIsNotAnError(t *testing.T) {
	found := make(chan struct{}, 1)
	idle := make(chan struct{}, 1)

	start := time.Now()
	require.NoError(t, waitForSearch(context.Background(), 0, 50*time.Millisecond, found, idle))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitForSearch_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForSearch(ctx, time.Second, time.Second, make(chan struct{}), make(chan struct{}))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSignal_DoesNotBlockWhenFull(t *testing.T) {
	ch := make(chan struct{}, 1)
	signal(ch)
	signal(ch)
	require.Len(t, ch, 1)
}
