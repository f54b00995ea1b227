package ratelimiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_BeforeInitReturnsErrNotInitialized(t *testing.T) {
	instMu.Lock()
	instance = nil
	instMu.Unlock()

	_, err := Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSchedule_RunsFunctionAndReturnsResult(t *testing.T) {
	l := New(600, 2) // the first launch is never delayed by the interval
	l.UpdateLimits(6000, 2)

	got, err := Schedule(context.Background(), l, 0, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSchedule_RespectsConcurrencyCap(t *testing.T) {
	l := New(6000, 2)

	var running int32
	var maxObserved int32
	start := make(chan struct{})

	runOne := func() {
		_, _ = Schedule(context.Background(), l, 0, func(ctx context.Context) (struct{}, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return struct{}{}, nil
		})
	}

	for i := 0; i < 5; i++ {
		go func() { <-start; runOne() }()
	}
	close(start)

	deadline := time.After(2 * time.Second)
	for {
		if err := l.WaitForIdle(context.Background()); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for limiter to idle")
		default:
		}
	}

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxObserved)), 2)
}

func TestSchedule_ContextCancelBeforeRunReturnsErr(t *testing.T) {
	l := New(1, 1) // very slow min interval
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// Occupy the only slot with a long-running job.
		_, _ = Schedule(context.Background(), l, 0, func(ctx context.Context) (struct{}, error) {
			time.Sleep(200 * time.Millisecond)
			return struct{}{}, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	_, err := Schedule(ctx, l, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	assert.Error(t, err)
}

func TestWaitForIdle_IdleImmediatelyOnFreshLimiter(t *testing.T) {
	l := New(60, 1)
	err := l.WaitForIdle(context.Background())
	assert.NoError(t, err)
}
