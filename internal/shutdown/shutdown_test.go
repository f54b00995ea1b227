package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/baechuer/mailblast/internal/ratelimiter"
)

type stubStoppable struct {
	called atomic.Bool
	delay  time.Duration
	err    error
	seq    *atomic.Int32 // shared between stubs to record stop order
	order  int32
}

func (s *stubStoppable) Stop(ctx context.Context) error {
	s.called.Store(true)
	if s.seq != nil {
		s.order = s.seq.Add(1)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func TestAccepting_StartsTrueAndFlipsFalseOnRun(t *testing.T) {
	c := New(Config{ShutdownTimeout: time.Second, ForceShutdownTimeout: time.Second})
	assert.True(t, c.Accepting())

	c.Run(context.Background(), nil, nil, nil, nil, nil)
	assert.False(t, c.Accepting())
}

func TestRun_StopsConsumerAndPublisherInOrder(t *testing.T) {
	c := New(Config{ShutdownTimeout: time.Second, ForceShutdownTimeout: time.Second})
	var seq atomic.Int32
	consumer := &stubStoppable{seq: &seq}
	publisher := &stubStoppable{seq: &seq}

	c.Run(context.Background(), consumer, publisher, nil, nil, nil)

	assert.True(t, consumer.called.Load())
	assert.True(t, publisher.called.Load())
	assert.Equal(t, int32(1), consumer.order)
	assert.Equal(t, int32(2), publisher.order)
}

func TestRun_WaitsForRateLimiterIdle(t *testing.T) {
	c := New(Config{ShutdownTimeout: time.Second, ForceShutdownTimeout: time.Second})
	limiter := ratelimiter.New(0, 1)

	var finished atomic.Bool
	go func() {
		_, _ = ratelimiter.Schedule(context.Background(), limiter, 0, func(ctx context.Context) (struct{}, error) {
			time.Sleep(20 * time.Millisecond)
			return struct{}{}, nil
		})
		finished.Store(true)
	}()
	time.Sleep(5 * time.Millisecond)

	c.Run(context.Background(), nil, nil, limiter, nil, nil)
	assert.True(t, finished.Load())
}

func TestRun_CallsCloseResources(t *testing.T) {
	c := New(Config{ShutdownTimeout: time.Second, ForceShutdownTimeout: time.Second})
	var closed atomic.Bool

	c.Run(context.Background(), nil, nil, nil, func() error {
		closed.Store(true)
		return nil
	}, nil)

	assert.True(t, closed.Load())
}

func TestRun_ToleratesStoppableErrors(t *testing.T) {
	c := New(Config{ShutdownTimeout: time.Second, ForceShutdownTimeout: time.Second})
	consumer := &stubStoppable{err: errors.New("already stopped")}

	assert.NotPanics(t, func() {
		c.Run(context.Background(), consumer, nil, nil, nil, nil)
	})
}

func TestRun_InvokesOnForceExitWhenSequenceOverruns(t *testing.T) {
	c := New(Config{ShutdownTimeout: 50 * time.Millisecond, ForceShutdownTimeout: 20 * time.Millisecond})
	slow := &stubStoppable{delay: 200 * time.Millisecond}

	var forced atomic.Bool
	c.Run(context.Background(), slow, nil, nil, nil, func() {
		forced.Store(true)
	})

	assert.True(t, forced.Load())
}
