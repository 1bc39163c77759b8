package cyclic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canbridge/internal/logging"
)

func TestLoop_RunsEveryPeriod(t *testing.T) {
	mock := clock.NewMock()
	var setups atomic.Int32
	l := &Loop{
		Period: time.Millisecond,
		Clock:  mock,
		Logger: logging.Discard(),
		Setup: func() error {
			setups.Add(1)
			return errors.New("not permitted")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var steps atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx, func(context.Context) error {
			steps.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return steps.Load() == 1 }, time.Second, time.Millisecond)
	for i := int32(2); i <= 5; i++ {
		mock.Add(time.Millisecond)
		require.Eventually(t, func() bool { return steps.Load() == i }, time.Second, time.Millisecond)
	}

	cancel()
	mock.Add(time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, int32(1), setups.Load(), "a failed setup does not stop the loop")
	cycles, overruns := l.Stats()
	assert.GreaterOrEqual(t, cycles, uint64(5))
	assert.Zero(t, overruns)
}

func TestLoop_StepErrorStops(t *testing.T) {
	l := &Loop{Period: time.Millisecond, Clock: clock.NewMock(), Logger: logging.Discard()}
	boom := errors.New("boom")
	err := l.Run(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	cycles, _ := l.Stats()
	assert.Zero(t, cycles)
}

func TestLoop_CountsOverruns(t *testing.T) {
	mock := clock.NewMock()
	l := &Loop{Period: time.Millisecond, Clock: mock, Logger: logging.Discard()}

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := l.Run(ctx, func(context.Context) error {
		n++
		// Simulate a step that takes three periods, then stop.
		mock.Add(3 * time.Millisecond)
		if n >= 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	cycles, overruns := l.Stats()
	assert.Equal(t, uint64(n), cycles)
	assert.Equal(t, cycles, overruns)
	assert.GreaterOrEqual(t, n, 2)
}

func TestLoop_LockThread(t *testing.T) {
	l := &Loop{Period: time.Millisecond, Clock: clock.NewMock(), Logger: logging.Discard(), LockThread: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx, func(context.Context) error { return nil }))
}
