// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// startLoop starts a loop; the returned func stops it. Call it before
// goleak checks run.
func startLoop(t *testing.T, interval time.Duration) (*Loop, func()) {
	t.Helper()
	l := New(interval)
	l.Start()
	return l, func() {
		require.NoError(t, l.Stop(context.Background()))
	}
}

func TestLoop_RunExecutesOnNextTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, 2*time.Millisecond)
	defer stop()

	done := make(chan struct{})
	require.NoError(t, l.Run(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestLoop_FIFOOnOneGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(5 * time.Millisecond)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, l.Run(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	l.Start()
	wg.Wait()
	require.NoError(t, l.Stop(context.Background()))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestLoop_AfterWaitsForDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, time.Millisecond)
	defer stop()

	start := time.Now()
	ran := make(chan time.Time, 1)
	require.NoError(t, l.After(30*time.Millisecond, func() { ran <- time.Now() }))

	select {
	case at := <-ran:
		assert.GreaterOrEqual(t, at.Sub(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestLoop_AfterZeroRunsOnLaterTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, 2*time.Millisecond)
	defer stop()

	ticks := make(chan uint64, 2)
	require.NoError(t, l.Run(func() {
		ticks <- l.Ticks()
		_ = l.After(0, func() { ticks <- l.Ticks() })
	}))

	first := <-ticks
	second := <-ticks
	assert.Greater(t, second, first, "a task scheduled during a tick runs on a later tick")
}

func TestLoop_RecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, stop := startLoop(t, time.Millisecond)
	defer stop()

	require.NoError(t, l.Run(func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, l.Run(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop died after panic")
	}
}

func TestLoop_ScheduleAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(time.Millisecond)
	l.Start()
	require.NoError(t, l.Stop(context.Background()))
	require.NoError(t, l.Stop(context.Background()), "stop is idempotent")

	assert.True(t, errors.Is(l.Run(func() {}), ErrStopped))
	assert.True(t, errors.Is(l.After(time.Second, func() {}), ErrStopped))
}

func TestLoop_StoppedSignalsDiscardedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(time.Hour)
	l.Start()

	ran := make(chan struct{})
	require.NoError(t, l.After(time.Minute, func() { close(ran) }))

	select {
	case <-l.Stopped():
		t.Fatal("stopped before Stop")
	default:
	}

	require.NoError(t, l.Stop(context.Background()))

	select {
	case <-l.Stopped():
	case <-time.After(time.Second):
		t.Fatal("Stopped not closed after Stop")
	}
	select {
	case <-ran:
		t.Fatal("discarded task ran")
	default:
	}
}

func TestLoop_StopWithoutStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(0)
	assert.Equal(t, DefaultInterval, l.Interval())
	require.NoError(t, l.Stop(context.Background()))

	l.Start()
	assert.Equal(t, uint64(0), l.Ticks())
}

func TestLoop_StopTimesOutOnBlockedTask(t *testing.T) {
	l := New(time.Millisecond)
	l.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, l.Run(func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-l.done
}
