// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package tick provides a single-threaded execution context driven by a
// fixed-period tick, the way a game server runs its main thread. Everything
// that touches the game server's console runs on it.
package tick

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultInterval is one game tick.
const DefaultInterval = 50 * time.Millisecond

// ErrStopped is returned when work is scheduled on a stopped loop.
var ErrStopped = oops.Code("TICK_LOOP_STOPPED").Errorf("tick loop stopped")

type task struct {
	due time.Time
	fn  func()
}

// Loop runs scheduled functions on one goroutine, once per tick.
// Tasks due on the same tick run in scheduling order.
type Loop struct {
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	tasks   []task
	ticks   uint64
	started bool
	stopped bool

	stopChan chan struct{}
	done     chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for recovered task panics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a stopped loop. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, opts ...Option) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := &Loop{
		interval: interval,
		now:      time.Now,
		logger:   slog.Default(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the tick period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Ticks returns the number of ticks processed so far.
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Start begins ticking. Calling Start more than once, or after Stop, is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	go l.run()
}

// Stop halts the loop and waits for the current tick to finish or ctx to end.
// Pending tasks are discarded.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	started := l.started
	l.tasks = nil
	l.mu.Unlock()

	close(l.stopChan)
	if !started {
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return oops.Code("TICK_LOOP_STOP_TIMEOUT").Wrapf(ctx.Err(), "waiting for tick loop to stop")
	}
}

// Stopped returns a channel closed once Stop is called. Tasks still queued
// at that point never run.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopChan
}

// Run schedules fn for the next tick.
func (l *Loop) Run(fn func()) error {
	return l.schedule(time.Time{}, fn)
}

// After schedules fn for the first tick at or after d from now. fn never runs
// sooner than the next tick.
func (l *Loop) After(d time.Duration, fn func()) error {
	return l.schedule(l.now().Add(d), fn)
}

func (l *Loop) schedule(due time.Time, fn func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return ErrStopped
	}
	l.tasks = append(l.tasks, task{due: due, fn: fn})
	return nil
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	now := l.now()

	l.mu.Lock()
	l.ticks++
	var due, later []task
	for _, t := range l.tasks {
		if t.due.After(now) {
			later = append(later, t)
		} else {
			due = append(due, t)
		}
	}
	l.tasks = later
	l.mu.Unlock()

	for _, t := range due {
		select {
		case <-l.stopChan:
			return
		default:
		}
		l.exec(t.fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("tick task panicked", "panic", r)
		}
	}()
	fn()
}
