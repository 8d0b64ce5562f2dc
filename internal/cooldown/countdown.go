// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package cooldown

import (
	"sync"
	"time"
)

// countdown is a cancellable handle for one running presentation.
//
// Every sink write happens inside present, under mu. cancel takes the same
// mutex, so once cancel returns the handle never writes again.
type countdown struct {
	mu      sync.Mutex
	stopped bool
	stop    chan struct{}
}

func newCountdown() *countdown {
	return &countdown{stop: make(chan struct{})}
}

func (c *countdown) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		close(c.stop)
	}
}

// present runs fn unless the handle was cancelled and reports whether it ran.
func (c *countdown) present(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	fn()
	return true
}

// runCountdown pushes progress every tick until expiresAt, then shows the
// "available" presentation for availableFor and clears it.
func (s *Store) runCountdown(actor string, c *countdown, expiresAt time.Time, total time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		remaining := expiresAt.Sub(s.now())
		if remaining <= 0 {
			break
		}
		progress := clamp(float64(remaining) / float64(total))
		if !c.present(func() { s.show(actor, s.cooldownLabel, progress, StyleCooldown) }) {
			return
		}

		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
	}

	if !c.present(func() {
		s.clear(actor)
		s.show(actor, s.availableLabel, 1, StyleAvailable)
	}) {
		return
	}

	timer := time.NewTimer(s.availableFor)
	defer timer.Stop()

	select {
	case <-c.stop:
		return
	case <-timer.C:
	}

	if c.present(func() { s.clear(actor) }) {
		s.finish(actor, c)
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
