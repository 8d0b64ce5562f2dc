// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package cooldown tracks per-actor and global cooldowns and drives the live
// countdown presentation shown to actors while a cooldown runs.
package cooldown

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default store values.
const (
	// DefaultTickInterval is how often a running countdown pushes progress.
	DefaultTickInterval = 100 * time.Millisecond

	// DefaultAvailableFor is how long the "available" presentation stays up.
	DefaultAvailableFor = 3 * time.Second

	// DefaultCleanupInterval is the interval of the background sweep that
	// removes expired entries.
	DefaultCleanupInterval = time.Minute
)

// entry is one actor's cooldown.
type entry struct {
	expiresAt time.Time
	countdown *countdown // nil without a sink
}

// Store holds cooldown state. It is safe for concurrent use.
//
// One mutex guards the per-actor entries, the global expiry and the countdown
// handles. Replacing an actor's countdown cancels the old handle under that
// mutex, so operations on the same actor are linearizable.
//
// The Store runs a background goroutine to sweep expired entries and one
// goroutine per running countdown. Call Close to stop them.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	global  time.Time
	closed  bool

	// Claims held by commands dispatched but not yet judged.
	pending       map[string]struct{}
	globalPending bool

	sink            Sink
	now             func() time.Time
	tickInterval    time.Duration
	availableFor    time.Duration
	cleanupInterval time.Duration
	cooldownLabel   string
	availableLabel  string
	logger          *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	reg         prometheus.Registerer
	activeGauge prometheus.Gauge
}

// Option configures a Store.
type Option func(*Store)

// WithSink sets the presentation sink. Without one no countdown runs.
func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval sets how often countdown progress is pushed.
func WithTickInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithAvailableFor sets how long the "available" presentation is shown.
func WithAvailableFor(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.availableFor = d
		}
	}
}

// WithCleanupInterval sets the background sweep interval.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithLabels overrides the presentation labels. Empty values keep the defaults.
func WithLabels(cooldown, available string) Option {
	return func(s *Store) {
		if cooldown != "" {
			s.cooldownLabel = cooldown
		}
		if available != "" {
			s.availableLabel = available
		}
	}
}

// WithRegisterer registers a gauge of actors with a tracked cooldown.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.reg = reg
	}
}

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store and starts its cleanup goroutine.
func New(opts ...Option) *Store {
	s := &Store{
		entries:         make(map[string]*entry),
		pending:         make(map[string]struct{}),
		now:             time.Now,
		tickInterval:    DefaultTickInterval,
		availableFor:    DefaultAvailableFor,
		cleanupInterval: DefaultCleanupInterval,
		cooldownLabel:   DefaultCooldownLabel,
		availableLabel:  DefaultAvailableLabel,
		logger:          slog.Default(),
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.reg != nil {
		s.activeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgemc_cooldown_active",
			Help: "Current number of actors with a tracked cooldown",
		})
		s.reg.MustRegister(s.activeGauge)
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// IsOnCooldown reports whether actor has an unexpired cooldown.
func (s *Store) IsOnCooldown(actor string) bool {
	return s.Remaining(actor) > 0
}

// Remaining returns the time left on actor's cooldown. It is zero for an
// unknown actor and negative once an entry has expired but not yet been swept.
func (s *Store) Remaining(actor string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[actor]
	if !ok {
		return 0
	}
	return e.expiresAt.Sub(s.now())
}

// RemainingMillis is Remaining in milliseconds.
func (s *Store) RemainingMillis(actor string) int64 {
	return s.Remaining(actor).Milliseconds()
}

// Reserve starts a cooldown of d for actor, replacing any previous one. The
// previous countdown presentation is cancelled before the new one starts.
func (s *Store) Reserve(actor string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[actor]; ok && old.countdown != nil {
		old.countdown.cancel()
	}

	e := &entry{expiresAt: s.now().Add(d)}
	if s.sink != nil && !s.closed && d > 0 {
		e.countdown = newCountdown()
		s.wg.Add(1)
		go s.runCountdown(actor, e.countdown, e.expiresAt, d)
	}
	s.entries[actor] = e
	s.updateGauge()
}

// Reset removes actor's cooldown and its presentation. The presentation is
// cleared under the store lock so a concurrent Reserve cannot be wiped.
func (s *Store) Reset(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[actor]
	if !ok {
		return
	}
	delete(s.entries, actor)
	s.updateGauge()

	if e.countdown != nil {
		e.countdown.cancel()
		s.clear(actor)
	}
}

// TryBegin claims actor for one pending command. It fails while actor is on
// cooldown, returning the time left, or while another claim on actor is
// held, returning zero. A successful claim is released with End.
func (s *Store) TryBegin(actor string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[actor]; ok {
		if rem := e.expiresAt.Sub(s.now()); rem > 0 {
			return rem, false
		}
	}
	if _, held := s.pending[actor]; held {
		return 0, false
	}
	s.pending[actor] = struct{}{}
	return 0, true
}

// End releases a claim taken by TryBegin.
func (s *Store) End(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, actor)
}

// TryBeginGlobal is TryBegin for the global cooldown.
func (s *Store) TryBeginGlobal() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.global.IsZero() {
		if rem := s.global.Sub(s.now()); rem > 0 {
			return rem, false
		}
	}
	if s.globalPending {
		return 0, false
	}
	s.globalPending = true
	return 0, true
}

// EndGlobal releases a claim taken by TryBeginGlobal.
func (s *Store) EndGlobal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalPending = false
}

// IsGlobalOnCooldown reports whether the global cooldown is running.
func (s *Store) IsGlobalOnCooldown() bool {
	return s.GlobalRemaining() > 0
}

// GlobalRemaining returns the time left on the global cooldown, negative
// once it has expired.
func (s *Store) GlobalRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.global.IsZero() {
		return 0
	}
	return s.global.Sub(s.now())
}

// GlobalRemainingMillis is GlobalRemaining in milliseconds.
func (s *Store) GlobalRemainingMillis() int64 {
	return s.GlobalRemaining().Milliseconds()
}

// ReserveGlobal starts the global cooldown.
func (s *Store) ReserveGlobal(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = s.now().Add(d)
}

// ResetGlobal clears the global cooldown.
func (s *Store) ResetGlobal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = time.Time{}
}

// Count returns the number of tracked actor entries, expired or not.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns the remaining time of every actor still on cooldown.
func (s *Store) Snapshot() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]time.Duration, len(s.entries))
	for actor, e := range s.entries {
		if rem := e.expiresAt.Sub(now); rem > 0 {
			out[actor] = rem
		}
	}
	return out
}

// Cleanup removes entries whose cooldown and "available" presentation have
// both ended. It runs periodically in the background.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.now().Add(-s.availableFor - s.tickInterval)
	for actor, e := range s.entries {
		if e.expiresAt.Before(threshold) {
			if e.countdown != nil {
				e.countdown.cancel()
			}
			delete(s.entries, actor)
		}
	}
	if !s.global.IsZero() && s.global.Before(s.now()) {
		s.global = time.Time{}
	}
	s.updateGauge()
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

// Close cancels every countdown, stops the cleanup goroutine and waits for
// all store goroutines to exit. Cooldown queries keep working after Close.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, e := range s.entries {
		if e.countdown != nil {
			e.countdown.cancel()
		}
	}
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// finish drops actor's entry if c is still its countdown.
func (s *Store) finish(actor string, c *countdown) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[actor]; ok && e.countdown == c {
		delete(s.entries, actor)
		s.updateGauge()
	}
}

// updateGauge must be called with s.mu held.
func (s *Store) updateGauge() {
	if s.activeGauge != nil {
		s.activeGauge.Set(float64(len(s.entries)))
	}
}

func (s *Store) show(actor, label string, progress float64, style Style) {
	if err := s.sink.Show(actor, label, progress, style); err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "cooldown presentation failed",
			slog.String("actor", actor),
			slog.String("style", style.String()),
			slog.String("error", err.Error()))
	}
}

func (s *Store) clear(actor string) {
	if err := s.sink.Clear(actor); err != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "cooldown presentation clear failed",
			slog.String("actor", actor),
			slog.String("error", err.Error()))
	}
}
