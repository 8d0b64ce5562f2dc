// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Rate limiting defaults.
const (
	DefaultRate            = 1.0
	DefaultBurst           = 5
	DefaultCleanupInterval = 5 * time.Minute
	DefaultRequesterMaxAge = time.Hour
)

// LimiterConfig configures a RequesterLimiter.
type LimiterConfig struct {
	// Rate is the sustained number of requests per second per requester.
	// Defaults to DefaultRate if zero or negative.
	Rate float64

	// Burst is the number of requests allowed at once. Defaults to
	// DefaultBurst if zero or negative.
	Burst int

	// CleanupInterval is how often idle requesters are dropped.
	CleanupInterval time.Duration

	// MaxAge is how long a requester may stay idle before it is dropped.
	MaxAge time.Duration
}

type requesterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RequesterLimiter throttles intake requests per requester using a token
// bucket. It is safe for concurrent use.
//
// A background goroutine drops idle requesters. Call Close to stop it.
type RequesterLimiter struct {
	mu         sync.Mutex
	requesters map[string]*requesterEntry
	limit      rate.Limit
	burst      int
	maxAge     time.Duration
	now        func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	gauge prometheus.Gauge // nil if no registry provided
}

// NewRequesterLimiter creates a limiter and starts its cleanup goroutine.
// When reg is non-nil a gauge of tracked requesters is registered with it.
func NewRequesterLimiter(cfg LimiterConfig, reg prometheus.Registerer) *RequesterLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultRequesterMaxAge
	}

	rl := &RequesterLimiter{
		requesters: make(map[string]*requesterEntry),
		limit:      rate.Limit(cfg.Rate),
		burst:      cfg.Burst,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}

	if reg != nil {
		rl.gauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridgemc_api_requesters",
			Help: "Current number of requesters tracked by the intake rate limiter",
		})
		reg.MustRegister(rl.gauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// Allow consumes one token for requester. When no token is available it
// returns false and the delay until the next one.
func (rl *RequesterLimiter) Allow(requester string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.requesters[requester]
	if !ok {
		e = &requesterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.requesters[requester] = e
		rl.updateGauge()
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return true, 0
	}

	r := e.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// Count returns the number of tracked requesters.
func (rl *RequesterLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requesters)
}

// Cleanup drops requesters idle for longer than maxAge.
func (rl *RequesterLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for key, e := range rl.requesters {
		if e.lastSeen.Before(threshold) {
			delete(rl.requesters, key)
		}
	}
	rl.updateGauge()
}

func (rl *RequesterLimiter) updateGauge() {
	if rl.gauge != nil {
		rl.gauge.Set(float64(len(rl.requesters)))
	}
}

func (rl *RequesterLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.maxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it to exit. It is safe to
// call more than once.
func (rl *RequesterLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
	rl.wg.Wait()
}
