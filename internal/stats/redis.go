// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package stats

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// Redis defaults.
const (
	DefaultPrefix        = "bridgemc"
	DefaultTTL           = 24 * time.Hour
	DefaultRecordTimeout = 500 * time.Millisecond
)

// Connect opens a client and waits for the server to answer a PING,
// retrying with exponential backoff.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	backoff := retry.WithMaxRetries(4, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = rdb.Close()
		return nil, oops.Code(CodeUnavailable).With("addr", cfg.Addr).Wrapf(err, "connecting to redis")
	}
	return rdb, nil
}

// Redis keeps counters in Redis hashes:
//
//	<prefix>:total          executed|rejected
//	<prefix>:code           <code>
//	<prefix>:minute:<yyyymmddhhmm>  executed|rejected, expiring after the TTL
type Redis struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// RedisOption configures a Redis backend.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if p := strings.Trim(prefix, ":"); p != "" {
			r.prefix = p
		}
	}
}

// WithTTL sets how long minute buckets are kept. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// WithRecordTimeout bounds each Record call.
func WithRecordTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis creates a backend on rdb.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		rdb:     rdb,
		prefix:  DefaultPrefix,
		ttl:     DefaultTTL,
		timeout: DefaultRecordTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record implements gateway.StatsRecorder.
func (r *Redis) Record(ctx context.Context, v gateway.Verdict) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	f := field(v)
	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.key("total"), f, 1)
	pipe.HIncrBy(ctx, r.key("code"), code(v), 1)

	bucket := r.key("minute", minuteBucket(r.now()))
	pipe.HIncrBy(ctx, bucket, f, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucket, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.DebugContext(ctx, "recording verdict stats failed", "error", err)
	}
}

// Summary reads the cumulative counters.
func (r *Redis) Summary(ctx context.Context) (Summary, error) {
	pipe := r.rdb.Pipeline()
	total := pipe.HGetAll(ctx, r.key("total"))
	codes := pipe.HGetAll(ctx, r.key("code"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Summary{}, oops.Code(CodeUnavailable).Wrapf(err, "reading stats")
	}

	s := Summary{Backend: BackendRedis, ByCode: make(map[string]int64)}
	t := total.Val()
	s.Executed = parseCount(t["executed"])
	s.Rejected = parseCount(t["rejected"])
	for k, v := range codes.Val() {
		s.ByCode[k] = parseCount(v)
	}
	return s, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) key(parts ...string) string {
	return r.prefix + ":" + strings.Join(parts, ":")
}

func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
