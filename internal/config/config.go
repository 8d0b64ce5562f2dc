// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package config loads the bridgemc YAML configuration and compiles it into
// immutable snapshots that are swapped atomically on reload.
package config

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/validation"
)

// Error codes.
const (
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeUnsupportedVersion = "UNSUPPORTED_CONFIG_VERSION"
	CodeLoadFailed         = "CONFIG_LOAD_FAILED"
)

// CurrentVersion is written into newly generated configuration files.
const CurrentVersion = "1.0.0"

// SupportedVersions is the constraint a file's version must satisfy.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

// DefaultImpersonation wraps a command so it runs as a player.
const DefaultImpersonation = "execute as {actor} at @s run {command}"

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return oops.Code(CodeInvalidConfig).With("value", string(text)).Wrap(err)
	}
	*d = Duration(parsed)
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration, e.g. 100ms, 15s, 1m30s",
	}
}

// Config is the on-disk configuration.
type Config struct {
	Version       string              `koanf:"version" yaml:"version" json:"version" validate:"required" jsonschema:"description=Configuration format version (semver)"`
	Server        ServerConfig        `koanf:"server" yaml:"server" json:"server"`
	Gateway       GatewayConfig       `koanf:"gateway" yaml:"gateway" json:"gateway"`
	Cooldowns     CooldownConfig      `koanf:"cooldowns" yaml:"cooldowns" json:"cooldowns"`
	Filters       FilterConfig        `koanf:"filters" yaml:"filters" json:"filters"`
	Identity      IdentityConfig      `koanf:"identity" yaml:"identity" json:"identity"`
	API           APIConfig           `koanf:"api" yaml:"api" json:"api"`
	Observability ObservabilityConfig `koanf:"observability" yaml:"observability" json:"observability"`
	Stats         StatsConfig         `koanf:"stats" yaml:"stats" json:"stats"`
	Log           LogConfig           `koanf:"log" yaml:"log" json:"log"`
}

// ServerConfig describes the game server child process.
type ServerConfig struct {
	Command []string `koanf:"command" yaml:"command" json:"command" validate:"required,min=1" jsonschema:"description=Server command line, e.g. [java, -jar, server.jar, nogui]"`
	Dir     string   `koanf:"dir" yaml:"dir" json:"dir,omitempty"`
	Tick    Duration `koanf:"tick" yaml:"tick" json:"tick" validate:"gt=0"`
}

// GatewayConfig controls request handling.
type GatewayConfig struct {
	RequiredRole   string   `koanf:"required_role" yaml:"required_role" json:"required_role,omitempty" jsonschema:"description=Role a requester must hold; empty disables the check"`
	CaptureWindow  Duration `koanf:"capture_window" yaml:"capture_window" json:"capture_window" validate:"gt=0"`
	Impersonation  string   `koanf:"impersonation" yaml:"impersonation" json:"impersonation" validate:"required,contains={command}"`
	FailureMarkers []string `koanf:"failure_markers" yaml:"failure_markers" json:"failure_markers,omitempty" jsonschema:"description=Extra glob markers treated as failure evidence"`
}

// CooldownConfig holds cooldown durations.
type CooldownConfig struct {
	Actor          Duration `koanf:"actor" yaml:"actor" json:"actor" validate:"gte=0"`
	Global         Duration `koanf:"global" yaml:"global" json:"global" validate:"gte=0"`
	Tick           Duration `koanf:"tick" yaml:"tick" json:"tick" validate:"gt=0"`
	AvailableFor   Duration `koanf:"available_for" yaml:"available_for" json:"available_for" validate:"gt=0"`
	CooldownLabel  string   `koanf:"cooldown_label" yaml:"cooldown_label" json:"cooldown_label,omitempty"`
	AvailableLabel string   `koanf:"available_label" yaml:"available_label" json:"available_label,omitempty"`
}

// FilterConfig holds allow/deny lists and numeric limit rules.
type FilterConfig struct {
	CommandWhitelist []string          `koanf:"command_whitelist" yaml:"command_whitelist" json:"command_whitelist,omitempty"`
	CommandBlacklist []string          `koanf:"command_blacklist" yaml:"command_blacklist" json:"command_blacklist,omitempty"`
	PlayersWhitelist []string          `koanf:"players_whitelist" yaml:"players_whitelist" json:"players_whitelist,omitempty"`
	PlayersBlacklist []string          `koanf:"players_blacklist" yaml:"players_blacklist" json:"players_blacklist,omitempty"`
	CommandLimits    []LimitRuleConfig `koanf:"command_limits" yaml:"command_limits" json:"command_limits,omitempty"`
}

// LimitRuleConfig is one {pattern, limits} entry. Limits map a 0-based token
// index to a range written "min..max" or "n".
type LimitRuleConfig struct {
	Pattern string            `koanf:"pattern" yaml:"pattern" json:"pattern"`
	Limits  map[string]string `koanf:"limits" yaml:"limits" json:"limits,omitempty"`
}

// IdentityConfig maps requester IDs to the roles they hold.
type IdentityConfig struct {
	Roles map[string][]string `koanf:"roles" yaml:"roles" json:"roles,omitempty"`
}

// APIConfig configures the HTTP intake API.
type APIConfig struct {
	Listen  string   `koanf:"listen" yaml:"listen" json:"listen" validate:"required,hostname_port"`
	Token   string   `koanf:"token" yaml:"token,omitempty" json:"token,omitempty" jsonschema:"description=Bearer token; prefer BRIDGEMC_API_TOKEN"`
	Rate    float64  `koanf:"rate" yaml:"rate" json:"rate" validate:"gt=0" jsonschema:"description=Requests per second per requester"`
	Burst   int      `koanf:"burst" yaml:"burst" json:"burst" validate:"gte=1"`
	Timeout Duration `koanf:"timeout" yaml:"timeout" json:"timeout" validate:"gt=0"`
	Origins []string `koanf:"cors_origins" yaml:"cors_origins,omitempty" json:"cors_origins,omitempty" jsonschema:"description=Browser origins allowed to call the API"`
}

// ObservabilityConfig configures the metrics and health server.
type ObservabilityConfig struct {
	Listen string `koanf:"listen" yaml:"listen" json:"listen,omitempty" jsonschema:"description=Metrics address; empty disables"`
}

// StatsConfig selects the verdict statistics backend.
type StatsConfig struct {
	Backend string      `koanf:"backend" yaml:"backend" json:"backend" validate:"oneof=none memory redis" jsonschema:"enum=none,enum=memory,enum=redis"`
	Redis   RedisConfig `koanf:"redis" yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis stats backend.
type RedisConfig struct {
	Addr     string   `koanf:"addr" yaml:"addr" json:"addr,omitempty"`
	Password string   `koanf:"password" yaml:"password,omitempty" json:"password,omitempty" jsonschema:"description=Prefer BRIDGEMC_REDIS_PASSWORD"`
	DB       int      `koanf:"db" yaml:"db" json:"db" validate:"gte=0"`
	Prefix   string   `koanf:"prefix" yaml:"prefix" json:"prefix,omitempty"`
	TTL      Duration `koanf:"ttl" yaml:"ttl" json:"ttl" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format" validate:"oneof=json text" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" json:"level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// Default returns the configuration written by "bridgemc init".
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			Command: []string{"java", "-Xmx2G", "-jar", "server.jar", "nogui"},
			Dir:     ".",
			Tick:    Duration(50 * time.Millisecond),
		},
		Gateway: GatewayConfig{
			CaptureWindow: Duration(100 * time.Millisecond),
			Impersonation: DefaultImpersonation,
		},
		Cooldowns: CooldownConfig{
			Actor:        Duration(15 * time.Second),
			Global:       Duration(15 * time.Second),
			Tick:         Duration(100 * time.Millisecond),
			AvailableFor: Duration(3 * time.Second),
		},
		Filters: FilterConfig{
			CommandBlacklist: []string{"op", "deop", "stop", "ban", "ban-ip", "whitelist", "reload"},
			CommandLimits: []LimitRuleConfig{
				{Pattern: "/tp * * * *", Limits: map[string]string{"2": "-500..500", "3": "0..320", "4": "-500..500"}},
				{Pattern: "/effect * * * * *", Limits: map[string]string{"4": "0..120", "5": "0..50"}},
				{Pattern: "/give * * *", Limits: map[string]string{"3": "1..64"}},
			},
		},
		API: APIConfig{
			Listen:  "127.0.0.1:8340",
			Rate:    1,
			Burst:   5,
			Timeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			Listen: "127.0.0.1:9340",
		},
		Stats: StatsConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "bridgemc",
				TTL:    Duration(24 * time.Hour),
			},
		},
		Log: LogConfig{Format: "json", Level: "info"},
	}
}

// Validate checks field constraints and the format version.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}
	return checkVersion(c.Version)
}

func checkVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return oops.Code(CodeUnsupportedVersion).
			With("version", v).
			Wrapf(err, "config version %q is not a semantic version", v)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return oops.Code(CodeUnsupportedVersion).Wrap(err)
	}
	if !constraint.Check(version) {
		return oops.Code(CodeUnsupportedVersion).
			With("version", v).
			With("supported", SupportedVersions).
			Errorf("config version %s is not supported (want %s)", v, SupportedVersions)
	}
	return nil
}
