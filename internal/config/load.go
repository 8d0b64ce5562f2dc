// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package config

import (
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Load reads the YAML file at path, validates it against the JSON schema,
// applies CLI overrides from flags (may be nil) and environment secrets, and
// fills defaults for omitted scalar settings.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).With("path", path).Wrapf(err, "reading config")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrap(err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
		return nil, oops.Code(CodeLoadFailed).With("path", path).Wrapf(err, "parsing config")
	}
	if flags != nil {
		// Only flags set on the command line override the file.
		changed := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(flags, f)
		})
		if err := k.Load(changed, nil); err != nil {
			return nil, oops.Code(CodeLoadFailed).Wrapf(err, "applying flag overrides")
		}
	}

	var cfg Config
	if err := unmarshal(k, &cfg); err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrap(err)
	}

	fillDefaults(k, &cfg)
	ApplyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshal(k *koanf.Koanf, cfg *Config) error {
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	})
}

// fillDefaults sets omitted scalar settings. Lists are left alone: an empty
// list is a meaningful setting.
func fillDefaults(k *koanf.Koanf, cfg *Config) {
	def := Default()

	setDuration := func(key string, dst *Duration, v Duration) {
		if !k.Exists(key) {
			*dst = v
		}
	}
	setDuration("server.tick", &cfg.Server.Tick, def.Server.Tick)
	setDuration("gateway.capture_window", &cfg.Gateway.CaptureWindow, def.Gateway.CaptureWindow)
	setDuration("cooldowns.actor", &cfg.Cooldowns.Actor, def.Cooldowns.Actor)
	setDuration("cooldowns.global", &cfg.Cooldowns.Global, def.Cooldowns.Global)
	setDuration("cooldowns.tick", &cfg.Cooldowns.Tick, def.Cooldowns.Tick)
	setDuration("cooldowns.available_for", &cfg.Cooldowns.AvailableFor, def.Cooldowns.AvailableFor)
	setDuration("api.timeout", &cfg.API.Timeout, def.API.Timeout)
	setDuration("stats.redis.ttl", &cfg.Stats.Redis.TTL, def.Stats.Redis.TTL)

	setString := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setString(&cfg.Gateway.Impersonation, def.Gateway.Impersonation)
	setString(&cfg.API.Listen, def.API.Listen)
	setString(&cfg.Stats.Backend, def.Stats.Backend)
	setString(&cfg.Stats.Redis.Addr, def.Stats.Redis.Addr)
	setString(&cfg.Stats.Redis.Prefix, def.Stats.Redis.Prefix)
	setString(&cfg.Log.Format, def.Log.Format)
	setString(&cfg.Log.Level, def.Log.Level)

	if !k.Exists("observability.listen") {
		cfg.Observability.Listen = def.Observability.Listen
	}
	if len(cfg.Server.Command) == 0 {
		cfg.Server.Command = def.Server.Command
	}
	if cfg.API.Rate == 0 {
		cfg.API.Rate = def.API.Rate
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = def.API.Burst
	}
}

// Watch calls onChange whenever the file at path changes. The returned stop
// function ends the watch.
func Watch(path string, onChange func(), onError func(error)) (stop func() error, err error) {
	provider := file.Provider(path)
	// Editors often write files in bursts; coalesce events.
	var last time.Time
	err = provider.Watch(func(_ any, werr error) {
		if werr != nil {
			if onError != nil {
				onError(werr)
			}
			return
		}
		if now := time.Now(); now.Sub(last) > 250*time.Millisecond {
			last = now
			onChange()
		}
	})
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).With("path", path).Wrapf(err, "watching config")
	}
	return provider.Unwatch, nil
}
