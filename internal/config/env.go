// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
)

// Environment variables carrying secrets.
const (
	EnvAPIToken      = "BRIDGEMC_API_TOKEN"
	EnvRedisPassword = "BRIDGEMC_REDIS_PASSWORD"
)

// LoadDotEnv loads each existing env file into the process environment.
// Variables already set are not overridden; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return oops.Code(CodeLoadFailed).With("path", p).Wrapf(err, "loading env file")
		}
	}
	return nil
}

// ApplyEnv overrides secrets in cfg from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Stats.Redis.Password = v
	}
}
