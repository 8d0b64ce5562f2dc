// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package config

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// CodeConfigExists is returned by WriteDefault when the file already exists.
const CodeConfigExists = "CONFIG_EXISTS"

const defaultHeader = `# bridgemc configuration.
# Limit indices are 0-based token positions; ranges are "min..max" or "n".
# Secrets can be supplied via BRIDGEMC_API_TOKEN and BRIDGEMC_REDIS_PASSWORD.
`

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, oops.Wrapf(err, "encoding config")
	}
	if err := enc.Close(); err != nil {
		return nil, oops.Wrapf(err, "encoding config")
	}
	return buf.Bytes(), nil
}

// WriteDefault writes Default() to path, creating parent directories. An
// existing file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return oops.Code(CodeConfigExists).With("path", path).Errorf("config file already exists")
		} else if !errors.Is(err, fs.ErrNotExist) {
			return oops.With("path", path).Wrap(err)
		}
	}

	data, err := Marshal(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return oops.With("path", path).Wrapf(err, "creating config directory")
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600); err != nil {
		return oops.With("path", path).Wrapf(err, "writing config")
	}
	return nil
}
