// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFile    string
)

// NewRootCmd creates the root command for the bridgemc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridgemc",
		Short: "bridgemc - run chat-requested commands on a Minecraft server",
		Long: `bridgemc wraps a Minecraft server process and accepts console commands
from chat bots over HTTP. Each request is checked against roles, allow and deny
lists, numeric argument limits and cooldowns before it is run, and the server's
own output decides whether it succeeded.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/bridgemc/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// resolveConfigPath returns --config, or the XDG default when unset.
func resolveConfigPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	path, err := xdg.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	return path, nil
}

// loadEnv loads --env-file and a .env next to the config file. Values already
// in the environment win.
func loadEnv(configPath string) error {
	paths := []string{envFile, filepath.Join(filepath.Dir(configPath), ".env")}
	if err := config.LoadDotEnv(paths...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bridgemc version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Printf("bridgemc %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
