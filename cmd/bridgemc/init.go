// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/xdg"
)

// newInitCmd creates the init subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}
			if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := config.WriteDefault(path, force); err != nil {
				if force {
					return fmt.Errorf("failed to write config: %w", err)
				}
				return fmt.Errorf("failed to write config (use --force to overwrite): %w", err)
			}
			cmd.Printf("Wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
