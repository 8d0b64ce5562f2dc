// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
)

// newCheckCmd creates the check subcommand.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Long: `Load, validate and compile the configuration without starting anything.
Skipped rule entries are listed as warnings; schema or value errors fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}
			return runCheck(cmd, path)
		},
	}
}

func runCheck(cmd *cobra.Command, path string) error {
	if !fileExists(path) {
		return fmt.Errorf("config file %s not found (run 'bridgemc init' to create one)", path)
	}
	if err := loadEnv(path); err != nil {
		return err
	}

	cfg, err := config.Load(path, nil)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %s", path, config.FormatSchemaError(err))
	}

	snap, err := config.Compile(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: configuration OK (version %s)\n", path, cfg.Version)
	fmt.Fprintf(out, "  limit rules:     %d\n", len(snap.Engine.Rules()))
	fmt.Fprintf(out, "  actor cooldown:  %s\n", snap.ActorCooldown)
	fmt.Fprintf(out, "  global cooldown: %s\n", snap.GlobalCooldown)
	if snap.RequiredRole != "" {
		fmt.Fprintf(out, "  required role:   %s\n", snap.RequiredRole)
	}
	for _, w := range snap.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return nil
}
