// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NyaDerator/DiscordBridgeMC/internal/api"
	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
	timeout    time.Duration
}

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running bridge",
		Long:  `Query the API of a running bridge for its configuration, players and cooldowns.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "API address (default: api.listen from the config)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 5*time.Second, "request timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, sc *statusConfig) error {
	addr, token := sc.addr, os.Getenv(config.EnvAPIToken)
	if path, err := resolveConfigPath(); err == nil && fileExists(path) {
		if err := loadEnv(path); err != nil {
			return err
		}
		if cfg, err := config.Load(path, nil); err == nil {
			if addr == "" {
				addr = cfg.API.Listen
			}
			token = cfg.API.Token
		}
	}
	if addr == "" {
		addr = config.Default().API.Listen
	}

	status, err := fetchStatus(cmd.Context(), addr, token, sc.timeout)
	if err != nil {
		return err
	}

	if sc.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

// fetchStatus calls GET /v1/status on addr.
func fetchStatus(ctx context.Context, addr, token string, timeout time.Duration) (*api.StatusResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bridge not reachable at %s: %w", addr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != "" {
			return nil, fmt.Errorf("status request failed: %s (%s)", apiErr.Reason, apiErr.Code)
		}
		return nil, fmt.Errorf("status request failed: HTTP %d", resp.StatusCode)
	}

	var status api.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("invalid status response: %w", err)
	}
	return &status, nil
}

// formatStatusTable renders status as aligned key/value rows.
func formatStatusTable(s *api.StatusResponse) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "VERSION\t%s\n", valueOr(s.Version, "unknown"))
	if s.Server != nil {
		fmt.Fprintf(w, "SERVER\t%s\n", serverState(s.Server))
	}
	fmt.Fprintf(w, "CONFIG\tgeneration %d, %d rules, loaded %s\n",
		s.Config.Generation, s.Config.Rules, s.Config.LoadedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "PLAYERS\t%d online\n", s.Players)
	fmt.Fprintf(w, "GLOBAL COOLDOWN\t%s\n", time.Duration(s.Cooldowns.GlobalMS)*time.Millisecond)

	actors := make([]string, 0, len(s.Cooldowns.Actors))
	for a := range s.Cooldowns.Actors {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	for _, a := range actors {
		fmt.Fprintf(w, "COOLDOWN\t%s %s\n", a, time.Duration(s.Cooldowns.Actors[a])*time.Millisecond)
	}

	if s.Stats != nil {
		fmt.Fprintf(w, "STATS\t%s: %d executed, %d rejected\n", s.Stats.Backend, s.Stats.Executed, s.Stats.Rejected)
	}
	for _, warning := range s.Config.Warnings {
		fmt.Fprintf(w, "WARNING\t%s\n", warning)
	}

	_ = w.Flush()
	return b.String()
}

func serverState(s *api.ServerStatus) string {
	switch {
	case s.Ready:
		return "ready"
	case s.Running:
		return "starting"
	default:
		return "stopped"
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
