// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/NyaDerator/DiscordBridgeMC/internal/api"
	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/cooldown"
	"github.com/NyaDerator/DiscordBridgeMC/internal/diagnostic"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/identity"
	"github.com/NyaDerator/DiscordBridgeMC/internal/logging"
	"github.com/NyaDerator/DiscordBridgeMC/internal/observability"
	"github.com/NyaDerator/DiscordBridgeMC/internal/stats"
	"github.com/NyaDerator/DiscordBridgeMC/internal/target"
	"github.com/NyaDerator/DiscordBridgeMC/internal/tick"
	"github.com/NyaDerator/DiscordBridgeMC/pkg/errutil"
)

// serveConfig holds flags of the serve command that are not config overrides.
type serveConfig struct {
	watch        bool
	console      bool
	stopTimeout  time.Duration
	shutdownWait time.Duration
}

// Default values for serve flags.
const (
	defaultStopTimeout  = 60 * time.Second
	defaultShutdownWait = 5 * time.Second
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cfg := &serveConfig{}
	overrides := configOverrides()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the game server and the command API",
		Long: `Start the configured game server as a child process, mirror its output,
and serve the command intake API. SIGHUP reloads the configuration; SIGINT and
SIGTERM stop the server gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, path, overrides, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.watch, "watch", true, "reload the configuration when the file changes")
	cmd.Flags().BoolVar(&cfg.console, "console", true, "forward stdin lines to the server console")
	cmd.Flags().DurationVar(&cfg.stopTimeout, "stop-timeout", defaultStopTimeout, "time to wait for the server to stop before terminating it")
	cmd.Flags().DurationVar(&cfg.shutdownWait, "shutdown-timeout", defaultShutdownWait, "time allowed for HTTP servers to drain")
	cmd.Flags().AddFlagSet(overrides)

	return cmd
}

// configOverrides declares flags named after config keys. Only flags set on
// the command line override the file.
func configOverrides() *pflag.FlagSet {
	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	fs.String("api.listen", "", "API listen address")
	fs.String("observability.listen", "", "metrics listen address")
	fs.String("log.format", "", "log format (json or text)")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	fs.String("stats.backend", "", "stats backend (none, memory, redis)")
	return fs
}

// runServe wires every component and blocks until shutdown.
func runServe(ctx context.Context, cmd *cobra.Command, path string, overrides *pflag.FlagSet, sc *serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := loadEnv(path); err != nil {
		return err
	}

	cfg, err := config.Load(path, overrides)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %s", path, config.FormatSchemaError(err))
	}

	logger := logging.SetDefault("bridgemc", version, cfg.Log.Format, cfg.Log.Level)

	snap, err := config.Compile(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	holder := config.NewHolder(snap)
	reloader := config.NewReloader(path, overrides, holder, logger)

	logger.Info("starting bridgemc",
		"config", path,
		"server_command", strings.Join(cfg.Server.Command, " "),
		"api_addr", cfg.API.Listen,
		"rules", len(snap.Engine.Rules()),
		"warnings", len(snap.Warnings))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Metrics go to the observability registry when it is served, otherwise
	// to a private registry nobody scrapes.
	var (
		obsServer *observability.Server
		reg       prometheus.Registerer = prometheus.NewRegistry()
	)

	loop := tick.New(cfg.Server.Tick.D(), tick.WithLogger(logger))

	stream := diagnostic.NewStream()
	process, err := target.NewProcess(cfg.Server.Command, stream,
		target.WithDir(cfg.Server.Dir),
		target.WithMirror(cmd.OutOrStdout()),
		target.WithScheduler(loop),
		target.WithProcessLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("invalid server command: %w", err)
	}

	if cfg.Observability.Listen != "" {
		obsServer = observability.NewServer(cfg.Observability.Listen, process.Ready, observability.WithLogger(logger))
		reg = obsServer.Registry()
	}

	directory := target.NewDirectory(target.WithPlayersGauge(reg))
	dirToken := directory.Attach(stream)
	defer stream.Unsubscribe(dirToken)

	loop.Start()

	store := cooldown.New(
		cooldown.WithSink(target.NewBossBarSink(process, loop)),
		cooldown.WithTickInterval(cfg.Cooldowns.Tick.D()),
		cooldown.WithAvailableFor(cfg.Cooldowns.AvailableFor.D()),
		cooldown.WithLabels(cfg.Cooldowns.CooldownLabel, cfg.Cooldowns.AvailableLabel),
		cooldown.WithRegisterer(reg),
		cooldown.WithLogger(logger),
	)
	defer store.Close()

	backend, err := stats.Open(ctx, cfg.Stats, logger)
	if err != nil {
		errutil.LogError(logger, "stats backend unavailable, verdicts will not be counted", err)
		backend = stats.Nop{}
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Debug("error closing stats backend", "error", closeErr)
		}
	}()

	gw, err := gateway.New(gateway.Deps{
		Executor:  process,
		Scheduler: loop,
		Directory: directory,
		Identity:  identity.NewStatic(holder),
		Config:    holder,
		Cooldowns: store,
		Stream:    stream,
	},
		gateway.WithStats(backend),
		gateway.WithLogger(logger),
		gateway.WithMinCaptureWindow(loop.Interval()),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	apiOpts := []api.Option{
		api.WithToken(cfg.API.Token),
		api.WithTimeout(cfg.API.Timeout.D()),
		api.WithCORSOrigins(cfg.API.Origins),
		api.WithLimiter(api.NewRequesterLimiter(api.LimiterConfig{Rate: cfg.API.Rate, Burst: cfg.API.Burst}, reg)),
		api.WithVersion(version),
		api.WithLogger(logger),
	}
	if obsServer != nil {
		apiOpts = append(apiOpts, api.WithRequestCounter(obsServer.Metrics().RequestsTotal))
	}
	apiServer, err := api.NewServer(cfg.API.Listen, api.Deps{
		Gateway:   gw,
		Config:    holder,
		Reloader:  reloader,
		Players:   directory,
		Cooldowns: store,
		Server:    process,
		Stats:     backend,
	}, apiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}
	if cfg.API.Token == "" {
		logger.Warn("api token is not set; every caller is trusted", "env", config.EnvAPIToken)
	}

	if err := process.Start(); err != nil {
		stopLoop(loop, logger)
		return fmt.Errorf("failed to start server: %w", err)
	}

	var httpServers []stoppable
	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdown(process, loop, httpServers, sc, logger)
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		httpServers = append(httpServers, obsServer)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		shutdown(process, loop, httpServers, sc, logger)
		return fmt.Errorf("failed to start api server: %w", err)
	}
	httpServers = append([]stoppable{apiServer}, httpServers...)
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	if sc.watch {
		unwatch, err := config.Watch(path, func() {
			_, _ = reloader.Reload(ctx)
		}, func(err error) {
			logger.Warn("config watch error", "error", err)
		})
		if err != nil {
			logger.Warn("config file watch disabled", "error", err)
		} else {
			defer func() { _ = unwatch() }()
		}
	}

	if sc.console {
		go forwardConsole(ctx, cmd.InOrStdin(), process, loop, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	cmd.Println("bridgemc started")

	var serverErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				_, _ = reloader.Reload(ctx)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig.String())
			break wait
		case <-process.Done():
			serverErr = process.Err()
			logger.Info("game server exited, shutting down")
			break wait
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			break wait
		}
	}

	shutdown(process, loop, httpServers, sc, logger)
	logger.Info("shutdown complete")

	if serverErr != nil {
		return fmt.Errorf("game server exited: %w", serverErr)
	}
	return nil
}

type stoppable interface {
	Stop(ctx context.Context) error
}

// shutdown stops intake first, then the game server, then the tick loop.
func shutdown(process *target.Process, loop *tick.Loop, servers []stoppable, sc *serveConfig, logger *slog.Logger) {
	httpCtx, httpCancel := context.WithTimeout(context.Background(), sc.shutdownWait)
	defer httpCancel()
	for _, s := range servers {
		if err := s.Stop(httpCtx); err != nil {
			logger.Warn("error stopping http server", "error", err)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), sc.stopTimeout)
	defer stopCancel()
	if err := process.Stop(stopCtx); err != nil {
		errutil.LogError(logger, "game server did not stop cleanly", err)
	}

	stopLoop(loop, logger)
}

func stopLoop(loop *tick.Loop, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Stop(ctx); err != nil {
		logger.Warn("tick loop did not stop in time", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a serve error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

// forwardConsole queues each non-empty line of r on sched for the server
// console until r is exhausted or ctx ends.
func forwardConsole(ctx context.Context, r io.Reader, exec gateway.Executor, sched gateway.Scheduler, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := sched.Run(func() {
			if err := exec.Execute(ctx, line); err != nil {
				logger.Warn("console command not delivered", "command", line, "error", err)
			}
		})
		if err != nil {
			logger.Warn("console command not delivered", "command", line, "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("console input closed", "error", err)
	}
}
