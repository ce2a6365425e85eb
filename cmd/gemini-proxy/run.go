package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fakeyw/gemini-proxy/pkg/cli"
	"github.com/fakeyw/gemini-proxy/pkg/config"
	"github.com/fakeyw/gemini-proxy/pkg/keypool"
	"github.com/fakeyw/gemini-proxy/pkg/keypool/storage"
	"github.com/fakeyw/gemini-proxy/pkg/server"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/logging"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/metrics"
	"github.com/fakeyw/gemini-proxy/pkg/telemetry/tracing"

	// Reset time zones resolve without a system zoneinfo database.
	_ "time/tzdata"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the proxy server",
	Long: `Start the proxy server with the specified configuration.

The server listens on the configured address, serves pooled requests from the
persisted key pool and resets exhaustion and usage on the configured schedule.

Examples:
  # Start from defaults and environment variables
  API_KEYS=key1,key2 PROXY_API_KEY=secret gemini-proxy run

  # Start with a config file and reload it on change
  gemini-proxy run --config /etc/gemini-proxy/config.yaml --watch

  # Override listen address
  gemini-proxy run --listen 0.0.0.0:8080

  # Validate config without starting server
  gemini-proxy run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVarP(&runFlags.watch, "watch", "w", false, "reload the shared secret and log level when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
		if err := config.Validate(cfg); err != nil {
			return cli.NewConfigError("proxy.listen_address", err.Error())
		}
	}

	logger, err := newLogger(cfg.Telemetry.Logging, nil)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	return serve(ctx, cfg, logger, cmd.OutOrStdout())
}

// serve runs the proxy until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) error {
	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to open key pool storage: %w", err))
	}
	defer backend.Close()

	pool := keypool.New(backend, keypool.ParseKeys(cfg.KeyPool.APIKeys),
		keypool.WithStateKey(cfg.KeyPool.StateKey),
		keypool.WithLogger(logger.Logger),
	)

	// Load eagerly so a broken store fails startup instead of the first request.
	size, err := pool.Size(ctx)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if size == 0 && cfg.Proxy.APIKey != "" {
		logger.Warn("shared secret is set but the key pool is empty; pooled requests will fail")
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}

	srv, err := server.New(cfg, server.Options{
		Pool:    pool,
		Metrics: metrics.NewCollector(&cfg.Telemetry.Metrics, nil),
		Tracer:  tracer,
		Logger:  logger.Logger,
	})
	if err != nil {
		_ = tracer.Shutdown(context.Background())
		return cli.NewConfigError("", err.Error())
	}

	if runFlags.watch && cfgFile != "" {
		go watchConfig(ctx, cfgFile, srv, logger)
	}

	fmt.Fprintf(out, "gemini-proxy v%s\n", Version)
	fmt.Fprintf(out, "✓ Key pool loaded (%d keys, storage: %s)\n", size, cfg.Storage.Backend)
	fmt.Fprintf(out, "✓ Listening on %s\n", cfg.Proxy.ListenAddress)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// effectiveLogLevel applies the --verbose and --log-level flags on top of
// the configured level.
func effectiveLogLevel(configured string) string {
	switch {
	case verbose:
		return "debug"
	case runFlags.logLevel != "":
		return runFlags.logLevel
	default:
		return configured
	}
}

// newLogger builds the process logger. A nil w logs to stdout.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:     effectiveLogLevel(cfg.Level),
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
		Writer:    w,
	})
}

type secretSetter interface {
	SetSharedSecret(secret string)
}

type levelSetter interface {
	SetLevel(level string) error
}

// applyReload pushes the hot-reloadable settings of next into the running
// process. Other changes take effect on restart.
func applyReload(srv secretSetter, levels levelSetter, next *config.Config, logger *slog.Logger) {
	config.SetConfig(next)
	srv.SetSharedSecret(next.Proxy.APIKey)

	if err := levels.SetLevel(effectiveLogLevel(next.Telemetry.Logging.Level)); err != nil {
		logger.Error("failed to apply reloaded log level", "error", err)
	}

	logger.Info("applied reloaded configuration",
		"pooled_mode", next.Proxy.APIKey != "",
		"log_level", effectiveLogLevel(next.Telemetry.Logging.Level),
	)
}

func watchConfig(ctx context.Context, path string, srv *server.Server, logger *logging.Logger) {
	watcher, err := config.NewWatcher(path, 0, logger.Logger)
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}

	err = watcher.Watch(ctx, func(next *config.Config) {
		applyReload(srv, logger, next, logger.Logger)
	})
	if err != nil {
		logger.Error("config watcher stopped", "error", err)
	}
}
