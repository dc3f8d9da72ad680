package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"schoolroster/internal/api"
	"schoolroster/internal/config"
	"schoolroster/internal/roster"
	"schoolroster/internal/storage"
)

const defaultConfigFile = "config.toml"

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg := config.Default()
	var cfgPath string

	root := &cobra.Command{
		Use:   "rosterd",
		Short: "HTTP service applying batched student updates to school rosters",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load config file first, then env, then flag overrides.
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = defaultConfigFile
			}

			// Build set of changed flags so explicit flags always win.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if config.FileExists(cfgFile) {
				fc, err := config.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := config.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := config.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			applyLogLevel(cfg.LogLevel, logger)
			logger.Info().Interface("config", cfg).Msg("configuration")

			return run(cfg, cfgFile, logger)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to TOML config file")
	root.Flags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	root.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the changelog")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	root.Flags().BoolVar(&cfg.Seed, "seed", cfg.Seed, "seed a demo school when the store is empty")

	if err := root.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, cfgFile string, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	changelog, stopChangelog, err := storage.NewChangelog(ctx, storage.ChangelogCfg{
		Path:           filepath.Join(cfg.DataDir, "changelog.log"),
		EnqueueTimeout: cfg.ChangelogEnqueueTimeout,
		FlushInterval:  cfg.ChangelogFlushInterval,
		BufferBytes:    cfg.ChangelogBufferBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer stopChangelog()

	store := storage.NewMemStore(changelog)
	if err := store.Replay(changelog.Load()); err != nil {
		return fmt.Errorf("replay changelog: %w", err)
	}

	if cfg.Seed {
		if err := seed(store, logger); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	coordinator := roster.NewCoordinator(store, roster.Config{
		MaxConflictRetries: cfg.MaxConflictRetries,
		MaxStoreRetries:    cfg.MaxStoreRetries,
		BackoffBase:        cfg.BackoffBase,
		BackoffMax:         cfg.BackoffMax,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(coordinator, store, cfg.ApplyTimeout, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Hot-reload the log level when the config file changes.
	if config.FileExists(cfgFile) {
		err := config.WatchFile(ctx, cfgFile, logger, func() {
			fc, err := config.LoadFileConfig(cfgFile)
			if err != nil {
				logger.Warn().Err(err).Msg("config reload failed")
				return
			}
			if fc.LogLevel != "" {
				applyLogLevel(fc.LogLevel, logger)
				logger.Info().Str("log_level", fc.LogLevel).Msg("log level reloaded")
			}
		})
		if err != nil {
			logger.Warn().Err(err).Msg("config watch unavailable")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func applyLogLevel(level string, logger zerolog.Logger) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("log_level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}
