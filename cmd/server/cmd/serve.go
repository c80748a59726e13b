package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/api"
	"github.com/Togather-Foundation/eventsite/internal/auth"
	"github.com/Togather-Foundation/eventsite/internal/cache"
	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/Togather-Foundation/eventsite/internal/session"
	"github.com/Togather-Foundation/eventsite/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	host string
	port int
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the eventsite HTTP server",
		Long: `Start the eventsite HTTP server and begin accepting requests.

The server will:
- Load configuration from environment variables (and --config when given)
- Serve homepage snapshots and the OTP login API
- Expire idle sessions and their cached snapshots in the background
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with configuration from the environment
  eventsite serve

  # Start on a specific host and port
  eventsite serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  eventsite serve --log-level debug --log-format console`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if opts.host != "" {
				cfg.Server.Host = opts.host
			}
			if opts.port != 0 {
				cfg.Server.Port = opts.port
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting eventsite")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	svc := newServices(cfg, logger)

	sessions := session.NewManager(cfg.Session, logger,
		session.WithSecureCookies(cfg.Environment == "production"))
	sessions.OnEnd(svc.homepage.InvalidateSession)

	authService := auth.NewService(svc.api, cfg.Auth, cfg.Session.IdleTTL, logger)

	router := api.NewRouter(api.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Homepage:  svc.homepage,
		Auth:      authService,
		Sessions:  sessions,
		Probe:     svc.catalog,
		Version:   Version,
		GitCommit: GitCommit,
	})
	defer router.Close()

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	go sessions.Run(bgCtx)
	go purgeSnapshots(bgCtx, svc.snapshots, cfg.Session.SweepInterval, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Homepage.Timeout + 10*time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	return gracefulShutdown(server, logger)
}

// purgeSnapshots drops expired snapshots so sessions that never come back do
// not pin memory.
func purgeSnapshots(ctx context.Context, store *cache.Store[*homepage.Snapshot], every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Purge(); n > 0 {
				logger.Debug().Int("count", n).Msg("purged expired homepage snapshots")
			}
		}
	}
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
