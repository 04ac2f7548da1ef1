package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/eventlog"
	"github.com/parleyhq/parley/internal/history"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/observability"
	"github.com/parleyhq/parley/internal/relay"
	"github.com/parleyhq/parley/internal/session"
)

// Server timeouts. WriteTimeout stays long because SSE turns stream for
// minutes; MaxTurnDuration bounds them below it.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{JSON: cfg.Environment != "dev"})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("flushing traces", "error", err)
			}
		}()
	}

	var (
		sessions session.Store
		events   eventlog.Log
		pool     *pgxpool.Pool
	)
	if cfg.Mode == config.ModeManaged {
		if err := db.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		pool, err = pgxpool.New(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("creating connection pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		// Anonymous actors stay on non-durable state even in managed mode.
		sessions = session.NewRoutingStore(api.AnonymousActor,
			session.NewMemoryStore(),
			session.NewPostgresStore(pool, logger.With("component", "session")))
		events = eventlog.NewRoutingLog(api.AnonymousActor,
			eventlog.NewMemoryLog(),
			eventlog.NewPostgresLog(pool, logger.With("component", "eventlog")))
	} else {
		// Local mode: nothing survives a restart, which is exactly the
		// contract for anonymous use.
		sessions = session.NewMemoryStore()
		events = eventlog.NewMemoryLog()
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	recon := history.NewReconstructor(events, cfg.HistoryLimit, logger.With("component", "history"))
	invoker := agent.NewAnthropic(agent.AnthropicConfig{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.AnthropicModel,
	}, events, recon, logger.With("component", "agent"))
	rly := relay.New(relay.Config{
		KeepAlivePeriod: cfg.KeepAlivePeriod,
		MaxTurnDuration: cfg.MaxTurnDuration,
	}, invoker, sessions, logger.With("component", "relay"))

	server, err := api.NewServer(api.ServerConfig{
		Logger:        logger.With("component", "api"),
		Relay:         rly,
		SessionStore:  sessions,
		Reconstructor: recon,
		Metrics:       m,
		Pool:          pool,
		CORSOrigins:   cfg.CORSOrigins,
		TrustProxy:    cfg.TrustProxy,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("server ready",
		"addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"api", "/api/v1/*",
		"health", "/healthz, /readyz",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
