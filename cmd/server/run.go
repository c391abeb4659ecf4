package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/events"
	"github.com/Tyrowin/livechat/internal/logging"
	"github.com/Tyrowin/livechat/internal/metrics"
	"github.com/Tyrowin/livechat/internal/presence"
	"github.com/Tyrowin/livechat/internal/server"
	"github.com/Tyrowin/livechat/internal/store"
)

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if rootFlags.listen != "" {
		cfg.Port = rootFlags.listen
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting livechat server", "version", Version, "port", cfg.Port, "store", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeQuietly(logger, "store", st.Close)

	deps := server.StoreDependencies(st)
	deps.Logger = logger

	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewJWT(cfg.Auth.Secret, cfg.Auth.TokenTTL)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}
		deps.Auth = verifier
	}

	if cfg.Redis.Addr != "" {
		tracker, err := presence.NewRedis(ctx, presence.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeQuietly(logger, "redis", tracker.Close)
		deps.Presence = tracker
		deps.Locator = tracker
	}

	if cfg.NATS.URL != "" {
		publisher, err := events.NewNATS(events.Config{
			Servers:       strings.Split(cfg.NATS.URL, ","),
			Name:          "livechat-server",
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer closeQuietly(logger, "nats", publisher.Close)
		deps.Events = publisher
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, nil)
	}

	hub, err := server.NewHub(*cfg, deps)
	if err != nil {
		return err
	}
	hub.Start()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	errc := make(chan error, 1)
	go func() {
		errc <- hub.StartServer(httpServer)
	}()

	select {
	case err := <-errc:
		if err != nil {
			_ = hub.Shutdown(cfg.ShutdownTimeout)
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := hub.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func loadConfig(path string) (*server.Config, error) {
	if path != "" {
		return server.LoadConfig(path)
	}
	cfg := server.NewConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, db server.DatabaseConfig) (chat.Store, error) {
	switch strings.ToLower(db.Driver) {
	case store.DriverPostgres, "postgresql", "pgx":
		return store.OpenPostgres(ctx, store.PostgresConfig{
			URL:      db.URL,
			MinConns: db.MinConns,
			MaxConns: db.MaxConns,
		})
	default:
		return store.Open(ctx, db.Driver, db.URL)
	}
}

func closeQuietly(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("close failed", "resource", name, "error", err)
	}
}
