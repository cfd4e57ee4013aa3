package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"textonly/internal/config"
	"textonly/internal/domain"
	"textonly/internal/httpserver"
	"textonly/internal/metrics"
	"textonly/internal/presence"
	"textonly/internal/realtime"
	"textonly/internal/security"
	"textonly/internal/service"
	"textonly/internal/store/postgres"
	"textonly/internal/store/sqlite"
	"textonly/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

type repositories struct {
	users    domain.UserRepository
	channels domain.ChannelRepository
	messages domain.MessageRepository
}

func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN())
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:    postgres.NewUserRepo(db),
			channels: postgres.NewChannelRepo(db),
			messages: postgres.NewMessageRepo(db),
		}, nil
	default:
		db, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			users:    sqlite.NewUserRepo(db),
			channels: sqlite.NewChannelRepo(db),
			messages: sqlite.NewMessageRepo(db),
		}, nil
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, repos, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	disp := realtime.NewDispatcher(realtime.NewDirectory(),
		realtime.WithQueueSize(cfg.WebSocket.QueueSize),
		realtime.WithLogger(logger),
		realtime.WithMetrics(m),
	)
	registry := presence.NewRegistry(repos.users, disp, m)
	stale, err := registry.Reset(context.Background())
	if err != nil {
		return err
	}
	if stale > 0 {
		logger.Info("cleared stale presence", "users", stale)
	}
	msgSvc := service.NewMessageService(repos.messages, disp, m, logger)
	tokens := security.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	hub := ws.NewHub(registry, logger)
	live := ws.NewHandler(disp, hub, tokens, repos.users, msgSvc, registry, ws.Options{
		AllowedOrigins:  cfg.CORSOrigins,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod(),
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		RatePerSec:      cfg.WebSocket.RatePerSec,
		RateBurst:       cfg.WebSocket.RateBurst,
	}, logger)

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	router := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Tokens:   tokens,
		Users:    repos.users,
		Messages: msgSvc,
		Channels: service.NewChannelService(repos.channels),
		Presence: registry,
		Live:     live,
		Metrics:  metricsHandler,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr(), "driver", cfg.Database.Driver, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-stop:
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown does not track hijacked websocket connections.
	shutdownErr := srv.Shutdown(ctx)
	closed := disp.CloseAll()
	if _, err := registry.Reset(ctx); err != nil {
		logger.Error("reset presence", "err", err)
	}
	logger.Info("sessions closed", "count", closed)

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown: %w", shutdownErr)
	}
	return nil
}
