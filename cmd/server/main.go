package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-sync/internal/broadcast"
	"github.com/example/ride-sync/internal/cache"
	"github.com/example/ride-sync/internal/config"
	"github.com/example/ride-sync/internal/coordinator"
	httpapi "github.com/example/ride-sync/internal/http"
	"github.com/example/ride-sync/internal/ingest"
	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/rooms"
	"github.com/example/ride-sync/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.New(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var store storage.RiderStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory rider store")
		store = storage.NewMemoryStore()
	}

	registry := rooms.NewRegistry()
	hub := broadcast.NewHub(registry, logging.WithComponent(logger, "hub"))

	var (
		locations cache.Locations
		router    broadcast.Router
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		locations = cache.NewRedisLocations(rc, logging.WithComponent(logger, "cache"))
		rr := broadcast.NewRedisRouter(hub, rc, cfg.PubSubChannel, logging.WithComponent(logger, "router"))
		go rr.Run(ctx)
		router = rr
	} else {
		logger.Warn("REDIS_ADDR not set, running single-process with in-memory cache")
		locations = cache.NewMemoryLocations()
		router = &broadcast.LocalRouter{Hub: hub}
	}

	coord := &coordinator.Coordinator{
		Store:     store,
		Locations: locations,
		Rooms:     registry,
		Router:    router,
		Logger:    logging.WithComponent(logger, "coordinator"),
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		coord.Firehose = kp
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(coord, hub, logging.WithComponent(logger, "http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("ride-sync listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_riders.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
