package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/solroute-labs/solroute/params"
	"github.com/solroute-labs/solroute/pkg/api"
	"github.com/solroute-labs/solroute/pkg/bus"
	"github.com/solroute-labs/solroute/pkg/engine"
	"github.com/solroute-labs/solroute/pkg/queue"
	"github.com/solroute-labs/solroute/pkg/storage"
	"github.com/solroute-labs/solroute/pkg/util"
	"github.com/solroute-labs/solroute/pkg/venue"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Logging.File)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Logging.File)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.DataDir, "orders"))
	if err != nil {
		sugar.Fatalw("storage_init_failed", "err", err)
	}

	// ---- Status distribution bus ----
	var statusBus bus.Bus
	switch cfg.Bus.Mode {
	case "gossip":
		gb, err := bus.NewGossipBus(ctx, bus.GossipConfig{
			ListenAddr: cfg.Bus.ListenAddr,
			Bootstrap:  cfg.Bus.Bootstrap,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("gossip_bus_init_failed", "err", err)
		}
		statusBus = gb
		sugar.Infow("bus_started", "mode", "gossip", "listen", cfg.Bus.ListenAddr)
	default:
		statusBus = bus.NewMemoryBus()
		sugar.Infow("bus_started", "mode", "memory")
	}

	// ---- Venues ----
	venues := make([]venue.Venue, 0, len(cfg.Venues.Sims))
	for _, vp := range cfg.Venues.Sims {
		venues = append(venues, venue.NewSim(venue.SimConfig{
			Name:         vp.Name,
			Fee:          vp.Fee,
			QuoteDelay:   vp.QuoteDelay,
			VarianceMin:  vp.VarianceMin,
			VarianceMax:  vp.VarianceMax,
			ExecDelayMin: cfg.Venues.ExecutionDelayMin,
			ExecDelayMax: cfg.Venues.ExecutionDelayMax,
		}))
		sugar.Infow("venue_registered", "name", vp.Name, "fee", vp.Fee)
	}
	router := venue.NewRouter(venues, sugar)

	// ---- Queue ----
	q := queue.New(queue.Config{
		Concurrency:        cfg.Queue.Concurrency,
		RateLimit:          cfg.Queue.RateLimit,
		RateWindow:         cfg.Queue.RateWindow,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffBase:        cfg.Queue.BackoffBase,
		BackoffCap:         cfg.Queue.BackoffCap,
		CompletedRetention: cfg.Queue.CompletedRetention,
		FailedRetention:    cfg.Queue.FailedRetention,
		SweepInterval:      time.Minute,
	}, store, sugar)

	// ---- Engine ----
	eng := engine.New(engine.Config{
		Store:       store,
		Bus:         statusBus,
		Queue:       q,
		Router:      router,
		MaxAttempts: cfg.Queue.MaxAttempts,
		// Pacing between lifecycle steps so the stream reads like a real
		// pipeline rather than one burst.
		StepDelay: 500 * time.Millisecond,
		Log:       sugar,
	})
	if err := eng.Start(); err != nil {
		sugar.Fatalw("engine_start_failed", "err", err)
	}

	// ---- API Server ----
	registry := api.NewRegistry(statusBus, sugar)
	server := api.NewServer(eng, registry, cfg.Server.AllowedOrigins, sugar)

	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("server_started",
		"addr", cfg.Server.Addr,
		"venues", len(venues),
		"queue_concurrency", cfg.Queue.Concurrency,
		"bus_mode", cfg.Bus.Mode)

	<-ctx.Done()
	sugar.Info("shutting down")

	// Ordered shutdown: stop intake, drop stream clients, drain workers,
	// then release the bus and storage.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_incomplete", "err", err)
	}
	if err := q.Close(shutdownCtx); err != nil {
		sugar.Warnw("queue_drain_incomplete", "err", err)
	}
	if err := statusBus.Close(); err != nil {
		sugar.Warnw("bus_close_failed", "err", err)
	}
	if err := store.Close(); err != nil {
		sugar.Warnw("storage_close_failed", "err", err)
	}
	sugar.Info("shutdown complete")
}
