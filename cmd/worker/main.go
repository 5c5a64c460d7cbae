package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticketgate/backend/internal/config"
	"github.com/ticketgate/backend/internal/infra"
	"github.com/ticketgate/backend/internal/queue"
	"github.com/ticketgate/backend/internal/store"
	"github.com/ticketgate/backend/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	rdb, err := infra.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer st.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.Migrate(migrateCtx); err != nil {
		cancel()
		log.Fatalf("migrate: %v", err)
	}
	cancel()

	r := worker.New(
		queue.New(rdb),
		queue.NewOfflineFlag(rdb, cfg.DefaultOffline),
		st,
		worker.Config{
			BatchSize: cfg.Tunables.Worker.BatchSize,
			Block:     cfg.Tunables.WorkerBlock(),
			Poll:      cfg.Tunables.WorkerPoll(),
		},
		worker.NewMetrics(prometheus.DefaultRegisterer),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("reconciliation worker starting")
	if err := r.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
	}
	log.Printf("worker exited")
}
