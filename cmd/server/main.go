package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticketgate/backend/internal/api"
	"github.com/ticketgate/backend/internal/circuitbreaker"
	"github.com/ticketgate/backend/internal/config"
	"github.com/ticketgate/backend/internal/gate"
	"github.com/ticketgate/backend/internal/idempotency"
	"github.com/ticketgate/backend/internal/infra"
	"github.com/ticketgate/backend/internal/queue"
	"github.com/ticketgate/backend/internal/ratelimit"
	"github.com/ticketgate/backend/internal/replay"
	"github.com/ticketgate/backend/internal/store"
	"github.com/ticketgate/backend/internal/token"
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
	log.Printf("connected to redis")

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.Migrate(ctx); err != nil {
		cancel()
		log.Fatalf("migrate: %v", err)
	}
	cancel()
	log.Printf("database schema ready")

	secret := []byte(cfg.SigningSecret)
	flag := queue.NewOfflineFlag(rdb, cfg.DefaultOffline)

	pipeline := gate.NewPipeline(gate.Deps{
		Verifier: token.NewVerifier(secret),
		Limiter:  ratelimit.New(rdb, cfg.Tunables.RateLimit.Capacity, cfg.Tunables.RateLimit.RefillPerSec),
		Idem:     idempotency.New(rdb, cfg.Tunables.IdempotencyTTL()),
		Replay:   replay.New(rdb, cfg.Tunables.ReplayTTL()),
		Offline:  flag,
		Queue:    queue.New(rdb),
		Store:    st,
		Breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("durable-store")),
		Metrics:  gate.NewMetrics(prometheus.DefaultRegisterer),
	})

	server := api.NewServer(pipeline, st, flag, rdb, secret)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("ticket gate listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
