package main

import (
	"context"
	"os/signal"
	"syscall"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/log"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

// Worker consumes attendance events and rebuilds per-subject counters from the record log.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON || cfg.Production()})
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs a shared queue", errQueueBackend(cfg.QueueBackend))
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal("store connect failed", err)
	}
	defer backend.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	ledger := attendance.NewLedger(backend, backend)
	if err := worker.New(q, ledger, cfg.WorkerDebounce).Run(ctx); err != nil {
		log.Error("worker failed", err)
	}
}

type errQueueBackend string

func (e errQueueBackend) Error() string {
	return "QUEUE_BACKEND=" + string(e) + " is process-local; the api runs its own worker"
}
