package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"qrattend/internal/api"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/fingerprint"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/log"
	"qrattend/internal/queue"
	"qrattend/internal/session"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

const healthInterval = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", err)
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON || cfg.Production()})
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", err)
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal("api server failed", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := log.WithComponent("main")

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()
	if err := backend.Migrate(ctx); err != nil {
		return err
	}

	ledger := attendance.NewLedger(backend, backend)
	checks := map[string]api.HealthCheck{"store": backend.Ping}
	var opts []attendance.Option

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Client.Ping(ctx).Err() }
		opts = append(opts, attendance.WithPublisher(queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)))
	} else {
		q := queue.NewInMemory(256)
		opts = append(opts, attendance.WithPublisher(q))
		go func() {
			if err := worker.New(q, ledger, cfg.WorkerDebounce).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("in-process worker failed")
			}
		}()
	}

	if cfg.SessionSingleUse {
		if redisClient != nil {
			opts = append(opts, attendance.WithRedeemer(session.NewRedisRedeemer(redisClient.Client)))
		} else {
			opts = append(opts, attendance.WithRedeemer(session.NewMemoryRedeemer(nil)))
		}
	}

	issuer, err := session.NewIssuer(session.Config{
		SigningKey: cfg.SessionSigningKey,
		TTL:        cfg.SessionTTL,
		BaseURL:    cfg.BaseURL,
	})
	if err != nil {
		return err
	}
	strategy, err := fingerprint.FromName(cfg.FingerprintStrategy)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Service:        attendance.NewService(backend, backend, issuer, opts...),
		Ledger:         ledger,
		Directory:      backend,
		Issuer:         issuer,
		Fingerprint:    strategy,
		Limiter:        httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Checks:         checks,
		JWTSigningKey:  cfg.JWTSigningKey,
		JWTIssuer:      cfg.JWTIssuer,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer, err := serveHealth(ctx, cfg.GRPCPort, checks)
	if err != nil {
		return err
	}
	defer grpcServer.GracefulStop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.HTTPPort).
			Str("store", cfg.StoreBackend).
			Str("fingerprint", strategy.Name()).
			Bool("single_use", cfg.SessionSingleUse).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}

// serveHealth exposes the standard gRPC health service and keeps its status
// in step with the dependency checks until ctx ends.
func serveHealth(ctx context.Context, port string, checks map[string]api.HealthCheck) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, err
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	logger := log.WithComponent("health")
	go func() {
		logger.Info().Str("port", port).Msg("starting grpc health server")
		if err := gs.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc health server stopped")
		}
	}()

	go func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			status := healthpb.HealthCheckResponse_SERVING
			for name, check := range checks {
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := check(checkCtx)
				cancel()
				if err != nil {
					logger.Warn().Err(err).Str("check", name).Msg("dependency unhealthy")
					status = healthpb.HealthCheckResponse_NOT_SERVING
				}
			}
			hs.SetServingStatus("", status)

			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
			}
		}
	}()
	return gs, nil
}
