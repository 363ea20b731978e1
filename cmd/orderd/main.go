// Command orderd runs the order-processing HTTP API together with its
// in-process worker pool. Everything is constructed once here and
// wired via constructors, per the no-global-state design directive:
// there is no package-level logger, tracer, or metrics registry to
// reach for from elsewhere in the codebase.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"orderproc/internal/api"
	"orderproc/internal/auth"
	"orderproc/internal/config"
	"orderproc/internal/db"
	"orderproc/internal/dlq"
	"orderproc/internal/events"
	"orderproc/internal/intake"
	"orderproc/internal/orderstore"
	"orderproc/internal/queue"
	"orderproc/internal/redisclient"
	"orderproc/internal/stock"
	"orderproc/internal/telemetry"
	"orderproc/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger(cfg.Server.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	tracerProvider, tracer, err := telemetry.NewTracer("orderproc", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", zap.Error(err))
		tracer = telemetry.NoopTracer()
	}
	if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracerProvider.Shutdown(shutdownCtx)
		}()
	}

	metrics := telemetry.NewMetrics()

	pg, err := db.OpenPostgres(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()

	redisConn, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisConn.Close()

	stockCache := stock.NewCache(redisConn)
	stockStore := stock.NewPostgresStore(pg, metrics, logger, tracer, stockCache)
	catalog := stock.NewCatalog(pg, stockCache)
	orderStore := orderstore.NewPostgresStore(pg)

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit, logger)
	defer producer.Close()
	publisher := events.NewPublisher(producer, logger)

	jobRepo := queue.NewPostgresRepository(pg)
	dispatchIndex := queue.NewRedisIndex(redisConn)
	q := queue.New(queue.Config{
		Name:              cfg.Queue.Name,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		BackoffBase:       cfg.Queue.BackoffBase,
		StallTimeout:      cfg.Queue.StallTimeout,
		RetentionComplete: cfg.Queue.RetentionComplete,
		RetentionFailed:   cfg.Queue.RetentionFailed,
	}, jobRepo, dispatchIndex, logger, metrics)

	dlqObserver := dlq.NewObserver(orderStore, publisher, logger)
	q.Subscribe(dlqObserver)

	var gateway worker.Gateway = worker.NoopGateway{}
	if cfg.Payment.SimulateFailures {
		gateway = worker.NewSimulatedGateway(cfg.Payment.FailureProbability)
	}
	handler := worker.NewOrderHandler(orderStore, stockStore, gateway, publisher, logger, metrics)

	poolOpts := []worker.PoolOption{}
	if cfg.Queue.WorkerPoolSize > 0 {
		poolOpts = append(poolOpts, worker.WithSize(cfg.Queue.WorkerPoolSize))
	}
	pool := worker.NewPool(q, handler, orderStore, logger, poolOpts...)

	in := intake.New(orderStore, catalog, q, publisher, logger, metrics)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	if cfg.Server.Env != "production" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	apiHandler := api.NewHandler(in, orderStore, catalog, verifier, metrics, pg, redisConn.Raw())
	apiHandler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	go q.Run(queueCtx)
	pool.Start(queueCtx)

	go func() {
		logger.Info("orderd listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	cancelQueue()
	pool.Shutdown(cfg.Queue.ShutdownGrace)
	q.Stop()

	logger.Info("orderd stopped cleanly")
}
