package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billsync/internal/processing"
	"github.com/angelmondragon/billsync/internal/reconcile"
	"github.com/angelmondragon/billsync/internal/wiring"
	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/instance"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
	"github.com/angelmondragon/billsync/pkg/migrate"
	"github.com/angelmondragon/billsync/pkg/pubsub"
	"github.com/angelmondragon/billsync/pkg/redis"
	"github.com/angelmondragon/billsync/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	if _, err := stripe.NewClient(context.Background(), cfg.Stripe, logg); err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	deps := wiring.Deps{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Metrics: metrics.NewWorkerMetrics(prometheus.DefaultRegisterer),
	}
	dependencies := []namedPinger{
		dependency("database", dbClient),
		dependency("redis", redisClient),
	}

	if cfg.PubSub.DeadLetterTopic != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		deps.PubSub = pubsubClient
		dependencies = append(dependencies, dependency("pubsub", pubsubClient))
	}

	queue := reconcile.NewQueue(cfg.Reconcile.QueueSize, logg)
	applier, err := deps.Applier(queue)
	if err != nil {
		logg.Error(context.Background(), "failed to create event applier", err)
		os.Exit(1)
	}
	reconciler, err := deps.Reconciler(applier)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}
	worker, err := processing.NewWorker(processing.WorkerParams{
		Ledger:       deps.Ledger(),
		Processor:    applier,
		Logger:       logg,
		PoolSize:     cfg.Worker.PoolSize,
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event worker", err)
		os.Exit(1)
	}

	metricsAddr := ""
	if port := os.Getenv("PORT"); port != "" {
		metricsAddr = ":" + port
	}
	service, err := NewService(ServiceParams{
		Logger:       logg,
		Worker:       worker,
		Queue:        queue,
		Reconciler:   reconciler,
		Gatherer:     prometheus.DefaultGatherer,
		MetricsAddr:  metricsAddr,
		Dependencies: dependencies,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
