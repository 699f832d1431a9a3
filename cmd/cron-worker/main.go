package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billsync/internal/checkout"
	"github.com/angelmondragon/billsync/internal/cron"
	"github.com/angelmondragon/billsync/internal/customers"
	"github.com/angelmondragon/billsync/internal/plans"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/internal/wiring"
	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
	"github.com/angelmondragon/billsync/pkg/migrate"
	"github.com/angelmondragon/billsync/pkg/redis"
	"github.com/angelmondragon/billsync/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
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
	applier, err := deps.Applier(nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create event applier", err)
		os.Exit(1)
	}
	reconciler, err := deps.Reconciler(applier)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	subscriptionRepo := subscriptions.NewRepository(conn)
	customerService, err := customers.NewService(customers.ServiceParams{
		Repo:     customers.NewRepository(conn),
		Provider: customers.NewStripeProvider(stripeClient.RequestTimeout()),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customer service", err)
		os.Exit(1)
	}
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:          checkout.NewRepository(conn),
		Plans:         plans.NewRepository(conn),
		Subscriptions: subscriptionRepo,
		Customers:     customerService,
		Sessions:      checkout.NewStripeSessions(cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL, stripeClient.RequestTimeout()),
		Logger:        logg,
		IntentTTL:     cfg.Checkout.IntentTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewReconcileJob(reconciler)
	exitOnJobError(logg, "subscription-reconcile", err)
	graceJob, err := cron.NewGraceExpiryJob(cron.GraceExpiryJobParams{
		Logger:        logg,
		Subscriptions: subscriptionRepo,
		Applier:       applier,
		Limit:         cfg.Reconcile.BatchLimit,
	})
	exitOnJobError(logg, "grace-expiry", err)
	intentJob, err := cron.NewIntentExpiryJob(logg, checkoutService)
	exitOnJobError(logg, "checkout-intent-expiry", err)
	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Logger:    logg,
		Ledger:    deps.Ledger(),
		Retention: cfg.Idempotency.Retention,
	})
	exitOnJobError(logg, "inbound-event-retention", err)

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(reconcileJob, graceJob, intentJob, retentionJob)
	exitOnJobError(logg, "registry", err)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return redis.Key("cron-worker", "lock", env)
}

func exitOnJobError(logg *logger.Logger, job string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(context.Background(), "job", job), "failed to create cron job", err)
	os.Exit(1)
}
