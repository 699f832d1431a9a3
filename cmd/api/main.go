package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billsync/api/controllers"
	"github.com/angelmondragon/billsync/api/routes"
	"github.com/angelmondragon/billsync/internal/checkout"
	"github.com/angelmondragon/billsync/internal/customers"
	"github.com/angelmondragon/billsync/internal/idempotency"
	"github.com/angelmondragon/billsync/internal/plans"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/internal/webhooks"
	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/instance"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
	"github.com/angelmondragon/billsync/pkg/migrate"
	"github.com/angelmondragon/billsync/pkg/redis"
	"github.com/angelmondragon/billsync/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	conn := dbClient.DB()
	subscriptionRepo := subscriptions.NewRepository(conn)
	customerRepo := customers.NewRepository(conn)

	customerService, err := customers.NewService(customers.ServiceParams{
		Repo:     customerRepo,
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

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:      subscriptionRepo,
		Customers: customerRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	verifier, err := webhooks.NewStripeVerifier(stripeClient.SigningSecret(), cfg.Stripe.SignatureTolerance)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook verifier", err)
		os.Exit(1)
	}
	receiver, err := webhooks.NewReceiver(webhooks.ReceiverParams{
		Verifier: verifier,
		Ledger:   idempotency.NewStore(conn, cfg.Worker.ClaimLease),
		Metrics:  metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook receiver", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := logg.WithFields(sigCtx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    instance.GetID(),
		"stripe_env":  stripeClient.Environment(),
		"serviceKind": cfg.Service.Kind,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			Readiness: map[string]controllers.Pinger{
				"postgres": dbClient,
				"redis":    redisClient,
			},
			RateLimits:    redisClient,
			Gatherer:      prometheus.DefaultGatherer,
			Webhooks:      receiver,
			Checkout:      checkoutService,
			Subscriptions: subscriptionService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server stopped")
	}
}
