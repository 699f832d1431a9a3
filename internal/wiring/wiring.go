// Package wiring builds the event processing graph shared by the worker and
// cron binaries from loaded configuration.
package wiring

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/billsync/internal/checkout"
	"github.com/angelmondragon/billsync/internal/idempotency"
	"github.com/angelmondragon/billsync/internal/plans"
	"github.com/angelmondragon/billsync/internal/processing"
	"github.com/angelmondragon/billsync/internal/reconcile"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/alerts"
	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/locks"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
	"github.com/angelmondragon/billsync/pkg/pubsub"
	"github.com/angelmondragon/billsync/pkg/redis"
)

type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Redis   *redis.Client
	PubSub  *pubsub.Client
	Metrics *metrics.WorkerMetrics
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config is required")
	case d.Logger == nil:
		return errors.New("logger is required")
	case d.DB == nil:
		return errors.New("database client is required")
	case d.Redis == nil:
		return errors.New("redis client is required")
	}
	return nil
}

// Ledger returns the inbound event store with the configured claim lease.
func (d Deps) Ledger() *idempotency.Store {
	return idempotency.NewStore(d.DB.DB(), d.Config.Worker.ClaimLease)
}

// Alerter publishes to the dead letter topic when Pub/Sub is wired and logs
// otherwise.
func (d Deps) Alerter() (alerts.Alerter, error) {
	if d.PubSub == nil {
		return alerts.NewLogAlerter(d.Logger), nil
	}
	alerter, err := alerts.NewPubSubAlerter(d.PubSub.DeadLetterPublisher())
	if err != nil {
		return nil, err
	}
	return alerter, nil
}

// Locker layers an in-process lock over the Redis lock so goroutines in one
// process queue locally before contending across instances.
func (d Deps) Locker() (locks.Locker, error) {
	remote, err := locks.NewRedisLocker(d.Redis, locks.RedisOptions{
		TTL:  d.Config.Worker.LockTTL,
		Wait: d.Config.Worker.LockWait,
	})
	if err != nil {
		return nil, fmt.Errorf("redis locker: %w", err)
	}
	layered, err := locks.NewLayered(locks.NewLocalLocker(d.Config.Worker.LockWait), remote)
	if err != nil {
		return nil, err
	}
	return layered, nil
}

// Applier builds the single event application path. reconciler may be nil.
func (d Deps) Applier(reconciler processing.ReconcileRequester) (*processing.Applier, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	alerter, err := d.Alerter()
	if err != nil {
		return nil, fmt.Errorf("alerter: %w", err)
	}
	locker, err := d.Locker()
	if err != nil {
		return nil, err
	}
	conn := d.DB.DB()
	cfg := d.Config
	return processing.NewApplier(processing.ApplierParams{
		DB:             d.DB,
		Store:          d.Ledger(),
		Subscriptions:  subscriptions.NewRepository(conn),
		Intents:        checkout.NewRepository(conn),
		Plans:          plans.NewRepository(conn),
		DeadLetters:    processing.NewDeadLetterRepository(conn),
		Locker:         locker,
		Machine:        subscriptions.NewMachine(cfg.Billing.GracePeriod, cfg.Billing.MaxPaymentFailures),
		Alerter:        alerter,
		Reconciler:     reconciler,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
		MaxAttempts:    cfg.Worker.MaxAttempts,
		BaseBackoff:    cfg.Worker.BaseBackoff,
		MaxBackoff:     cfg.Worker.MaxBackoff,
		StorageTimeout: cfg.Worker.StorageTimeout,
	})
}

// Reconciler builds the provider reconciliation service over applier.
func (d Deps) Reconciler(applier *processing.Applier) (*reconcile.Service, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	return reconcile.NewService(reconcile.ServiceParams{
		Subscriptions: subscriptions.NewRepository(d.DB.DB()),
		Provider:      reconcile.NewStripeProvider(d.Config.Reconcile.ProviderTimeout),
		Applier:       applier,
		Metrics:       d.Metrics,
		Logger:        d.Logger,
		BatchLimit:    d.Config.Reconcile.BatchLimit,
	})
}
