package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/billsync/internal/processing"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
)

const defaultBatchLimit = 250

// Result labels one reconciliation attempt.
type Result string

const (
	ResultInSync    Result = "in_sync"
	ResultCorrected Result = "corrected"
	ResultSkipped   Result = "skipped"
	ResultDeferred  Result = "deferred"
	ResultError     Result = "error"
)

type injector interface {
	Inject(ctx context.Context, event *models.InboundEvent) (processing.Outcome, error)
}

// ServiceParams groups reconciliation dependencies.
type ServiceParams struct {
	Subscriptions subscriptions.Repository
	Provider      Provider
	Applier       injector
	Metrics       *metrics.WorkerMetrics
	Logger        *logger.Logger
	BatchLimit    int
	Clock         func() time.Time
}

// Service compares local subscriptions with the provider and corrects drift
// by applying a synthetic resync event through the regular event path.
type Service struct {
	subs       subscriptions.Repository
	provider   Provider
	applier    injector
	metrics    *metrics.WorkerMetrics
	logg       *logger.Logger
	batchLimit int
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "provider required")
	}
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "applier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		subs:       params.Subscriptions,
		provider:   params.Provider,
		applier:    params.Applier,
		metrics:    params.Metrics,
		logg:       params.Logger,
		batchLimit: limit,
		now:        func() time.Time { return now().UTC() },
	}, nil
}

// ReconcileSubscription checks one subscription by its provider id.
func (s *Service) ReconcileSubscription(ctx context.Context, providerSubscriptionID string) (Result, error) {
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if providerSubscriptionID == "" {
		return ResultError, pkgerrors.New(pkgerrors.CodeValidation, "provider subscription id is required")
	}
	local, err := s.subs.FindByProviderID(ctx, providerSubscriptionID)
	if err != nil {
		s.record(ResultError)
		return ResultError, fmt.Errorf("load subscription %s: %w", providerSubscriptionID, err)
	}
	if local == nil {
		s.logg.Info(s.logg.WithSubscriptionID(ctx, providerSubscriptionID), "subscription not tracked locally; skipping reconciliation")
		s.record(ResultSkipped)
		return ResultSkipped, nil
	}
	return s.reconcile(ctx, local)
}

// Sweep reconciles the least recently checked live subscriptions. Failures
// of individual subscriptions do not stop the sweep.
func (s *Service) Sweep(ctx context.Context) error {
	candidates, err := s.subs.ListForReconciliation(ctx, s.batchLimit)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	counts := map[Result]int{}
	for i := range candidates {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		result, err := s.reconcile(ctx, &candidates[i])
		counts[result]++
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"in_sync":    counts[ResultInSync],
		"corrected":  counts[ResultCorrected],
		"skipped":    counts[ResultSkipped],
		"deferred":   counts[ResultDeferred],
		"errors":     counts[ResultError],
	}), "reconciliation sweep complete")
	return errs
}

func (s *Service) reconcile(ctx context.Context, local *models.Subscription) (Result, error) {
	logCtx := s.logg.WithSubscriptionID(ctx, local.ProviderSubscriptionID)
	logCtx = s.logg.WithCustomerID(logCtx, local.CustomerID)
	if local.Status == enums.SubscriptionStatusCanceled {
		s.record(ResultSkipped)
		return ResultSkipped, nil
	}

	snap, err := s.provider.Fetch(ctx, local.ProviderSubscriptionID)
	if err != nil {
		s.record(ResultError)
		return ResultError, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch provider subscription "+local.ProviderSubscriptionID)
	}
	remote, ok := subscriptions.MapProviderStatus(snap.Status)
	if !ok {
		s.logg.Warn(s.logg.WithField(logCtx, "provider_status", snap.Status), "provider status has no local mapping; skipping reconciliation")
		return s.settle(logCtx, local, ResultSkipped)
	}

	drift := diff(local, snap, remote)
	if len(drift) == 0 {
		return s.settle(logCtx, local, ResultInSync)
	}

	event, err := s.resyncEvent(local, snap)
	if err != nil {
		s.record(ResultError)
		return ResultError, err
	}
	outcome, err := s.applier.Inject(ctx, event)
	if err != nil {
		s.record(ResultError)
		return ResultError, err
	}

	fields := map[string]any{
		"event":           "reconciliation.correction",
		"drift":           drift,
		"before_status":   local.Status.String(),
		"provider_status": snap.Status,
		"after_status":    remote.String(),
		"resync_event_id": event.ProviderEventID,
		"outcome":         string(outcome),
	}
	switch outcome {
	case processing.OutcomeApplied:
		s.logg.Info(s.logg.WithFields(logCtx, fields), "subscription corrected from provider state")
		return s.settle(logCtx, local, ResultCorrected)
	case processing.OutcomeFailed:
		s.record(ResultError)
		return ResultError, pkgerrors.New(pkgerrors.CodeInternal, "resync event "+event.ProviderEventID+" failed")
	default:
		s.logg.Warn(s.logg.WithFields(logCtx, fields), "resync event not applied")
		s.record(ResultDeferred)
		return ResultDeferred, nil
	}
}

func (s *Service) settle(ctx context.Context, local *models.Subscription, result Result) (Result, error) {
	if err := s.subs.MarkReconciled(ctx, local.ID, s.now()); err != nil {
		s.logg.Error(ctx, "failed to stamp reconciliation", err)
	}
	s.record(result)
	return result, nil
}

func (s *Service) record(result Result) {
	s.metrics.IncReconciled(string(result))
}

// resyncEvent sequences after every applied event and after any provider event
// created before now.
func (s *Service) resyncEvent(local *models.Subscription, snap *Snapshot) (*models.InboundEvent, error) {
	sequence := s.now().Unix()
	if next := local.LastAppliedSequence + 1; next > sequence {
		sequence = next
	}
	customer := snap.CustomerID
	if customer == "" {
		customer = local.ProviderCustomerID
	}
	object := map[string]any{
		"id":                   local.ProviderSubscriptionID,
		"customer":             customer,
		"status":               snap.Status,
		"cancel_at_period_end": snap.CancelAtPeriodEnd,
	}
	if snap.PeriodStart != nil {
		object["current_period_start"] = snap.PeriodStart.Unix()
	}
	if snap.PeriodEnd != nil {
		object["current_period_end"] = snap.PeriodEnd.Unix()
	}
	payload, err := subscriptions.SyntheticObject(object)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("resync:%s:%d", local.ProviderSubscriptionID, sequence)
	return processing.SyntheticEvent(id, subscriptions.KindResync, sequence, payload, enums.EventSourceReconciliation), nil
}

func diff(local *models.Subscription, snap *Snapshot, remote enums.SubscriptionStatus) []string {
	var drift []string
	if local.Status != remote {
		drift = append(drift, "status")
	}
	if local.CancelAtPeriodEnd != snap.CancelAtPeriodEnd {
		drift = append(drift, "cancel_at_period_end")
	}
	if snap.PeriodEnd != nil && (local.CurrentPeriodEnd == nil || !local.CurrentPeriodEnd.Truncate(time.Second).Equal(snap.PeriodEnd.Truncate(time.Second))) {
		drift = append(drift, "current_period_end")
	}
	return drift
}
