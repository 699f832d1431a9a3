// Package webhooks authenticates provider notifications and appends them to
// the inbound event ledger. No business logic runs at receipt time.
package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const defaultTolerance = 5 * time.Minute

// Verifier authenticates a raw body against its signature header.
type Verifier interface {
	Verify(payload []byte, header string) error
}

// StripeVerifier checks the Stripe-Signature HMAC with a timestamp tolerance.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier builds a verifier for the given signing secret.
func NewStripeVerifier(secret string, tolerance time.Duration) (*StripeVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}, nil
}

func (v *StripeVerifier) Verify(payload []byte, header string) error {
	if header == "" {
		return errors.New("signature header missing")
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance)
}

type ledger interface {
	Append(ctx context.Context, event *models.InboundEvent) (bool, error)
	RecordDelivery(ctx context.Context, providerEventID string, result enums.DeliveryResult) error
}

type receiverMetrics interface {
	IncDelivery(result string)
	IncSignatureFailure()
	IncMalformed()
}

// Result is returned for every accepted delivery.
type Result struct {
	EventID   string `json:"eventId"`
	Duplicate bool   `json:"duplicate"`
}

type ReceiverParams struct {
	Verifier Verifier
	Ledger   ledger
	Metrics  receiverMetrics
	Logger   *logger.Logger
}

type Receiver struct {
	verifier Verifier
	ledger   ledger
	metrics  receiverMetrics
	logg     *logger.Logger
}

func NewReceiver(params ReceiverParams) (*Receiver, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inbound event ledger required")
	}
	return &Receiver{
		verifier: params.Verifier,
		ledger:   params.Ledger,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Receive authenticates, parses and durably records one delivery. Success
// is returned only after the event is persisted, so a provider retry after
// any error is safe.
func (r *Receiver) Receive(ctx context.Context, payload []byte, signature string) (Result, error) {
	if err := r.verifier.Verify(payload, signature); err != nil {
		if r.metrics != nil {
			r.metrics.IncSignatureFailure()
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "webhook signature verification failed")
	}

	env, err := ParseEnvelope(payload)
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncMalformed()
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "malformed webhook event").
			WithDetails(map[string]any{"error": err.Error()})
	}

	if r.logg != nil {
		ctx = r.logg.WithEventID(ctx, env.ID)
	}

	inserted, err := r.ledger.Append(ctx, &models.InboundEvent{
		ProviderEventID: env.ID,
		Type:            env.Type,
		Payload:         env.Data,
		Sequence:        env.OrderingSequence(),
		Source:          enums.EventSourceProvider,
	})
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist inbound event")
	}

	result := enums.DeliveryResultAccepted
	if !inserted {
		result = enums.DeliveryResultIgnoredDuplicate
	}
	if err := r.ledger.RecordDelivery(ctx, env.ID, result); err != nil && r.logg != nil {
		r.logg.Error(ctx, "record webhook delivery", err)
	}
	if r.metrics != nil {
		r.metrics.IncDelivery(string(result))
	}
	if r.logg != nil {
		ctx = r.logg.WithFields(ctx, map[string]any{"event_type": env.Type, "delivery": string(result)})
		r.logg.Info(ctx, "webhook event received")
	}

	return Result{EventID: env.ID, Duplicate: !inserted}, nil
}
