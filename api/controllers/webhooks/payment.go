package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/billsync/api/responses"
	webhooksvc "github.com/angelmondragon/billsync/internal/webhooks"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const (
	signatureHeader     = "Stripe-Signature"
	defaultMaxBodyBytes = 1 << 20
)

// Receiver verifies and ledgers one delivery.
type Receiver interface {
	Receive(ctx context.Context, payload []byte, signature string) (webhooksvc.Result, error)
}

// PaymentWebhook accepts provider notifications. A 200 means the event is
// durably ledgered; any other status asks the provider to retry.
func PaymentWebhook(svc Receiver, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook receiver unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeMalformed, err, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "webhook signature missing"))
			return
		}

		result, err := svc.Receive(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
