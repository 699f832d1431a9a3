package controllers

import (
	"net/http"

	"github.com/angelmondragon/billsync/api/middleware"
	"github.com/angelmondragon/billsync/api/responses"
	"github.com/angelmondragon/billsync/api/validators"
	subscriptionsvc "github.com/angelmondragon/billsync/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

// SubscriptionStatus serves GET /subscription/{customerId}. Callers may only
// read their own status.
func SubscriptionStatus(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}
		customerID, err := validators.PathID(r, "customerId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if caller := middleware.CustomerIDFromContext(ctx); caller != customerID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another customer"))
			return
		}

		view, err := svc.Status(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		responses.WriteSuccess(w, view)
	}
}
