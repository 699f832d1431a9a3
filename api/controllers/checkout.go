package controllers

import (
	"net/http"

	"github.com/angelmondragon/billsync/api/middleware"
	"github.com/angelmondragon/billsync/api/responses"
	"github.com/angelmondragon/billsync/api/validators"
	checkoutsvc "github.com/angelmondragon/billsync/internal/checkout"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

type checkoutRequest struct {
	CustomerID     string `json:"customerId" validate:"omitempty,max=128"`
	PlanID         string `json:"planId" validate:"required,max=128"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,idemkey"`
	Email          string `json:"email" validate:"omitempty,email"`
}

// Checkout creates (or returns the existing) checkout intent for the
// authenticated caller. customerId defaults to the caller and must match it.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		caller := middleware.CustomerIDFromContext(ctx)
		if caller == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		customerID := validators.SanitizeString(payload.CustomerID, 0)
		if customerID == "" {
			customerID = caller
		}
		if customerID != caller {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "customerId does not match caller"))
			return
		}

		result, err := svc.CreateIntent(ctx, checkoutsvc.CreateInput{
			CustomerID:     customerID,
			PlanID:         validators.SanitizeString(payload.PlanID, 0),
			IdempotencyKey: payload.IdempotencyKey,
			Email:          validators.SanitizeString(payload.Email, 0),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
