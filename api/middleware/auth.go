package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/billsync/api/responses"
	pkgAuth "github.com/angelmondragon/billsync/pkg/auth"
	"github.com/angelmondragon/billsync/pkg/config"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

// bearerToken extracts the credential from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Auth validates the bearer token and seeds the request context with the
// caller's customer id.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request, err *pkgerrors.Error) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="billsync"`)
		responses.WriteError(r.Context(), logg, w, err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				reject(w, r, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				reject(w, r, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithCustomerID(r.Context(), claims.CustomerID)
			if logg != nil {
				ctx = logg.WithCallerID(ctx, claims.CustomerID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
