package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/billsync/api/responses"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

// RateLimitStore is the counter backend, usually Redis.
type RateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope, id string) string
}

// RateLimitPolicy is a fixed-window limit per client IP and per
// authenticated caller. A zero limit disables that counter.
type RateLimitPolicy struct {
	Name        string
	Window      time.Duration
	IPLimit     int
	CallerLimit int
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.CallerLimit > 0)
}

func (p RateLimitPolicy) scope() string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return "api"
	}
	return name
}

// RateLimit must run after Auth for the caller counter to apply.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			checks := []struct {
				kind  string
				id    string
				limit int
			}{
				{"ip", clientIP(r), policy.IPLimit},
				{"caller", CustomerIDFromContext(ctx), policy.CallerLimit},
			}
			for _, check := range checks {
				if check.limit <= 0 || check.id == "" {
					continue
				}
				key := store.RateLimitKey(policy.scope(), check.kind+":"+check.id)
				count, err := store.IncrWithTTL(ctx, key, policy.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > int64(check.limit) {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"policy":         policy.scope(),
							"scope":          check.kind,
							"attempts":       count,
							"limit":          check.limit,
							"window_seconds": int(policy.Window.Seconds()),
						}), "rate_limit.blocked")
					}
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
