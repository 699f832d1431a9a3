// Package stripe configures the process-wide Stripe backend. Provider calls
// elsewhere use the stripe-go package functions, which read this setup.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client carries the validated Stripe settings the services need.
type Client struct {
	environment    string
	signingSecret  string
	requestTimeout time.Duration
	backend        stripe.Backend
}

// NewClient validates the key against the environment and installs the API
// backend with the configured retries, a bounded HTTP client and a logger
// bridge. The webhook secret is optional here; only the API process needs it.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig(cfg, logg))
	stripe.Key = apiKey
	stripe.SetBackend(stripe.APIBackend, backend)

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":     env,
			"stripe_retries": cfg.MaxNetworkRetries,
		}), "stripe client initialized")
	}
	return &Client{
		environment:    env,
		signingSecret:  strings.TrimSpace(cfg.WebhookSecret),
		requestTimeout: cfg.RequestTimeout,
		backend:        backend,
	}, nil
}

func backendConfig(cfg config.StripeConfig, logg *logger.Logger) *stripe.BackendConfig {
	retries := cfg.MaxNetworkRetries
	if retries < 0 {
		retries = 0
	}
	bc := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(retries)}
	if cfg.RequestTimeout > 0 {
		// Retries share the caller's context deadline; the client timeout caps one attempt.
		bc.HTTPClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if logg != nil {
		bc.LeveledLogger = &leveledLogger{logg: logg}
	}
	return bc
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// RequestTimeout bounds a single provider call. Zero means no explicit bound.
func (c *Client) RequestTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.requestTimeout
}

func normalizeEnv(raw string) (string, error) {
	switch env := strings.TrimSpace(strings.ToLower(raw)); env {
	case "":
		return testEnv, nil
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

// validateAPIKey accepts secret (sk_) and restricted (rk_) keys whose mode
// matches env.
func validateAPIKey(env, key string) error {
	for _, prefix := range []string{"sk_", "rk_"} {
		if strings.HasPrefix(key, prefix+env) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a %s secret key (sk_%s/rk_%s)", env, env, env, env)
}
