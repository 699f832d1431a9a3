package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/billsync/api/controllers"
	webhookcontrollers "github.com/angelmondragon/billsync/api/controllers/webhooks"
	"github.com/angelmondragon/billsync/api/middleware"
	checkoutsvc "github.com/angelmondragon/billsync/internal/checkout"
	subscriptionsvc "github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/config"
	"github.com/angelmondragon/billsync/pkg/logger"
)

// Deps are the services mounted by NewRouter. Nil services answer 500.
type Deps struct {
	Readiness     map[string]controllers.Pinger
	RateLimits    middleware.RateLimitStore
	Gatherer      prometheus.Gatherer
	Webhooks      webhookcontrollers.Receiver
	Checkout      checkoutsvc.Service
	Subscriptions subscriptionsvc.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	checkoutPolicy := middleware.RateLimitPolicy{
		Name:        "checkout",
		Window:      cfg.Checkout.RateLimitWindow,
		IPLimit:     cfg.Checkout.RateLimitPerIP,
		CallerLimit: cfg.Checkout.RateLimitPerCaller,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Provider deliveries authenticate by signature, not by caller token.
	r.Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(deps.Webhooks, cfg.Webhook.MaxBodyBytes, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(middleware.RateLimit(checkoutPolicy, deps.RateLimits, logg)).
			Post("/checkout", controllers.Checkout(deps.Checkout, logg))
		r.Get("/subscription/{customerId}", controllers.SubscriptionStatus(deps.Subscriptions, logg))
	})

	return r
}
