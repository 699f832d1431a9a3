package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "BILLSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv              = "BILLSYNC_APP_ENV"
	EnvPort                = "BILLSYNC_APP_PORT"
	EnvDBDSN               = "BILLSYNC_DB_DSN"
	EnvDBHost              = "BILLSYNC_DB_HOST"
	EnvDBUser              = "BILLSYNC_DB_USER"
	EnvDBName              = "BILLSYNC_DB_NAME"
	EnvRedisURL            = "BILLSYNC_REDIS_URL"
	EnvJWTSecret           = "BILLSYNC_JWT_SECRET"
	EnvJWTIssuer           = "BILLSYNC_JWT_ISSUER"
	EnvStripeAPIKey        = "BILLSYNC_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "BILLSYNC_STRIPE_WEBHOOK_SECRET"
	EnvGracePeriod         = "BILLSYNC_BILLING_GRACE_PERIOD"
	EnvIdempotencyRetain   = "BILLSYNC_IDEMPOTENCY_RETENTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
	Worker       WorkerConfig
	Checkout     CheckoutConfig
	Billing      BillingConfig
	Idempotency  IdempotencyConfig
	Reconcile    ReconcileConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Billing.GracePeriod < 0 {
		return nil, fmt.Errorf("%s must not be negative", EnvGracePeriod)
	}
	if cfg.Idempotency.Retention < 0 {
		return nil, fmt.Errorf("%s must not be negative", EnvIdempotencyRetain)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BILLSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLSYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"BILLSYNC_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"BILLSYNC_DB_DSN"`

	LegacyHost     string `envconfig:"BILLSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLSYNC_DB_USER"`
	LegacyPassword string `envconfig:"BILLSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this at warn. Zero
	// disables query logging.
	SlowQueryThreshold time.Duration `envconfig:"BILLSYNC_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLSYNC_REDIS_URL"`
	Address      string        `envconfig:"BILLSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"BILLSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BILLSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BILLSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BILLSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
	// Audience, when set, is stamped on minted tokens and required on parse.
	Audience string        `envconfig:"BILLSYNC_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"BILLSYNC_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILLSYNC_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BILLSYNC_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	// DeadLetterTopic receives an alert per dead-lettered event. Alerts are
	// only logged when empty.
	DeadLetterTopic string `envconfig:"BILLSYNC_PUBSUB_DEAD_LETTER_TOPIC"`
	// PublishDelay caps how long an alert waits to be batched.
	PublishDelay time.Duration `envconfig:"BILLSYNC_PUBSUB_PUBLISH_DELAY" default:"50ms"`
	// PublishTimeout bounds one publish including retries.
	PublishTimeout time.Duration `envconfig:"BILLSYNC_PUBSUB_PUBLISH_TIMEOUT" default:"30s"`
}

type StripeConfig struct {
	APIKey             string        `envconfig:"BILLSYNC_STRIPE_API_KEY"`
	WebhookSecret      string        `envconfig:"BILLSYNC_STRIPE_WEBHOOK_SECRET"`
	Env                string        `envconfig:"BILLSYNC_STRIPE_ENV" default:"test"`
	SuccessURL         string        `envconfig:"BILLSYNC_STRIPE_SUCCESS_URL" default:"http://localhost:3000/billing/success"`
	CancelURL          string        `envconfig:"BILLSYNC_STRIPE_CANCEL_URL" default:"http://localhost:3000/billing/cancel"`
	SignatureTolerance time.Duration `envconfig:"BILLSYNC_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
	RequestTimeout     time.Duration `envconfig:"BILLSYNC_STRIPE_REQUEST_TIMEOUT" default:"10s"`
	MaxNetworkRetries  int64         `envconfig:"BILLSYNC_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	MaxBodyBytes int64 `envconfig:"BILLSYNC_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type WorkerConfig struct {
	PoolSize       int           `envconfig:"BILLSYNC_WORKER_POOL_SIZE" default:"8"`
	BatchSize      int           `envconfig:"BILLSYNC_WORKER_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"BILLSYNC_WORKER_POLL_INTERVAL" default:"500ms"`
	MaxAttempts    int           `envconfig:"BILLSYNC_WORKER_MAX_ATTEMPTS" default:"10"`
	BaseBackoff    time.Duration `envconfig:"BILLSYNC_WORKER_BASE_BACKOFF" default:"2s"`
	MaxBackoff     time.Duration `envconfig:"BILLSYNC_WORKER_MAX_BACKOFF" default:"10m"`
	ClaimLease     time.Duration `envconfig:"BILLSYNC_WORKER_CLAIM_LEASE" default:"2m"`
	LockTTL        time.Duration `envconfig:"BILLSYNC_WORKER_LOCK_TTL" default:"30s"`
	LockWait       time.Duration `envconfig:"BILLSYNC_WORKER_LOCK_WAIT" default:"5s"`
	StorageTimeout time.Duration `envconfig:"BILLSYNC_WORKER_STORAGE_TIMEOUT" default:"10s"`
}

type CheckoutConfig struct {
	IntentTTL time.Duration `envconfig:"BILLSYNC_CHECKOUT_INTENT_TTL" default:"24h"`
	// Rate limits apply per fixed window; a zero limit disables that counter.
	RateLimitWindow    time.Duration `envconfig:"BILLSYNC_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP     int           `envconfig:"BILLSYNC_CHECKOUT_RATE_LIMIT_PER_IP" default:"60"`
	RateLimitPerCaller int           `envconfig:"BILLSYNC_CHECKOUT_RATE_LIMIT_PER_CALLER" default:"10"`
}

type BillingConfig struct {
	GracePeriod time.Duration `envconfig:"BILLSYNC_BILLING_GRACE_PERIOD" default:"168h"`
	// MaxPaymentFailures moves a past_due subscription to unpaid once reached.
	// Zero disables the transition.
	MaxPaymentFailures int `envconfig:"BILLSYNC_BILLING_MAX_PAYMENT_FAILURES" default:"4"`
}

type IdempotencyConfig struct {
	// Retention bounds how long processed inbound events are kept. Zero keeps
	// them forever.
	Retention time.Duration `envconfig:"BILLSYNC_IDEMPOTENCY_RETENTION" default:"0"`
}

type ReconcileConfig struct {
	BatchLimit      int           `envconfig:"BILLSYNC_RECONCILE_BATCH_LIMIT" default:"250"`
	ProviderTimeout time.Duration `envconfig:"BILLSYNC_RECONCILE_PROVIDER_TIMEOUT" default:"10s"`
	QueueSize       int           `envconfig:"BILLSYNC_RECONCILE_QUEUE_SIZE" default:"256"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"BILLSYNC_CRON_INTERVAL" default:"15m"`
	LockTTL    time.Duration `envconfig:"BILLSYNC_CRON_LOCK_TTL" default:"14m"`
	// JobTimeout bounds one job run. Zero leaves jobs bounded only by shutdown.
	JobTimeout time.Duration `envconfig:"BILLSYNC_CRON_JOB_TIMEOUT" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
