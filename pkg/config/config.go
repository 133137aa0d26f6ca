package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Risk         RiskConfig
	Payments     PaymentsConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	RabbitMQ     RabbitMQConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	if cfg.Risk.ChallengeThreshold >= cfg.Risk.BlockThreshold {
		return nil, fmt.Errorf("%s must be lower than %s", EnvRiskChallengeThreshold, EnvRiskBlockThreshold)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"THREADLINE_APP_ENV" required:"true"`
	Port         string   `envconfig:"THREADLINE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"THREADLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"THREADLINE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"THREADLINE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"THREADLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"THREADLINE_DB_DSN"`
	Driver string `envconfig:"THREADLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"THREADLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"THREADLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"THREADLINE_DB_USER"`
	LegacyPassword string `envconfig:"THREADLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"THREADLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"THREADLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"THREADLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"THREADLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"THREADLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"THREADLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"THREADLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"THREADLINE_REDIS_ADDR"`
	Password     string        `envconfig:"THREADLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"THREADLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"THREADLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"THREADLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"THREADLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"THREADLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"THREADLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the external auth service.
type JWTConfig struct {
	Secret            string `envconfig:"THREADLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"THREADLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"THREADLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"THREADLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"THREADLINE_AUTO_MIGRATE" default:"false"`
}

// PricingConfig holds the marketplace-wide fee policy. Amounts are in major
// currency units ("10.00"), the tax rate is a fraction ("0.08").
type PricingConfig struct {
	Currency         string          `envconfig:"THREADLINE_PRICING_CURRENCY" default:"USD"`
	CustomizationFee decimal.Decimal `envconfig:"THREADLINE_PRICING_CUSTOMIZATION_FEE" default:"10.00"`
	HandlingFee      decimal.Decimal `envconfig:"THREADLINE_PRICING_HANDLING_FEE" default:"5.00"`
	PlatformFee      decimal.Decimal `envconfig:"THREADLINE_PRICING_PLATFORM_FEE" default:"0"`
	TaxRate          decimal.Decimal `envconfig:"THREADLINE_PRICING_TAX_RATE" default:"0.08"`
}

func (p PricingConfig) validate() error {
	if p.CustomizationFee.IsNegative() || p.HandlingFee.IsNegative() || p.PlatformFee.IsNegative() {
		return fmt.Errorf("pricing fees must not be negative")
	}
	if p.TaxRate.IsNegative() || p.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0,1)", EnvPricingTaxRate)
	}
	return nil
}

type RiskConfig struct {
	ChallengeThreshold  int   `envconfig:"THREADLINE_RISK_CHALLENGE_THRESHOLD" default:"40"`
	BlockThreshold      int   `envconfig:"THREADLINE_RISK_BLOCK_THRESHOLD" default:"75"`
	HighValueCents      int64 `envconfig:"THREADLINE_RISK_HIGH_VALUE_CENTS" default:"50000"`
	MaxRetriesPenalized int   `envconfig:"THREADLINE_RISK_MAX_RETRIES_PENALIZED" default:"4"`
}

type PaymentsConfig struct {
	InitiateWindow      time.Duration `envconfig:"THREADLINE_PAYMENTS_INITIATE_WINDOW" default:"15m"`
	ReconcileAfter      time.Duration `envconfig:"THREADLINE_PAYMENTS_RECONCILE_AFTER" default:"10m"`
	ReconcileBatchSize  int           `envconfig:"THREADLINE_PAYMENTS_RECONCILE_BATCH_SIZE" default:"100"`
	WebhookIdempotency  time.Duration `envconfig:"THREADLINE_PAYMENTS_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	ManualSettlementFor string        `envconfig:"THREADLINE_PAYMENTS_MANUAL_METHODS" default:"cash,bank_transfer"`
}

// ManualMethods returns the payment methods settled outside a card gateway.
func (p PaymentsConfig) ManualMethods() []string {
	var out []string
	for _, part := range strings.Split(p.ManualSettlementFor, ",") {
		if trimmed := strings.TrimSpace(strings.ToLower(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type SquareConfig struct {
	AccessToken         string `envconfig:"THREADLINE_SQUARE_ACCESS_TOKEN"`
	LocationID          string `envconfig:"THREADLINE_SQUARE_LOCATION_ID"`
	Env                 string `envconfig:"THREADLINE_SQUARE_ENV" default:"sandbox"`
	WebhookSignatureKey string `envconfig:"THREADLINE_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookURL          string `envconfig:"THREADLINE_SQUARE_WEBHOOK_URL"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether card payments can be routed to Square.
func (s SquareConfig) Enabled() bool {
	return s.AccessToken != "" && s.LocationID != ""
}

type GCPConfig struct {
	ProjectID       string `envconfig:"THREADLINE_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"THREADLINE_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"THREADLINE_PUBSUB_NOTIFICATION_TOPIC" default:"tl-notification-events"`
	DomainTopic       string `envconfig:"THREADLINE_PUBSUB_DOMAIN_TOPIC" default:"tl-settlement-events"`
}

type RabbitMQConfig struct {
	URL      string `envconfig:"THREADLINE_RABBITMQ_URL"`
	Exchange string `envconfig:"THREADLINE_RABBITMQ_EXCHANGE" default:"threadline.events"`
}

type OutboxConfig struct {
	Transport      string `envconfig:"THREADLINE_OUTBOX_TRANSPORT" default:"pubsub"`
	BatchSize      int    `envconfig:"THREADLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"THREADLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"THREADLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// PollInterval returns the publisher poll interval.
func (o OutboxConfig) PollInterval() time.Duration {
	if o.PollIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(o.PollIntervalMS) * time.Millisecond
}

// RateLimitConfig throttles purchase and payment POSTs per user.
type RateLimitConfig struct {
	PurchaseWindow time.Duration `envconfig:"THREADLINE_RATE_LIMIT_PURCHASE_WINDOW" default:"1m"`
	PurchaseLimit  int           `envconfig:"THREADLINE_RATE_LIMIT_PURCHASE_LIMIT" default:"20"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"THREADLINE_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"THREADLINE_CRON_LOCK_TTL" default:"2m"`

	OutboxRetention      time.Duration `envconfig:"THREADLINE_CRON_OUTBOX_RETENTION" default:"720h"`
	OutboxRetentionEvery time.Duration `envconfig:"THREADLINE_CRON_OUTBOX_RETENTION_EVERY" default:"6h"`
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
