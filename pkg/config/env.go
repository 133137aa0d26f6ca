package config

// EnvPrefix is passed to envconfig; every field carries an explicit key.
const EnvPrefix = "THREADLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "THREADLINE_APP_ENV"
	EnvPort     = "THREADLINE_APP_PORT"
	EnvLogLevel = "THREADLINE_LOG_LEVEL"

	EnvDBDSN  = "THREADLINE_DB_DSN"
	EnvDBHost = "THREADLINE_DB_HOST"
	EnvDBUser = "THREADLINE_DB_USER"
	EnvDBName = "THREADLINE_DB_NAME"

	EnvRedisURL = "THREADLINE_REDIS_URL"

	EnvJWTSecret  = "THREADLINE_JWT_SECRET"
	EnvJWTIssuer  = "THREADLINE_JWT_ISSUER"
	EnvJWTExpMins = "THREADLINE_JWT_EXPIRATION_MINUTES"

	EnvPricingCustomizationFee = "THREADLINE_PRICING_CUSTOMIZATION_FEE"
	EnvPricingHandlingFee      = "THREADLINE_PRICING_HANDLING_FEE"
	EnvPricingTaxRate          = "THREADLINE_PRICING_TAX_RATE"

	EnvRiskChallengeThreshold = "THREADLINE_RISK_CHALLENGE_THRESHOLD"
	EnvRiskBlockThreshold     = "THREADLINE_RISK_BLOCK_THRESHOLD"

	EnvPaymentsInitiateWindow = "THREADLINE_PAYMENTS_INITIATE_WINDOW"
	EnvOutboxTransport        = "THREADLINE_OUTBOX_TRANSPORT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
