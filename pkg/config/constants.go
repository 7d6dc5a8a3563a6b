package config

const (
	EnvPrefix = "MARKETPLACE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETPLACE_APP_ENV"
	EnvPort     = "MARKETPLACE_APP_PORT"
	EnvDBDSN    = "MARKETPLACE_DB_DSN"
	EnvDBHost   = "MARKETPLACE_DB_HOST"
	EnvDBUser   = "MARKETPLACE_DB_USER"
	EnvDBName   = "MARKETPLACE_DB_NAME"
	EnvRedisURL = "MARKETPLACE_REDIS_URL"

	EnvJWTSecret  = "MARKETPLACE_JWT_SECRET"
	EnvJWTIssuer  = "MARKETPLACE_JWT_ISSUER"
	EnvJWTExpMins = "MARKETPLACE_JWT_EXPIRATION_MINUTES"

	EnvEventsBroker       = "MARKETPLACE_EVENTS_BROKER"
	EnvGCPProjectID       = "MARKETPLACE_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "MARKETPLACE_PUBSUB_ORDERS_TOPIC"
	EnvPubSubCatalogTopic = "MARKETPLACE_PUBSUB_CATALOG_TOPIC"
	EnvKafkaBrokers       = "MARKETPLACE_KAFKA_BROKERS"

	EnvReservationSweepEnabled = "MARKETPLACE_CRON_RESERVATION_SWEEP_ENABLED"
	EnvCheckoutTaxRate         = "MARKETPLACE_CHECKOUT_TAX_RATE"

	BrokerPubSub = "pubsub"
	BrokerKafka  = "kafka"
)

var legacyDBEnvVars = []string{
	EnvDBHost,
	EnvDBUser,
	EnvDBName,
}
