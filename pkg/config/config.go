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
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Reservation  ReservationConfig
	Checkout     CheckoutConfig
	Cache        CacheConfig
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
	if err := cfg.Eventing.validate(cfg.GCP, cfg.PubSub, cfg.Kafka); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MARKETPLACE_APP_ENV" required:"true"`
	Port         string   `envconfig:"MARKETPLACE_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MARKETPLACE_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MARKETPLACE_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"MARKETPLACE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPLACE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPLACE_DB_DSN"`
	Driver string `envconfig:"MARKETPLACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPLACE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPLACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPLACE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPLACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPLACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPLACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPLACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPLACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	TxTimeout       time.Duration `envconfig:"MARKETPLACE_DB_TX_TIMEOUT" default:"10s"`
	TxMaxWait       time.Duration `envconfig:"MARKETPLACE_DB_TX_MAX_WAIT" default:"2s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPLACE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETPLACE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPLACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPLACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPLACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPLACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETPLACE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETPLACE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETPLACE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETPLACE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETPLACE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	Broker string `envconfig:"MARKETPLACE_EVENTS_BROKER" default:"pubsub"`
	// Consumer side. Failed deliveries are retried up to ConsumerMaxAttempts
	// before the message is skipped.
	ConsumerIdempotencyTTL time.Duration `envconfig:"MARKETPLACE_EVENTS_CONSUMER_IDEMPOTENCY_TTL" default:"168h"`
	ConsumerMaxAttempts    int           `envconfig:"MARKETPLACE_EVENTS_CONSUMER_MAX_ATTEMPTS" default:"5"`
}

func (e EventingConfig) validate(gcp GCPConfig, ps PubSubConfig, kafka KafkaConfig) error {
	switch strings.ToLower(strings.TrimSpace(e.Broker)) {
	case "", BrokerPubSub:
		if gcp.ProjectID == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvEventsBroker, BrokerPubSub)
		}
		if ps.OrdersTopic == "" || ps.CatalogTopic == "" {
			return fmt.Errorf("%s and %s are required", EnvPubSubOrdersTopic, EnvPubSubCatalogTopic)
		}
	case BrokerKafka:
		if len(kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventsBroker, BrokerKafka)
		}
	default:
		return fmt.Errorf("unsupported events broker %q", e.Broker)
	}
	return nil
}

// BrokerKind returns the normalized broker name.
func (e EventingConfig) BrokerKind() string {
	kind := strings.ToLower(strings.TrimSpace(e.Broker))
	if kind == "" {
		return BrokerPubSub
	}
	return kind
}

type GCPConfig struct {
	ProjectID string `envconfig:"MARKETPLACE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"MARKETPLACE_PUBSUB_ORDERS_TOPIC"`
	CatalogTopic          string `envconfig:"MARKETPLACE_PUBSUB_CATALOG_TOPIC"`
	AnalyticsSubscription string `envconfig:"MARKETPLACE_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"marketplace-analytics"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"MARKETPLACE_KAFKA_BROKERS"`
	OrdersTopic  string        `envconfig:"MARKETPLACE_KAFKA_ORDERS_TOPIC" default:"marketplace.orders"`
	CatalogTopic string        `envconfig:"MARKETPLACE_KAFKA_CATALOG_TOPIC" default:"marketplace.catalog"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_KAFKA_WRITE_TIMEOUT" default:"10s"`
	// AnalyticsGroup is the consumer group of the analytics worker.
	AnalyticsGroup string `envconfig:"MARKETPLACE_KAFKA_ANALYTICS_GROUP" default:"marketplace-analytics"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKETPLACE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"MARKETPLACE_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Schedule                string        `envconfig:"MARKETPLACE_CRON_SCHEDULE" default:"@every 1m"`
	LockTTL                 time.Duration `envconfig:"MARKETPLACE_CRON_LOCK_TTL" default:"10m"`
	ReservationSweepEnabled bool          `envconfig:"MARKETPLACE_CRON_RESERVATION_SWEEP_ENABLED" default:"true"`
	AnalyticsRollupEnabled  bool          `envconfig:"MARKETPLACE_CRON_ANALYTICS_ROLLUP_ENABLED" default:"true"`
	OutboxRetentionEnabled  bool          `envconfig:"MARKETPLACE_CRON_OUTBOX_RETENTION_ENABLED" default:"true"`
}

type ReservationConfig struct {
	DefaultTTL     time.Duration `envconfig:"MARKETPLACE_RESERVATION_TTL" default:"15m"`
	SweepBatchSize int           `envconfig:"MARKETPLACE_RESERVATION_SWEEP_BATCH_SIZE" default:"200"`
}

type CheckoutConfig struct {
	TaxRate           decimal.Decimal `envconfig:"MARKETPLACE_CHECKOUT_TAX_RATE" default:"0.08"`
	ShippingPerVendor decimal.Decimal `envconfig:"MARKETPLACE_CHECKOUT_SHIPPING_PER_VENDOR" default:"5.00"`
}

type CacheConfig struct {
	CategoryTreeTTL time.Duration `envconfig:"MARKETPLACE_CACHE_CATEGORY_TREE_TTL" default:"5m"`
}

// RateLimitConfig throttles authenticated API traffic per subject. A zero
// limit disables the limiter.
type RateLimitConfig struct {
	Window time.Duration `envconfig:"MARKETPLACE_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"MARKETPLACE_RATE_LIMIT_REQUESTS" default:"120"`
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
