package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Service   ServiceConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Escrow    EscrowConfig
	Logistics LogisticsConfig
	Orders    OrdersConfig
	Cron      CronConfig
	Eventing  EventingConfig
	GCP       GCPConfig
	PubSub    PubSubConfig
	Outbox    OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"REMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REMARKET_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"REMARKET_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REMARKET_DB_DSN"`
	Driver string `envconfig:"REMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"REMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"REMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"REMARKET_DB_USER"`
	LegacyPassword string `envconfig:"REMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"REMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"REMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"REMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"REMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"REMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"REMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"REMARKET_JWT_EXPIRATION_MINUTES" required:"true"`
}

// GatewayConfig holds the payment gateway callback settings. The gateway
// pushes confirmation webhooks; we never call out to it synchronously.
type GatewayConfig struct {
	ChecksumKey   string        `envconfig:"REMARKET_GATEWAY_CHECKSUM_KEY" required:"true"`
	SuccessCode   string        `envconfig:"REMARKET_GATEWAY_SUCCESS_CODE" default:"00"`
	ReturnURL     string        `envconfig:"REMARKET_GATEWAY_RETURN_URL"`
	CancelURL     string        `envconfig:"REMARKET_GATEWAY_CANCEL_URL"`
	PaymentWindow time.Duration `envconfig:"REMARKET_GATEWAY_PAYMENT_WINDOW" default:"30m"`
}

type EscrowConfig struct {
	// GraceWindow is how long after delivery funds stay in holding before
	// the sweep releases them automatically.
	GraceWindow   time.Duration `envconfig:"REMARKET_ESCROW_GRACE_WINDOW" default:"72h"`
	SweepBatch    int           `envconfig:"REMARKET_ESCROW_SWEEP_BATCH" default:"200"`
	SweepInterval time.Duration `envconfig:"REMARKET_ESCROW_SWEEP_INTERVAL" default:"10m"`
}

type LogisticsConfig struct {
	PickupTokenTTL    time.Duration `envconfig:"REMARKET_LOGISTICS_PICKUP_TOKEN_TTL" default:"24h"`
	MinPickupPhotos   int           `envconfig:"REMARKET_LOGISTICS_MIN_PICKUP_PHOTOS" default:"1"`
	MinDeliveryPhotos int           `envconfig:"REMARKET_LOGISTICS_MIN_DELIVERY_PHOTOS" default:"1"`
	InactivityWindow  time.Duration `envconfig:"REMARKET_LOGISTICS_INACTIVITY_WINDOW" default:"336h"`
	ExpiryBatch       int           `envconfig:"REMARKET_LOGISTICS_EXPIRY_BATCH" default:"200"`
}

type OrdersConfig struct {
	// ExpiryTTL is how long an unpaid order may sit in pending before the
	// expiry sweep cancels it.
	ExpiryTTL     time.Duration `envconfig:"REMARKET_ORDERS_EXPIRY_TTL" default:"30m"`
	ExpiryBatch   int           `envconfig:"REMARKET_ORDERS_EXPIRY_BATCH" default:"200"`
	FeePercentage string        `envconfig:"REMARKET_ORDERS_FEE_PERCENTAGE" default:"5.00"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"REMARKET_CRON_INTERVAL" default:"10m"`
	LockTTL  time.Duration `envconfig:"REMARKET_CRON_LOCK_TTL" default:"15m"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"REMARKET_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"REMARKET_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"REMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"REMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"REMARKET_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription string `envconfig:"REMARKET_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	EscrowTopic        string `envconfig:"REMARKET_PUBSUB_ESCROW_TOPIC" required:"true"`
	EscrowSubscription string `envconfig:"REMARKET_PUBSUB_ESCROW_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"REMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"REMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"REMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
