package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "MERCADO"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv    = "MERCADO_APP_ENV"
	EnvPort      = "MERCADO_APP_PORT"
	EnvDBDSN     = "MERCADO_DB_DSN"
	EnvDBHost    = "MERCADO_DB_HOST"
	EnvDBUser    = "MERCADO_DB_USER"
	EnvDBName    = "MERCADO_DB_NAME"
	EnvRedisURL  = "MERCADO_REDIS_URL"
	EnvJWTSecret = "MERCADO_JWT_SECRET"
	EnvJWTIssuer = "MERCADO_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Checkout     CheckoutConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.parseAmounts(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MERCADO_APP_ENV" required:"true"`
	Port         string `envconfig:"MERCADO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MERCADO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MERCADO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MERCADO_DB_DSN"`
	Driver string `envconfig:"MERCADO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MERCADO_DB_HOST"`
	LegacyPort     int    `envconfig:"MERCADO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MERCADO_DB_USER"`
	LegacyPassword string `envconfig:"MERCADO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MERCADO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MERCADO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MERCADO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MERCADO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MERCADO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MERCADO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MERCADO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MERCADO_REDIS_ADDR"`
	Password     string        `envconfig:"MERCADO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MERCADO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MERCADO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MERCADO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MERCADO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MERCADO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MERCADO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MERCADO_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MERCADO_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MERCADO_JWT_EXPIRATION_MINUTES" default:"60"`
}

// CheckoutConfig tunes the commit engine and the pricing rules applied to carts.
type CheckoutConfig struct {
	CommitTimeout     time.Duration `envconfig:"MERCADO_CHECKOUT_COMMIT_TIMEOUT" default:"5s"`
	DeliveryFeeRaw    string        `envconfig:"MERCADO_CHECKOUT_DELIVERY_FEE_PER_SUPPLIER" default:"3"`
	CODSurchargeRaw   string        `envconfig:"MERCADO_CHECKOUT_COD_SURCHARGE" default:"3"`
	OrderNumberPrefix string        `envconfig:"MERCADO_CHECKOUT_ORDER_NUMBER_PREFIX" default:"MM"`

	DeliveryFeePerSupplier decimal.Decimal `ignored:"true"`
	CODSurcharge           decimal.Decimal `ignored:"true"`
}

func (c *CheckoutConfig) parseAmounts() error {
	fee, err := decimal.NewFromString(c.DeliveryFeeRaw)
	if err != nil {
		return fmt.Errorf("invalid delivery fee %q: %w", c.DeliveryFeeRaw, err)
	}
	surcharge, err := decimal.NewFromString(c.CODSurchargeRaw)
	if err != nil {
		return fmt.Errorf("invalid cod surcharge %q: %w", c.CODSurchargeRaw, err)
	}
	c.DeliveryFeePerSupplier = fee
	c.CODSurcharge = surcharge
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MERCADO_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MERCADO_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MERCADO_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"MERCADO_PUBSUB_ORDERS_TOPIC" default:"mercado-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MERCADO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MERCADO_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MERCADO_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
