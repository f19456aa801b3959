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
	// EnvPrefix namespaces every environment variable consumed by the platform.
	EnvPrefix = "markethub"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	Checkout     CheckoutConfig
	Orders       OrdersConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Checkout.DeliveryFeeAmount(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETHUB_DB_DSN"`
	Driver string `envconfig:"MARKETHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETHUB_DB_USER"`
	LegacyPassword string `envconfig:"MARKETHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" || strings.EqualFold(d.Driver, "sqlite") {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("either MARKETHUB_DB_DSN or MARKETHUB_DB_HOST/USER/NAME must be set")
	}
	userInfo := url.User(d.LegacyUser)
	if d.LegacyPassword != "" {
		userInfo = url.UserPassword(d.LegacyUser, d.LegacyPassword)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:     d.LegacyName,
		RawQuery: "sslmode=" + d.LegacySSLMode,
	}
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETHUB_REDIS_URL"`
	Address      string        `envconfig:"MARKETHUB_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig points the platform at the hosted payment provider.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"MARKETHUB_GATEWAY_BASE_URL" default:"https://api.gateway.example"`
	SecretKey     string        `envconfig:"MARKETHUB_GATEWAY_SECRET_KEY"`
	WebhookSecret string        `envconfig:"MARKETHUB_GATEWAY_WEBHOOK_SECRET"`
	CallbackURL   string        `envconfig:"MARKETHUB_GATEWAY_CALLBACK_URL"`
	Timeout       time.Duration `envconfig:"MARKETHUB_GATEWAY_TIMEOUT" default:"5s"`
}

type CheckoutConfig struct {
	DeliveryFee string `envconfig:"MARKETHUB_CHECKOUT_DELIVERY_FEE" default:"3000.00"`
}

// DeliveryFeeAmount parses the configured flat delivery fee.
func (c CheckoutConfig) DeliveryFeeAmount() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing MARKETHUB_CHECKOUT_DELIVERY_FEE: %w", err)
	}
	if fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("MARKETHUB_CHECKOUT_DELIVERY_FEE must not be negative")
	}
	return fee, nil
}

type OrdersConfig struct {
	CancelWindow time.Duration `envconfig:"MARKETHUB_ORDERS_CANCEL_WINDOW" default:"4h"`
}

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"MARKETHUB_OUTBOX_POLL_INTERVAL" default:"2s"`
	BatchSize    int           `envconfig:"MARKETHUB_OUTBOX_BATCH_SIZE" default:"50"`
	MaxAttempts  int           `envconfig:"MARKETHUB_OUTBOX_MAX_ATTEMPTS" default:"5"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"MARKETHUB_CRON_INTERVAL" default:"10m"`
	LockTTL             time.Duration `envconfig:"MARKETHUB_CRON_LOCK_TTL" default:"15m"`
	StaleUnpaidAfter    time.Duration `envconfig:"MARKETHUB_CRON_STALE_UNPAID_AFTER" default:"4h"`
	OutboxRetentionDays int           `envconfig:"MARKETHUB_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETHUB_AUTO_MIGRATE" default:"false"`
}
