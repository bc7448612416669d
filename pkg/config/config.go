package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ORDERPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ORDERPAY_DB_DSN"
	EnvDBHost = "ORDERPAY_DB_HOST"
	EnvDBUser = "ORDERPAY_DB_USER"
	EnvDBName = "ORDERPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Orders       OrdersConfig
	Wompi        WompiConfig
	Resend       ResendConfig
	Webhooks     WebhooksConfig
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
	Env          string `envconfig:"ORDERPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERPAY_DB_DSN"`
	Driver string `envconfig:"ORDERPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERPAY_DB_USER"`
	LegacyPassword string `envconfig:"ORDERPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERPAY_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERPAY_AUTO_MIGRATE" default:"false"`
}

// OrdersConfig carries the payment policy thresholds.
type OrdersConfig struct {
	MinAmount        int `envconfig:"ORDERPAY_ORDERS_MIN_AMOUNT" default:"1500"`
	MinCardHolderLen int `envconfig:"ORDERPAY_ORDERS_MIN_CARD_HOLDER_LEN" default:"5"`
}

// WompiConfig carries the gateway credentials. Validation happens at client
// construction so a missing key fails the boot, not the first charge.
type WompiConfig struct {
	PublicKey       string `envconfig:"ORDERPAY_WOMPI_PUBLIC_KEY"`
	SecretKey       string `envconfig:"ORDERPAY_WOMPI_SECRET_KEY"`
	BaseURL         string `envconfig:"ORDERPAY_WOMPI_BASE_URL"`
	IntegritySecret string `envconfig:"ORDERPAY_WOMPI_INTEGRITY_SECRET"`
	Currency        string `envconfig:"ORDERPAY_WOMPI_CURRENCY" default:"COP"`
}

type ResendConfig struct {
	APIKey      string `envconfig:"ORDERPAY_RESEND_API_KEY"`
	DefaultFrom string `envconfig:"ORDERPAY_RESEND_FROM_EMAIL" default:"onboarding@resend.dev"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"ORDERPAY_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
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
