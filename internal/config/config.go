package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name         string        `yaml:"name" validate:"required"`
	Env          string        `yaml:"env"`
	Port         string        `yaml:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            string        `yaml:"port" validate:"required,numeric"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname" validate:"required"`
	SSLMode         string        `yaml:"sslmode"`
	Schema          string        `yaml:"schema"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url" validate:"omitempty,url"`
	CancelURL     string `yaml:"cancel_url" validate:"omitempty,url"`
	Currency      string `yaml:"currency" validate:"required,len=3"`
}

type DocumentsConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ShopConfig struct {
	ShippingFee           decimal.Decimal `yaml:"shipping_fee"`
	FreeShippingThreshold decimal.Decimal `yaml:"free_shipping_threshold"`
	FreeShippingCode      string          `yaml:"free_shipping_code"`
	OperatorEmail         string          `yaml:"operator_email" validate:"omitempty,email"`
	HoldTTL               time.Duration   `yaml:"hold_ttl"`
	ReturnWindowDays      int             `yaml:"return_window_days" validate:"gte=1"`
	SweepInterval         time.Duration   `yaml:"sweep_interval"`
	OutboxInterval        time.Duration   `yaml:"outbox_interval"`
	OutboxBatchSize       int             `yaml:"outbox_batch_size" validate:"gte=1"`
}

type OTelConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Documents DocumentsConfig `yaml:"documents"`
	Shop      ShopConfig      `yaml:"shop"`
	OTel      OTelConfig      `yaml:"otel"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "order-service"
	cfg.App.Env = "dev"
	cfg.App.Port = "8080"
	cfg.App.ReadTimeout = 10 * time.Second
	cfg.App.WriteTimeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.Schema = "public"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"
	cfg.Redis.IdempotencyTTL = 24 * time.Hour
	cfg.Kafka.NotificationsTopic = "storefront.notifications"
	cfg.Stripe.Currency = "eur"
	cfg.Documents.Timeout = 5 * time.Second
	cfg.Shop.ShippingFee = decimal.RequireFromString("4.99")
	cfg.Shop.FreeShippingThreshold = decimal.RequireFromString("50.00")
	cfg.Shop.FreeShippingCode = "ENVIOGRATIS"
	cfg.Shop.HoldTTL = 30 * time.Minute
	cfg.Shop.ReturnWindowDays = 14
	cfg.Shop.SweepInterval = time.Minute
	cfg.Shop.OutboxInterval = 500 * time.Millisecond
	cfg.Shop.OutboxBatchSize = 100
	cfg.OTel.ServiceName = "order-service"
	return cfg
}

// NewConfig loads configuration from an optional .env file, an optional YAML
// file named by CONFIG_PATH and finally the process environment.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return Load(os.Getenv("CONFIG_PATH"))
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed open config file: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("invalid config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.Schema, "DB_SCHEMA")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB must be an integer: %w", err)
		}
		cfg.Redis.DB = n
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	setString(&cfg.Kafka.NotificationsTopic, "KAFKA_NOTIFICATIONS_TOPIC")

	setString(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&cfg.Stripe.SuccessURL, "STRIPE_SUCCESS_URL")
	setString(&cfg.Stripe.CancelURL, "STRIPE_CANCEL_URL")
	setString(&cfg.Stripe.Currency, "STRIPE_CURRENCY")

	setString(&cfg.Documents.BaseURL, "DOCUMENTS_BASE_URL")

	if v := os.Getenv("SHOP_SHIPPING_FEE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("SHOP_SHIPPING_FEE must be a decimal: %w", err)
		}
		cfg.Shop.ShippingFee = d
	}
	if v := os.Getenv("SHOP_FREE_SHIPPING_THRESHOLD"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("SHOP_FREE_SHIPPING_THRESHOLD must be a decimal: %w", err)
		}
		cfg.Shop.FreeShippingThreshold = d
	}
	setString(&cfg.Shop.FreeShippingCode, "SHOP_FREE_SHIPPING_CODE")
	setString(&cfg.Shop.OperatorEmail, "SHOP_OPERATOR_EMAIL")
	if v := os.Getenv("SHOP_HOLD_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHOP_HOLD_TTL must be a duration: %w", err)
		}
		cfg.Shop.HoldTTL = d
	}

	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
