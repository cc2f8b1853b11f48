package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Gateway  GatewayConfig
	Notifier NotifierConfig
	Payments PaymentsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GatewayConfig holds credentials and endpoints for the payment gateway.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	CallbackURL   string
	Timeout       time.Duration
}

// NotifierConfig configures the outbound mail relay and its dispatch workers.
type NotifierConfig struct {
	RelayURL          string
	Sender            string
	Timeout           time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// PaymentsConfig tunes payment behaviour.
type PaymentsConfig struct {
	Currency       string
	ReceiptPrefix  string
	VerifyCacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:       v.GetString("GATEWAY_BASE_URL"),
		SecretKey:     v.GetString("GATEWAY_SECRET_KEY"),
		WebhookSecret: v.GetString("GATEWAY_WEBHOOK_SECRET"),
		CallbackURL:   v.GetString("GATEWAY_CALLBACK_URL"),
		Timeout:       parseDuration(v.GetString("GATEWAY_TIMEOUT"), 15*time.Second),
	}

	cfg.Notifier = NotifierConfig{
		RelayURL:          v.GetString("NOTIFIER_RELAY_URL"),
		Sender:            v.GetString("NOTIFIER_SENDER"),
		Timeout:           parseDuration(v.GetString("NOTIFIER_TIMEOUT"), 10*time.Second),
		WorkerConcurrency: v.GetInt("NOTIFIER_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFIER_WORKER_RETRIES"),
	}

	cfg.Payments = PaymentsConfig{
		Currency:       v.GetString("PAYMENTS_CURRENCY"),
		ReceiptPrefix:  v.GetString("PAYMENTS_RECEIPT_PREFIX"),
		VerifyCacheTTL: parseDuration(v.GetString("PAYMENTS_VERIFY_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "coursepay")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_BASE_URL", "https://api.paygate.test")
	v.SetDefault("GATEWAY_SECRET_KEY", "sk_test_dev")
	v.SetDefault("GATEWAY_WEBHOOK_SECRET", "whsec_dev")
	v.SetDefault("GATEWAY_CALLBACK_URL", "http://localhost:8080/api/v1/payments/callback")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")

	v.SetDefault("NOTIFIER_RELAY_URL", "")
	v.SetDefault("NOTIFIER_SENDER", "no-reply@coursepay.local")
	v.SetDefault("NOTIFIER_TIMEOUT", "10s")
	v.SetDefault("NOTIFIER_WORKER_CONCURRENCY", 2)
	v.SetDefault("NOTIFIER_WORKER_RETRIES", 3)

	v.SetDefault("PAYMENTS_CURRENCY", "NGN")
	v.SetDefault("PAYMENTS_RECEIPT_PREFIX", "RCPT")
	v.SetDefault("PAYMENTS_VERIFY_CACHE_TTL", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
