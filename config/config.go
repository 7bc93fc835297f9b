package config

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DatabaseName      string `mapstructure:"DATABASE_NAME"`
	Env               string `mapstructure:"ENV"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	AdminToken        string `mapstructure:"ADMIN_TOKEN"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisCacheDB  int    `mapstructure:"REDIS_CACHE_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Stripe configuration.
	StripeKey           string `mapstructure:"STRIPE_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeMode          string `mapstructure:"STRIPE_MODE"`
	Currency            string `mapstructure:"CURRENCY"`

	// Platform commission, as a decimal fraction ("0.20").
	CommissionRate string `mapstructure:"COMMISSION_RATE"`

	// Circuit breaker and retry settings for payment provider calls.
	BreakerFailureThreshold int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerSuccessThreshold int `mapstructure:"BREAKER_SUCCESS_THRESHOLD"`
	BreakerTimeoutMs        int `mapstructure:"BREAKER_TIMEOUT_MS"`
	RetryMaxAttempts        int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryBaseDelayMs        int `mapstructure:"RETRY_BASE_DELAY_MS"`
	RetryMaxDelayMs         int `mapstructure:"RETRY_MAX_DELAY_MS"`

	// Reconciliation sweep.
	ReconcileBatchSize    int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	ReconcileGraceMinutes int    `mapstructure:"RECONCILE_GRACE_MINUTES"`
	ReconcileSchedule     string `mapstructure:"RECONCILE_SCHEDULE"`
	WorkerConcurrency     int    `mapstructure:"WORKER_CONCURRENCY"`

	// Collaborators.
	RabbitMQURL         string `mapstructure:"RABBITMQ_URL"`
	FirebaseCredentials string `mapstructure:"FIREBASE_CREDENTIALS"`
	OpsAlertTopic       string `mapstructure:"OPS_ALERT_TOPIC"`
	CloudinaryCloudName string `mapstructure:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `mapstructure:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `mapstructure:"CLOUDINARY_API_SECRET"`
}

var AppConfig Config

func LoadConfig() {
	// Look for a config file named "config.yaml" in the current and "config" directory.
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No config file found, using environment variables only")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := AppConfig.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	viper.SetDefault("DATABASE_URL", "mongodb://localhost:27017")
	viper.SetDefault("DATABASE_NAME", "homeclean")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_CACHE_DB", 0)
	viper.SetDefault("REDIS_QUEUE_DB", 1)
	viper.SetDefault("STRIPE_KEY", "")
	viper.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	viper.SetDefault("STRIPE_MODE", "test")
	viper.SetDefault("CURRENCY", "eur")
	viper.SetDefault("COMMISSION_RATE", "0.20")
	viper.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_SUCCESS_THRESHOLD", 2)
	viper.SetDefault("BREAKER_TIMEOUT_MS", 60000)
	viper.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BASE_DELAY_MS", 200)
	viper.SetDefault("RETRY_MAX_DELAY_MS", 2000)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("RECONCILE_GRACE_MINUTES", 15)
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1h")
	viper.SetDefault("WORKER_CONCURRENCY", 10)
	viper.SetDefault("RABBITMQ_URL", "")
	viper.SetDefault("FIREBASE_CREDENTIALS", "")
	viper.SetDefault("OPS_ALERT_TOPIC", "ops-alerts")
	viper.SetDefault("CLOUDINARY_CLOUD_NAME", "")
	viper.SetDefault("CLOUDINARY_API_KEY", "")
	viper.SetDefault("CLOUDINARY_API_SECRET", "")
	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("ADMIN_TOKEN", "")
}

// Validate rejects settings that would break the commission or breaker invariants.
func (c Config) Validate() error {
	rate, err := decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return fmt.Errorf("COMMISSION_RATE %q: %w", c.CommissionRate, err)
	}
	if !rate.IsPositive() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be in (0,1), got %s", c.CommissionRate)
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerSuccessThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be >= 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.StripeMode != "test" && c.StripeMode != "live" {
		return fmt.Errorf("STRIPE_MODE must be test or live, got %q", c.StripeMode)
	}
	return nil
}

// BreakerTimeout is the OPEN -> HALF_OPEN cooldown.
func (c Config) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutMs) * time.Millisecond
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c Config) ReconcileGrace() time.Duration {
	return time.Duration(c.ReconcileGraceMinutes) * time.Minute
}

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}
