/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	BillingEventQueue    string `mapstructure:"BILLING_EVENT_QUEUE"`
	GatewayAPIBaseURL    string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayKeyID         string `mapstructure:"GATEWAY_KEY_ID"`
	GatewayKeySecret     string `mapstructure:"GATEWAY_KEY_SECRET"`
	GatewayCurrency      string `mapstructure:"GATEWAY_CURRENCY"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	// Billing cycle and penalty policy.
	DueOffsetDays        int    `mapstructure:"BILL_DUE_OFFSET_DAYS"`
	PenaltyGraceDays     int    `mapstructure:"PENALTY_GRACE_DAYS"`
	PenaltyPerDayPaise   int64  `mapstructure:"PENALTY_PER_DAY_PAISE"`
	PenaltyCapPaise      int64  `mapstructure:"PENALTY_CAP_PAISE"`
	PenaltySweepSchedule string `mapstructure:"PENALTY_SWEEP_SCHEDULE"`

	// Per-tenant rate limits on the payment endpoints.
	OrderRateLimitPerMinute  int `mapstructure:"ORDER_RATE_LIMIT_PER_MINUTE"`
	VerifyRateLimitPerMinute int `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`

	// Event distribution channel tuning.
	SessionSendBuffer int `mapstructure:"SESSION_SEND_BUFFER"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BILLING_EVENT_QUEUE", "billing_service.event_stream")
	viper.SetDefault("GATEWAY_CURRENCY", "INR")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("BILL_DUE_OFFSET_DAYS", 10)
	viper.SetDefault("PENALTY_GRACE_DAYS", 3)
	viper.SetDefault("PENALTY_PER_DAY_PAISE", 5000)
	viper.SetDefault("PENALTY_CAP_PAISE", 50000)
	viper.SetDefault("PENALTY_SWEEP_SCHEDULE", "30 0 * * *")
	viper.SetDefault("ORDER_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("SESSION_SEND_BUFFER", 64)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BILLING_EVENT_QUEUE")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_KEY_ID")
	_ = viper.BindEnv("GATEWAY_KEY_SECRET")
	_ = viper.BindEnv("GATEWAY_CURRENCY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "BILLING_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("BILL_DUE_OFFSET_DAYS")
	_ = viper.BindEnv("PENALTY_GRACE_DAYS")
	_ = viper.BindEnv("PENALTY_PER_DAY_PAISE")
	_ = viper.BindEnv("PENALTY_CAP_PAISE")
	_ = viper.BindEnv("PENALTY_SWEEP_SCHEDULE")
	_ = viper.BindEnv("ORDER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SESSION_SEND_BUFFER")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("BILLING_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "billing:rate_limit"
	}

	if config.DueOffsetDays <= 0 {
		log.Printf("level=warn component=config msg=\"invalid due offset; using default\" days=%d", config.DueOffsetDays)
		config.DueOffsetDays = 10
	}
	if config.PenaltyGraceDays < 0 {
		log.Printf("level=warn component=config msg=\"negative grace period configured; coercing to zero\" days=%d", config.PenaltyGraceDays)
		config.PenaltyGraceDays = 0
	}
	if config.PenaltyPerDayPaise < 0 {
		log.Printf("level=warn component=config msg=\"negative per-day penalty configured; coercing to zero\" paise=%d", config.PenaltyPerDayPaise)
		config.PenaltyPerDayPaise = 0
	}
	if config.PenaltyCapPaise < 0 {
		config.PenaltyCapPaise = 0
	}
	if config.OrderRateLimitPerMinute <= 0 {
		config.OrderRateLimitPerMinute = 30
	}
	if config.VerifyRateLimitPerMinute <= 0 {
		config.VerifyRateLimitPerMinute = 60
	}
	if config.SessionSendBuffer <= 0 {
		config.SessionSendBuffer = 64
	}

	return
}
