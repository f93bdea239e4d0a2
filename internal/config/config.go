/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
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

// Config holds all the configuration variables for the promotion engine.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix   string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	PromotionEventExchange string `mapstructure:"PROMOTION_EVENT_EXCHANGE"`

	JWKSURL      string `mapstructure:"JWKS_URL"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	LauncherBaseURL string `mapstructure:"LAUNCHER_BASE_URL"`
	LauncherAPIKey  string `mapstructure:"LAUNCHER_API_KEY"`

	SignupBonusCredits int64 `mapstructure:"SIGNUP_BONUS_CREDITS"`

	VerificationDurationTicks int `mapstructure:"VERIFICATION_DURATION_TICKS"`
	VerificationTickSeconds   int `mapstructure:"VERIFICATION_TICK_SECONDS"`

	FeedWindow      int `mapstructure:"FEED_WINDOW"`
	FeedPollSeconds int `mapstructure:"FEED_POLL_SECONDS"`

	ClaimRateLimitPerMinute  int `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	ReportRateLimitPerMinute int `mapstructure:"REPORT_RATE_LIMIT_PER_MINUTE"`

	SettlementRedriveSchedule  string `mapstructure:"SETTLEMENT_REDRIVE_SCHEDULE"`
	SettlementRedriveMinAgeSec int    `mapstructure:"SETTLEMENT_REDRIVE_MIN_AGE_SECONDS"`
	StaleSessionSchedule       string `mapstructure:"STALE_SESSION_SCHEDULE"`
	StaleSessionMaxAgeMinutes  int    `mapstructure:"STALE_SESSION_MAX_AGE_MINUTES"`
	LedgerAuditSchedule        string `mapstructure:"LEDGER_AUDIT_SCHEDULE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "creatorlift:rate_limit")
	viper.SetDefault("PROMOTION_EVENT_EXCHANGE", "promotion.events")
	viper.SetDefault("SIGNUP_BONUS_CREDITS", 100)
	viper.SetDefault("VERIFICATION_DURATION_TICKS", 15)
	viper.SetDefault("VERIFICATION_TICK_SECONDS", 1)
	viper.SetDefault("FEED_WINDOW", 50)
	viper.SetDefault("FEED_POLL_SECONDS", 2)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("REPORT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("SETTLEMENT_REDRIVE_SCHEDULE", "@every 1m")
	viper.SetDefault("SETTLEMENT_REDRIVE_MIN_AGE_SECONDS", 30)
	viper.SetDefault("STALE_SESSION_SCHEDULE", "@every 5m")
	viper.SetDefault("STALE_SESSION_MAX_AGE_MINUTES", 60)
	viper.SetDefault("LEDGER_AUDIT_SCHEDULE", "@hourly")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROMOTION_EVENT_EXCHANGE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("LAUNCHER_BASE_URL")
	_ = viper.BindEnv("LAUNCHER_API_KEY")
	_ = viper.BindEnv("SIGNUP_BONUS_CREDITS")
	_ = viper.BindEnv("VERIFICATION_DURATION_TICKS")
	_ = viper.BindEnv("VERIFICATION_TICK_SECONDS")
	_ = viper.BindEnv("FEED_WINDOW")
	_ = viper.BindEnv("FEED_POLL_SECONDS")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REPORT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SETTLEMENT_REDRIVE_SCHEDULE")
	_ = viper.BindEnv("SETTLEMENT_REDRIVE_MIN_AGE_SECONDS")
	_ = viper.BindEnv("STALE_SESSION_SCHEDULE")
	_ = viper.BindEnv("STALE_SESSION_MAX_AGE_MINUTES")
	_ = viper.BindEnv("LEDGER_AUDIT_SCHEDULE")

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

	// Platform-assigned port (e.g. on a PaaS) takes precedence.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	if config.SignupBonusCredits < 0 {
		log.Printf("level=warn component=config msg=\"negative signup bonus configured; coercing to zero\" credits=%d", config.SignupBonusCredits)
		config.SignupBonusCredits = 0
	}
	if config.VerificationDurationTicks <= 0 {
		config.VerificationDurationTicks = 15
	}
	if config.VerificationTickSeconds <= 0 {
		config.VerificationTickSeconds = 1
	}
	if config.FeedWindow <= 0 {
		config.FeedWindow = 50
	}
	if config.FeedWindow > 100 {
		log.Printf("level=warn component=config msg=\"feed window too large; capping\" window=%d cap=100", config.FeedWindow)
		config.FeedWindow = 100
	}
	if config.FeedPollSeconds <= 0 {
		config.FeedPollSeconds = 2
	}
	if config.SettlementRedriveMinAgeSec <= 0 {
		config.SettlementRedriveMinAgeSec = 30
	}
	if config.StaleSessionMaxAgeMinutes <= 0 {
		config.StaleSessionMaxAgeMinutes = 60
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "creatorlift:rate_limit"
	}

	return
}
