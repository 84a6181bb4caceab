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

	"github.com/onesitepls/commerce-service/internal/domain"
)

// Config holds all the configuration variables for the commerce-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string  `mapstructure:"SERVER_PORT"`
	DatabaseURL          string  `mapstructure:"DATABASE_URL"`
	RedisURL             string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string  `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string  `mapstructure:"EVENTS_EXCHANGE"`
	PaymentEventQueue    string  `mapstructure:"PAYMENT_EVENT_QUEUE"`
	BotAPIBaseURL        string  `mapstructure:"BOT_API_BASE_URL"`
	BotAPIToken          string  `mapstructure:"BOT_API_TOKEN"`
	MiniAppBaseURL       string  `mapstructure:"MINI_APP_BASE_URL"`
	WebhookSecret        string  `mapstructure:"WEBHOOK_SECRET"`
	JWTSecret            string  `mapstructure:"JWT_SECRET"`
	AdminChatID          string  `mapstructure:"ADMIN_CHAT_ID"`
	DropAnywhereFeeXTR   int64   `mapstructure:"DROP_ANYWHERE_FEE_XTR"`
	SOSFuelFeeXTR        int64   `mapstructure:"SOS_FUEL_FEE_XTR"`
	SOSEvacFeeXTR        int64   `mapstructure:"SOS_EVAC_FEE_XTR"`
	MicroActionRateLimit int     `mapstructure:"MICRO_ACTION_RATE_LIMIT_PER_MINUTE"`
	UserStateTTLMinutes  int     `mapstructure:"USER_STATE_TTL_MINUTES"`
	ReconcileSchedule    string  `mapstructure:"RECONCILE_SCHEDULE"`
	StateExpirySchedule  string  `mapstructure:"STATE_EXPIRY_SCHEDULE"`
	ReferralLevel1Rate   float64 `mapstructure:"REFERRAL_LEVEL1_RATE"`
	ReferralLevel2Rate   float64 `mapstructure:"REFERRAL_LEVEL2_RATE"`
	ReferralLevel3Rate   float64 `mapstructure:"REFERRAL_LEVEL3_RATE"`
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
	viper.SetDefault("EVENTS_EXCHANGE", "commerce.events")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "commerce_service.payment_confirmations")
	viper.SetDefault("MINI_APP_BASE_URL", "https://t.me/oneBikePlsBot/app")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "commerce:rate_limit")
	viper.SetDefault("DROP_ANYWHERE_FEE_XTR", 200)
	viper.SetDefault("SOS_FUEL_FEE_XTR", 150)
	viper.SetDefault("SOS_EVAC_FEE_XTR", 500)
	viper.SetDefault("MICRO_ACTION_RATE_LIMIT_PER_MINUTE", 6)
	viper.SetDefault("USER_STATE_TTL_MINUTES", 15)
	viper.SetDefault("RECONCILE_SCHEDULE", "0 3 * * *")
	viper.SetDefault("STATE_EXPIRY_SCHEDULE", "*/10 * * * *")
	viper.SetDefault("REFERRAL_LEVEL1_RATE", domain.ReferralCommissionRates[1])
	viper.SetDefault("REFERRAL_LEVEL2_RATE", domain.ReferralCommissionRates[2])
	viper.SetDefault("REFERRAL_LEVEL3_RATE", domain.ReferralCommissionRates[3])

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "COMMERCE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("BOT_API_BASE_URL")
	_ = viper.BindEnv("BOT_API_TOKEN")
	_ = viper.BindEnv("MINI_APP_BASE_URL")
	_ = viper.BindEnv("WEBHOOK_SECRET", "WEBHOOK_SECRET", "PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("ADMIN_CHAT_ID")
	_ = viper.BindEnv("DROP_ANYWHERE_FEE_XTR")
	_ = viper.BindEnv("SOS_FUEL_FEE_XTR")
	_ = viper.BindEnv("SOS_EVAC_FEE_XTR")
	_ = viper.BindEnv("MICRO_ACTION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("USER_STATE_TTL_MINUTES")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("STATE_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("REFERRAL_LEVEL1_RATE")
	_ = viper.BindEnv("REFERRAL_LEVEL2_RATE")
	_ = viper.BindEnv("REFERRAL_LEVEL3_RATE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "commerce:rate_limit"
	}
	config.WebhookSecret = strings.TrimSpace(config.WebhookSecret)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	if config.DropAnywhereFeeXTR < 0 {
		log.Printf("level=warn component=config msg=\"negative drop-anywhere fee configured; coercing to zero\" fee_xtr=%d", config.DropAnywhereFeeXTR)
		config.DropAnywhereFeeXTR = 0
	}
	if config.SOSFuelFeeXTR < 0 {
		log.Printf("level=warn component=config msg=\"negative sos fuel fee configured; coercing to zero\" fee_xtr=%d", config.SOSFuelFeeXTR)
		config.SOSFuelFeeXTR = 0
	}
	if config.SOSEvacFeeXTR < 0 {
		log.Printf("level=warn component=config msg=\"negative sos evac fee configured; coercing to zero\" fee_xtr=%d", config.SOSEvacFeeXTR)
		config.SOSEvacFeeXTR = 0
	}

	if config.MicroActionRateLimit <= 0 {
		config.MicroActionRateLimit = 6
	}
	if config.UserStateTTLMinutes <= 0 {
		config.UserStateTTLMinutes = 15
	}

	for _, rate := range []struct {
		name  string
		value *float64
		def   float64
	}{
		{"REFERRAL_LEVEL1_RATE", &config.ReferralLevel1Rate, domain.ReferralCommissionRates[1]},
		{"REFERRAL_LEVEL2_RATE", &config.ReferralLevel2Rate, domain.ReferralCommissionRates[2]},
		{"REFERRAL_LEVEL3_RATE", &config.ReferralLevel3Rate, domain.ReferralCommissionRates[3]},
	} {
		if *rate.value < 0 || *rate.value > 1 {
			log.Printf("level=warn component=config msg=\"referral rate out of range; using default\" key=%s value=%f", rate.name, *rate.value)
			*rate.value = rate.def
		}
	}

	return
}
