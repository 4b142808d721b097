/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * The sandbox/production selection happens exactly once, here: LoadConfig
 * resolves the gateway access token for the configured environment and the
 * rest of the service receives the decision as plain injected values.
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
	RedisDedupePrefix    string `mapstructure:"REDIS_DEDUPE_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	MPBaseURL            string `mapstructure:"MP_BASE_URL"`
	MPAccessToken        string `mapstructure:"MP_ACCESS_TOKEN"`
	MPAccessTokenTest    string `mapstructure:"MP_ACCESS_TOKEN_TEST"`
	MPAccessTokenLive    string `mapstructure:"MP_ACCESS_TOKEN_LIVE"`
	MPWebhookSecret      string `mapstructure:"MP_WEBHOOK_SECRET"`
	MPSandbox            bool   `mapstructure:"MP_SANDBOX"`
	IncludeTransferEmail bool   `mapstructure:"INCLUDE_TRANSFER_EMAIL"`
	SyntheticEmailDomain string `mapstructure:"SYNTHETIC_EMAIL_DOMAIN"`
	WebhookURL           string `mapstructure:"WEBHOOK_URL"`
	CheckoutSuccessURL   string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutPendingURL   string `mapstructure:"CHECKOUT_PENDING_URL"`
	CheckoutFailureURL   string `mapstructure:"CHECKOUT_FAILURE_URL"`
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
	viper.SetDefault("MP_BASE_URL", "https://api.mercadopago.com")
	viper.SetDefault("MP_SANDBOX", true)
	viper.SetDefault("INCLUDE_TRANSFER_EMAIL", true)
	viper.SetDefault("REDIS_DEDUPE_PREFIX", "billing:webhook_seen")
	viper.SetDefault("SYNTHETIC_EMAIL_DOMAIN", "pagamentos.clubebonfim.com.br")
	viper.SetDefault("CHECKOUT_SUCCESS_URL", "https://clubedocavalobonfim.com.br/pay-success.html")
	viper.SetDefault("CHECKOUT_PENDING_URL", "https://clubedocavalobonfim.com.br/pay.html")
	viper.SetDefault("CHECKOUT_FAILURE_URL", "https://clubedocavalobonfim.com.br/pay.html")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_DEDUPE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("MP_BASE_URL")
	_ = viper.BindEnv("MP_ACCESS_TOKEN")
	_ = viper.BindEnv("MP_ACCESS_TOKEN_TEST")
	_ = viper.BindEnv("MP_ACCESS_TOKEN_LIVE")
	_ = viper.BindEnv("MP_WEBHOOK_SECRET")
	_ = viper.BindEnv("MP_SANDBOX")
	_ = viper.BindEnv("INCLUDE_TRANSFER_EMAIL")
	_ = viper.BindEnv("SYNTHETIC_EMAIL_DOMAIN")
	_ = viper.BindEnv("WEBHOOK_URL")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_PENDING_URL")
	_ = viper.BindEnv("CHECKOUT_FAILURE_URL")

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

	config.MPAccessToken = resolveAccessToken(config)
	if config.MPAccessToken == "" {
		log.Printf("level=warn component=config msg=\"gateway access token not configured\" sandbox=%t", config.MPSandbox)
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisDedupePrefix = strings.TrimSpace(config.RedisDedupePrefix)
	if config.RedisDedupePrefix == "" {
		config.RedisDedupePrefix = "billing:webhook_seen"
	}
	config.MPBaseURL = strings.TrimSpace(config.MPBaseURL)
	config.MPWebhookSecret = strings.TrimSpace(config.MPWebhookSecret)

	return
}

// resolveAccessToken picks the gateway token for the configured environment:
// the environment-specific variable wins, with MP_ACCESS_TOKEN as the shared
// fallback for either.
func resolveAccessToken(config Config) string {
	test := strings.TrimSpace(config.MPAccessTokenTest)
	live := strings.TrimSpace(config.MPAccessTokenLive)
	shared := strings.TrimSpace(config.MPAccessToken)

	if config.MPSandbox {
		if test != "" {
			return test
		}
		return shared
	}
	if live != "" {
		return live
	}
	return shared
}
