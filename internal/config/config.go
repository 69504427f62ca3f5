package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// Calling
	CallRingTimeoutSec int `mapstructure:"CALL_RING_TIMEOUT_SEC"`

	// Offline-delivery reconciliation sweep
	SweepLookbackHours int `mapstructure:"SWEEP_LOOKBACK_HOURS"`
	SweepBatchSize     int `mapstructure:"SWEEP_BATCH_SIZE"`
}

var AppConfig *Config

func LoadConfig() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("CALL_RING_TIMEOUT_SEC", 30)
	viper.SetDefault("SWEEP_LOOKBACK_HOURS", 72)
	viper.SetDefault("SWEEP_BATCH_SIZE", 200)

	if err := viper.ReadInConfig(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}

// CallRingTimeout returns the configured ring window for outgoing calls.
func (c *Config) CallRingTimeout() time.Duration {
	if c.CallRingTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CallRingTimeoutSec) * time.Second
}
