package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Stream   Stream   `mapstructure:"stream"`
	Notify   Notify   `mapstructure:"notify"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	WsURL          string  `mapstructure:"ws_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Trading holds the configuration for the threshold strategy.
type Trading struct {
	// Pairs maps exchange symbols to display names, e.g. BTCUSDT: "Bitcoin".
	Pairs map[string]string `mapstructure:"pairs"`
	// ProfitThreshold is the percent gain over the average buy price that
	// triggers a full sell.
	ProfitThreshold float64 `mapstructure:"profit_threshold"`
	// LossThreshold is the percent drop under the last buy price that
	// triggers an additional purchase.
	LossThreshold float64 `mapstructure:"loss_threshold"`
	// AdditionalPurchaseAmount is the quote-currency amount spent on each
	// dip purchase.
	AdditionalPurchaseAmount float64 `mapstructure:"additional_purchase_amount"`
	DryRun                   bool    `mapstructure:"dry_run"`
}

// Stream holds the configuration for the price stream supervisor.
type Stream struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
}

// Notify holds the configuration for outbound trade notifications.
type Notify struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("binance.ws_url", "wss://stream.binance.com:9443/ws")
	viper.SetDefault("trading.profit_threshold", 5.0)
	viper.SetDefault("trading.loss_threshold", 5.0)
	viper.SetDefault("trading.additional_purchase_amount", 50.0)
	viper.SetDefault("stream.stale_after", 5*time.Minute)
	viper.SetDefault("stream.sweep_interval", time.Minute)
	viper.SetDefault("stream.max_backoff", 30*time.Second)
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "positions.db")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
