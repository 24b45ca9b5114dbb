// Package config содержит логику чтения конфигурации сервиса накоплений.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Значения по умолчанию.
const (
	DefaultRunAddress     = "localhost:8080"
	DefaultLogLevel       = "info"
	DefaultFeedTimeout    = 10 * time.Second
	DefaultSyncSchedule   = "@every 15m"
	DefaultAccrualSched   = "@daily"
	DefaultNotifyExchange = "shipsavings.notifications"
)

// Config содержит параметры конфигурации сервиса накоплений.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	WalletFeedAddress  string        `env:"WALLET_FEED_ADDRESS"`
	WalletFeedToken    string        `env:"WALLET_FEED_TOKEN"`
	BankCharacterID    int64         `env:"BANK_CHARACTER_ID"`
	AdminCharacterID   int64         `env:"ADMIN_CHARACTER_ID"`
	AuthSecret         string        `env:"AUTH_SECRET"`
	GatewayKey         string        `env:"IDENTITY_GATEWAY_KEY"`
	LogLevel           string        `env:"LOG_LEVEL"`
	FeedTimeout        time.Duration `env:"FEED_TIMEOUT"`
	WalletSyncSchedule string        `env:"WALLET_SYNC_SCHEDULE"`
	AccrualSchedule    string        `env:"ACCRUAL_SCHEDULE"`
	NotifyAMQPURL      string        `env:"NOTIFY_AMQP_URL"`
	NotifyExchange     string        `env:"NOTIFY_EXCHANGE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", DefaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; empty selects the in-memory store")
	flag.StringVar(&cfg.WalletFeedAddress, "f", "", "wallet journal feed base URL")
	flag.StringVar(&cfg.WalletFeedToken, "feed-token", "", "wallet journal feed bearer token")
	flag.Int64Var(&cfg.BankCharacterID, "b", 0, "character id of the corp bank wallet")
	flag.Int64Var(&cfg.AdminCharacterID, "admin", 0, "character id granted the admin capability")
	flag.StringVar(&cfg.AuthSecret, "secret", "", "HMAC secret for session cookies")
	flag.StringVar(&cfg.GatewayKey, "gateway-key", "", "shared key expected from the identity gateway")
	flag.StringVar(&cfg.LogLevel, "l", DefaultLogLevel, "log level")
	flag.DurationVar(&cfg.FeedTimeout, "feed-timeout", DefaultFeedTimeout, "wallet feed fetch timeout")
	flag.StringVar(&cfg.WalletSyncSchedule, "sync-schedule", DefaultSyncSchedule, "wallet sync cron schedule, off disables")
	flag.StringVar(&cfg.AccrualSchedule, "accrual-schedule", DefaultAccrualSched, "interest accrual cron schedule, off disables")
	flag.StringVar(&cfg.NotifyAMQPURL, "amqp", "", "AMQP broker URL for notification events")
	flag.StringVar(&cfg.NotifyExchange, "amqp-exchange", DefaultNotifyExchange, "AMQP exchange for notification events")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.RunAddress == "" {
		c.RunAddress = DefaultRunAddress
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = DefaultFeedTimeout
	}
	if c.NotifyExchange == "" {
		c.NotifyExchange = DefaultNotifyExchange
	}
	c.WalletSyncSchedule = schedule(c.WalletSyncSchedule)
	c.AccrualSchedule = schedule(c.AccrualSchedule)
	c.WalletFeedAddress = strings.TrimRight(c.WalletFeedAddress, "/")
}

func schedule(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "off") {
		return ""
	}
	return s
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.WalletFeedAddress != "" && c.BankCharacterID <= 0 {
		return fmt.Errorf("BANK_CHARACTER_ID is required when WALLET_FEED_ADDRESS is set")
	}
	if c.BankCharacterID < 0 || c.AdminCharacterID < 0 {
		return fmt.Errorf("character ids must not be negative")
	}
	return nil
}

// FeedEnabled сообщает, настроен ли источник журнала кошелька.
func (c *Config) FeedEnabled() bool {
	return c.WalletFeedAddress != ""
}
