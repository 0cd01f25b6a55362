package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN,required=true"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN,default="`
	EmailFrom            string `env:"EMAIL_FROM,required=true"`
	EmailCompanyName     string `env:"EMAIL_COMPANY_NAME,default=Notification Service"`

	SMSGatewayURL      string `env:"SMS_GATEWAY_URL,required=true"`
	WhatsAppGatewayURL string `env:"WHATSAPP_GATEWAY_URL,required=true"`
	PushGatewayURL     string `env:"PUSH_GATEWAY_URL,required=true"`

	RateLimitPerSec int `env:"RATE_LIMIT_PER_SEC,default=100"`

	DispatchCoreWorkers int `env:"DISPATCH_CORE_WORKERS,default=5"`
	DispatchMaxWorkers  int `env:"DISPATCH_MAX_WORKERS,default=20"`
	DispatchQueueSize   int `env:"DISPATCH_QUEUE_SIZE,default=100"`

	ReconcileIntervalSeconds  int `env:"RECONCILE_INTERVAL_SECONDS,default=60"`
	StalenessThresholdMinutes int `env:"STALENESS_THRESHOLD_MINUTES,default=10"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessThresholdMinutes) * time.Minute
}
