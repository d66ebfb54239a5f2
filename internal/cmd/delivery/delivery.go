// Package delivery parses delivery worker flags and launches the worker.
package delivery

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/courier.space/internal/platform/cmd"
	worker "github.com/louisbranch/courier.space/internal/services/delivery/app"
)

// Config holds delivery worker command configuration.
type Config struct {
	Port          int           `env:"COURIER_SPACE_DELIVERY_PORT" envDefault:"8089"`
	DBPath        string        `env:"COURIER_SPACE_MESSAGING_DB_PATH"`
	WebhookURL    string        `env:"COURIER_SPACE_DELIVERY_WEBHOOK_URL"`
	PollInterval  time.Duration `env:"COURIER_SPACE_DELIVERY_POLL_INTERVAL"`
	BatchSize     int           `env:"COURIER_SPACE_DELIVERY_BATCH_SIZE"`
	MaxAttempts   int           `env:"COURIER_SPACE_DELIVERY_MAX_ATTEMPTS"`
	RetryBackoff  time.Duration `env:"COURIER_SPACE_DELIVERY_RETRY_BACKOFF"`
	RetryMaxDelay time.Duration `env:"COURIER_SPACE_DELIVERY_RETRY_MAX_DELAY"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The delivery worker health port")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "The push gateway webhook URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the delivery worker loop and its health endpoint.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDelivery, func(ctx context.Context) error {
		return worker.Run(ctx, worker.RuntimeConfig{
			Port:          cfg.Port,
			DBPath:        cfg.DBPath,
			WebhookURL:    cfg.WebhookURL,
			PollInterval:  cfg.PollInterval,
			BatchSize:     cfg.BatchSize,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
		})
	})
}
