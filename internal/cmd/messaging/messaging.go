// Package messaging parses messaging service flags and launches the service.
package messaging

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/courier.space/internal/platform/cmd"
	server "github.com/louisbranch/courier.space/internal/services/messaging/app"
)

// Config holds messaging command configuration.
type Config struct {
	Port int `env:"COURIER_SPACE_MESSAGING_PORT" envDefault:"8080"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The messaging HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the messaging HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMessaging, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
