package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
	messagingsqlite "github.com/louisbranch/courier.space/internal/services/messaging/storage/sqlite"
)

// RuntimeConfig controls delivery worker startup and loop behavior.
type RuntimeConfig struct {
	Port          int
	DBPath        string
	WebhookURL    string
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

const (
	defaultDeliveryPort = 8089
	defaultDeliveryDB   = "data/messaging.db"
)

// Run starts delivery worker dependencies and the background drain loop.
// The worker shares the messaging database and serves only a gRPC health
// endpoint for probes.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultDeliveryPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDeliveryDB
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create delivery storage dir: %w", err)
		}
	}

	store, err := messagingsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open delivery sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close delivery sqlite store: %v", closeErr)
		}
	}()

	var pusher Pusher
	if strings.TrimSpace(cfg.WebhookURL) != "" {
		pusher = NewWebhookPusher(cfg.WebhookURL, nil)
	} else {
		pusher = logPusher{}
		log.Printf("push gateway not configured; deliveries are logged only")
	}

	loop := NewLoop(store, pusher, Config{
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, nil)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on delivery port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("delivery.worker", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("delivery worker listening at %v", listener.Addr())
	return loop.Run(ctx)
}

// logPusher records deliveries without an external gateway. Used in local
// development.
type logPusher struct{}

func (logPusher) Push(_ context.Context, recipientUserID string, message storage.MessageRecord) error {
	log.Printf("deliver to %s conversation=%s seq=%d", recipientUserID, message.ConversationID, message.Seq)
	return nil
}
