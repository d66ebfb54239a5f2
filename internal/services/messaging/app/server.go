// Package server wires the messaging runtime and HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/courier.space/internal/platform/config"
	"github.com/louisbranch/courier.space/internal/platform/timeouts"
	"github.com/louisbranch/courier.space/internal/services/messaging/domain"
	"github.com/louisbranch/courier.space/internal/services/messaging/identity"
	"github.com/louisbranch/courier.space/internal/services/messaging/notifier"
	messagingsqlite "github.com/louisbranch/courier.space/internal/services/messaging/storage/sqlite"
)

type serverEnv struct {
	DBPath           string `env:"COURIER_SPACE_MESSAGING_DB_PATH"`
	IdentityDBPath   string `env:"COURIER_SPACE_IDENTITY_DB_PATH"`
	DeliveryAttempts int    `env:"COURIER_SPACE_DELIVERY_MAX_ATTEMPTS"`
	DeliveryBackoff  string `env:"COURIER_SPACE_DELIVERY_RETRY_BACKOFF"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "messaging.db")
	}
	return cfg
}

// Server hosts the messaging HTTP API, WebSocket stream, and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *messagingsqlite.Store
	resolver   *identity.DirectoryResolver
	notifier   *notifier.Notifier
	hub        *streamHub
}

// New creates a configured messaging server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured messaging server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srvEnv := loadServerEnv()
	store, err := openMessagingStore(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	var resolver identity.Resolver
	var directory *identity.DirectoryResolver
	if strings.TrimSpace(srvEnv.IdentityDBPath) != "" {
		directory, err = identity.OpenDirectory(srvEnv.IdentityDBPath)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("open identity directory: %w", err)
		}
		resolver = directory
	} else {
		// Without a directory every referenced user resolves as active;
		// the identity provider is trusted upstream.
		resolver = permissiveResolver{}
		log.Printf("identity directory not configured; participant resolution is permissive")
	}

	service := domain.NewService(store, resolver, nil, nil)
	hub := newStreamHub()
	retryBackoff, _ := time.ParseDuration(srvEnv.DeliveryBackoff)
	fanout := notifier.New(hub, store, notifier.Config{
		MaxAttempts:  srvEnv.DeliveryAttempts,
		RetryBackoff: retryBackoff,
	}, nil)
	service.SetAppendListener(fanout)

	grantVerifier, err := loadStreamGrantVerifier()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		if directory != nil {
			_ = directory.Close()
		}
		return nil, err
	}

	handler := newHandler(service, hub, grantVerifier)
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
		resolver:   directory,
		notifier:   fanout,
		hub:        hub,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a messaging server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("messaging server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown messaging http server: %v", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases messaging server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.hub != nil {
		s.hub.closeAll()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.resolver != nil {
		if err := s.resolver.Close(); err != nil {
			log.Printf("close identity directory: %v", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close messaging store: %v", err)
		}
	}
}

func openMessagingStore(path string) (*messagingsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := messagingsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open messaging sqlite store: %w", err)
	}
	return store, nil
}

// permissiveResolver treats every non-empty user id as an active account.
type permissiveResolver struct{}

func (permissiveResolver) Resolve(_ context.Context, userID string) (identity.Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return identity.Identity{}, nil
	}
	return identity.Identity{Exists: true, Active: true}, nil
}
