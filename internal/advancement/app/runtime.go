package app

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

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	advsqlite "github.com/mthorley/ascension/internal/advancement/storage/sqlite"
	"github.com/mthorley/ascension/internal/chat"
	"github.com/mthorley/ascension/internal/platform/timeouts"
)

// RuntimeConfig controls advancement service startup and dependencies.
type RuntimeConfig struct {
	HTTPPort    int
	HealthPort  int
	DBPath      string
	AdminSecret string
	SyncFanOut  int

	// Directory and Messenger are the chat-platform collaborators. Either may
	// be nil; role sync and announcements then degrade to no-ops.
	Directory chat.Directory
	Messenger chat.Messenger
}

const (
	defaultHTTPPort   = 8090
	defaultHealthPort = 8091
	defaultDBPath     = "data/advancement.db"
)

// Run starts the advancement runtime: sqlite store, webhook and admin HTTP
// server, and the gRPC health endpoint. It blocks until ctx is canceled or a
// server fails.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = defaultHTTPPort
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := advsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close sqlite store: %v", closeErr)
		}
	}()

	service := NewService(store, cfg.Directory, cfg.Messenger, cfg.SyncFanOut)
	handler := NewHandler(service, cfg.AdminSecret)

	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("listen on http port %d: %w", cfg.HTTPPort, err)
	}
	defer httpListener.Close()

	httpServer := &http.Server{
		Handler:           handler.Mux(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	httpErr := make(chan error, 1)
	go func() {
		err := httpServer.Serve(httpListener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		httpErr <- err
	}()

	healthListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HealthPort))
	if err != nil {
		shutdownHTTP(httpServer)
		<-httpErr
		return fmt.Errorf("listen on health port %d: %w", cfg.HealthPort, err)
	}
	defer healthListener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("advancement.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- grpcServer.Serve(healthListener)
	}()

	log.Printf("advancement http server listening at %v", httpListener.Addr())
	log.Printf("advancement health server listening at %v", healthListener.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		httpErr <- nil
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-grpcErr:
		grpcErr <- nil
		if err != nil {
			runErr = fmt.Errorf("health server: %w", err)
		}
	}

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	<-grpcErr
	shutdownHTTP(httpServer)
	<-httpErr
	return runErr
}

func shutdownHTTP(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
