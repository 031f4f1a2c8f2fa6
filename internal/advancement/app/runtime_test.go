package app

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"

	platformgrpc "github.com/mthorley/ascension/internal/platform/grpc"
)

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestRunServesHealthAndStopsOnCancel(t *testing.T) {
	httpPort := freePort(t)
	healthPort := freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- Run(ctx, RuntimeConfig{
			HTTPPort:   httpPort,
			HealthPort: healthPort,
			DBPath:     filepath.Join(t.TempDir(), "advancement.db"),
		})
	}()

	conn, err := gogrpc.NewClient(
		fmt.Sprintf("127.0.0.1:%d", healthPort),
		platformgrpc.DefaultClientDialOptions()...,
	)
	if err != nil {
		t.Fatalf("create health client: %v", err)
	}
	defer conn.Close()

	healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
	defer healthCancel()
	if err := platformgrpc.WaitForHealth(healthCtx, conn, "", t.Logf); err != nil {
		t.Fatalf("wait for health: %v", err)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
