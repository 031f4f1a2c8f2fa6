package grpc

import (
	"context"
	"testing"
)

func TestWaitForHealthRejectsNilConnection(t *testing.T) {
	t.Parallel()

	if err := WaitForHealth(context.Background(), nil, "", nil); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestDefaultClientDialOptionsNotEmpty(t *testing.T) {
	t.Parallel()

	if len(DefaultClientDialOptions()) == 0 {
		t.Fatal("expected dial options")
	}
}
