package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// startServer spins up an in-process health server and returns a connected client.
func startServer(t *testing.T) (*HealthServer, healthpb.HealthClient) {
	t.Helper()

	srv := NewHealthServer(zap.NewNop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(lis)
	}()

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Shutdown()
		<-done
	})
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.Status
}

func TestHealthServer_ServingStatus(t *testing.T) {
	srv, client := startServer(t)

	for _, svc := range []string{"", ServiceName} {
		if got := status(t, client, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("initial status for %q = %v, want NOT_SERVING", svc, got)
		}
	}

	srv.SetServing(true)
	for _, svc := range []string{"", ServiceName} {
		if got := status(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status for %q = %v, want SERVING", svc, got)
		}
	}
}

func TestHealthServer_Monitor(t *testing.T) {
	srv, client := startServer(t)

	var failing atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		srv.Monitor(ctx, 10*time.Millisecond, func(context.Context) error {
			if failing.Load() {
				return errors.New("ledger unreachable")
			}
			return nil
		})
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	waitFor(t, client, healthpb.HealthCheckResponse_SERVING)
	failing.Store(true)
	waitFor(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
	failing.Store(false)
	waitFor(t, client, healthpb.HealthCheckResponse_SERVING)
}

func waitFor(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status(t, client, ServiceName) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never became %v", want)
}
