package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/shopsync/internal/health"
)

func TestMetricsServer_Endpoints(t *testing.T) {
	checks := healthcheck.NewHandler("test")
	checks.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func() error {
		return errors.New("backlog")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := startTestMetricsServer(t, ctx, checks)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/metrics", wantCode: http.StatusOK, wantBody: "go_goroutines"},
		{path: "/healthz", wantCode: http.StatusOK, wantBody: `"status":"degraded"`},
		{path: "/livez", wantCode: http.StatusOK, wantBody: "ok"},
		{path: "/readyz", wantCode: http.StatusOK, wantBody: "ready"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, base+tt.path)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, body, tt.wantBody)
		})
	}
}

func TestMetricsServer_ReadyzReflectsCheckers(t *testing.T) {
	checks := healthcheck.NewHandler("test")
	checks.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
		return errors.New("connection refused")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := startTestMetricsServer(t, ctx, checks)

	code, body := get(t, base+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"not ready","failing":["postgres"]}`, body)
}

func TestMetricsServer_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := startTestMetricsServer(t, ctx, healthcheck.NewHandler("test"))

	cancel()
	assert.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err == nil {
			resp.Body.Close()
		}
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP(t *testing.T) {
	logger := log.WithField("test", "shutdown")
	shutdownHTTP(nil, time.Second, logger)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(healthcheck.LivenessHandler), ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	code, _ := get(t, "http://"+lis.Addr().String())
	require.Equal(t, http.StatusOK, code)

	shutdownHTTP(srv, 0, logger)
	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestGRPCServer_HealthFollowsReadiness(t *testing.T) {
	logger := log.WithField("test", "grpc")
	errCh := make(chan error, 1)

	srv, err := startGRPCServer("127.0.0.1:0", logger, errCh)
	require.NoError(t, err)
	defer srv.stop(time.Second, logger)

	conn, err := grpc.NewClient(srv.addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status())

	var storageUp atomic.Bool
	checks := healthcheck.NewHandler("test")
	checks.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
		if storageUp.Load() {
			return nil
		}
		return errors.New("refused")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.followReadiness(ctx, checks, 10*time.Millisecond, logger)

	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	storageUp.Store(true)
	assert.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("grpc server failed: %v", err)
	default:
	}
}

func startTestMetricsServer(t *testing.T, ctx context.Context, checks *healthcheck.Handler) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	startMetricsServer(ctx, addr, log.WithField("test", t.Name()), checks)

	base := "http://" + addr
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/livez")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "metrics server did not start on %s", addr)
	return base
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err, fmt.Sprintf("GET %s", url))
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
