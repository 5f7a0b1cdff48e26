package grpc

// Тесты служебного gRPC-сервера поверх bufconn: начальный NOT_SERVING,
// переключение статусов по результатам проверок, Watch и Shutdown.

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

// toggle — Pinger, исход которого переключается из теста.
type toggle struct{ fail atomic.Bool }

func (t *toggle) Ping(context.Context) error {
	if t.fail.Load() {
		return errors.New("down")
	}
	return nil
}

func startServer(t *testing.T, checks ...Check) (*Server, healthpb.HealthClient) {
	t.Helper()

	s := New(Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	}, checks...)

	lis := bufconn.Listen(1024 * 1024)
	go func() { _ = s.Serve(lis) }()

	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cc.Close()
		s.srv.Stop()
	})

	return s, healthpb.NewHealthClient(cc)
}

func servingStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestNew_NotServingUntilProbe(t *testing.T) {
	s, c := startServer(t, Check{Name: "redis", Pinger: &toggle{}})

	require.False(t, s.Ready())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, c, "redis"))
}

func TestProbe_PerCheckStatus(t *testing.T) {
	pg := &toggle{}
	rdb := &toggle{}
	s, c := startServer(t, Check{Name: "postgres", Pinger: pg}, Check{Name: "redis", Pinger: rdb})

	require.True(t, s.Probe(context.Background()))
	require.True(t, s.Ready())
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, c, "redis"))

	rdb.fail.Store(true)
	require.False(t, s.Probe(context.Background()))
	require.False(t, s.Ready())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, c, ""))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(t, c, "redis"))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, c, "postgres"))
}

func TestProbe_PingTimeout(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s := New(Options{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		PingTimeout: 10 * time.Millisecond,
	}, Check{Name: "slow", Pinger: slow})

	start := time.Now()
	require.False(t, s.Probe(context.Background()))
	require.Less(t, time.Since(start), time.Second)
}

func TestWatch_RecoversAfterOutage(t *testing.T) {
	dep := &toggle{}
	dep.fail.Store(true)
	s, c := startServer(t, Check{Name: "redis", Pinger: dep})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx)

	require.Eventually(t, func() bool { return !s.Ready() }, time.Second, 5*time.Millisecond)

	dep.fail.Store(false)
	require.Eventually(t, s.Ready, time.Second, 5*time.Millisecond)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(t, c, ""))
}

func TestShutdown_StopsServing(t *testing.T) {
	s, c := startServer(t, Check{Name: "redis", Pinger: &toggle{}})
	require.True(t, s.Probe(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Shutdown(ctx)

	require.False(t, s.Ready())

	cctx, ccancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer ccancel()
	_, err := c.Check(cctx, &healthpb.HealthCheckRequest{})
	require.Error(t, err)
}
