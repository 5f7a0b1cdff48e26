// grpc поднимает служебный gRPC-сервер authguard: стандартный
// grpc.health.v1 и reflection. Состояние health отражает доступность
// хранилищ, которое периодически проверяет Watch.
//
// Статусы:
//   - "" (сервис целиком) SERVING, только если все проверки успешны;
//   - для каждой проверки регистрируется отдельное имя сервиса,
//     например "postgres" или "redis".
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/interceptors"
)

// Pinger — зависимость, доступность которой проверяется health-сервером.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc позволяет использовать функцию как Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check — именованная проверка.
type Check struct {
	Name   string
	Pinger Pinger
}

// Options — параметры сервера.
type Options struct {
	Logger *slog.Logger
	// Timeout ограничивает время unary-вызова.
	Timeout time.Duration
	// Interval — период проверок в Watch.
	Interval time.Duration
	// PingTimeout ограничивает одну проверку.
	PingTimeout time.Duration
	// Reflection включает grpc reflection (local/dev).
	Reflection bool
}

// Server — обёртка над *grpc.Server с health-сервисом.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	checks []Check
	log    *slog.Logger

	interval    time.Duration
	pingTimeout time.Duration

	ready atomic.Bool
}

// New собирает сервер с цепочкой Recover -> Logging -> Timeout -> Prometheus.
// До первого Probe все статусы NOT_SERVING.
func New(opts Options, checks ...Check) *Server {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 2 * time.Second
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(l),
			interceptors.UnaryLoggingInterceptor(l),
			interceptors.WithTimeout(opts.Timeout),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	if opts.Reflection {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	s := &Server{
		srv:         srv,
		health:      hs,
		checks:      checks,
		log:         l,
		interval:    opts.Interval,
		pingTimeout: opts.PingTimeout,
	}
	s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// Serve блокируется до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	const op = "transport.grpc.Serve"

	if err := s.srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Ready сообщает результат последней проверки.
func (s *Server) Ready() bool { return s.ready.Load() }

// Probe выполняет все проверки и обновляет статусы.
// Возвращает true, если все зависимости доступны.
func (s *Server) Probe(ctx context.Context) bool {
	ok := true

	for _, c := range s.checks {
		pctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
		err := c.Pinger.Ping(pctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			ok = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Warn("health_check_failed",
				slog.String("check", c.Name),
				slog.String("err", err.Error()),
			)
		}
		s.health.SetServingStatus(c.Name, st)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)

	if prev := s.ready.Swap(ok); prev != ok {
		s.log.Info("readiness_changed", slog.Bool("ready", ok))
	}

	return ok
}

// Watch повторяет Probe с периодом Options.Interval до отмены ctx.
func (s *Server) Watch(ctx context.Context) {
	s.Probe(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Shutdown переводит health в NOT_SERVING и останавливает сервер,
// дожидаясь активных вызовов не дольше ctx.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("grpc_stopped")
	case <-ctx.Done():
		s.log.Warn("grpc_force_stop")
		s.srv.Stop()
	}
}

func (s *Server) setAll(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	for _, c := range s.checks {
		s.health.SetServingStatus(c.Name, st)
	}
}
