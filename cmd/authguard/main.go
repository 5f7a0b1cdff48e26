package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/bruteforce"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/cache"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	httpx "github.com/pribylovaa/go-news-aggregator/authguard/internal/http"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/service"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/storage/postgres"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
	grpcsrv "github.com/pribylovaa/go-news-aggregator/authguard/internal/transport/grpc"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&envPath, "env-file", "", "path to .env file")
	flag.Parse()

	if err := config.LoadDotenv(envPath); err != nil {
		slog.Error("dotenv_load_failed", slog.String("err", err.Error()))
		return 1
	}

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", slog.String("env", cfg.Env))

	if cfg.Auth.UsesSharedSecret() {
		log.Warn("jwt_secret_fallback",
			slog.String("hint", "set JWT_ACCESS_SECRET and JWT_REFRESH_SECRET to separate token classes"),
		)
	}

	if err := middleware.InitSentry(cfg.Sentry.DSN, cfg.Env); err != nil {
		log.Error("sentry_init_failed", slog.String("err", err.Error()))
	}
	defer middleware.FlushSentry()

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Postgres: подключение и миграции.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	if err == nil {
		err = str.Migrate(dbCtx)
	}
	dbCancel()
	if err != nil {
		log.Error("postgres_init_failed", slog.String("err", err.Error()))
		if str != nil {
			str.Close()
		}
		return 1
	}
	defer str.Close()
	log.Info("postgres_connected")

	// Redis: сессии, реестр токенов сброса, счётчики rate limit.
	rdsCtx, rdsCancel := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := cache.NewRedisClient(rdsCtx, cfg.Redis.RedisURL)
	rdsCancel()
	if err != nil {
		log.Error("redis_connect_failed", slog.String("err", err.Error()))
		return 1
	}
	defer func() { _ = rdb.Close() }()
	log.Info("redis_connected")

	m := metrics.New(prometheus.DefaultRegisterer)

	tokens, err := token.New(cfg.Auth)
	if err != nil {
		log.Error("token_service_init_failed", slog.String("err", err.Error()))
		return 1
	}

	sessions := session.NewService(
		session.NewRedisStore(rdb, cfg.Session.KeyPrefix, cfg.Session.StoreTimeout),
		cfg.Session,
		m,
	)

	guard := bruteforce.New(cfg.BruteForce, m)
	startSweeper(rootCtx, guard, log, cfg.BruteForce.SweepInterval)

	resets := cache.NewResetRegistry(rdb, cfg.Session.KeyPrefix+"reset:")

	srvc := service.New(str, tokens, sessions, guard, resets, m)
	log.Info("service_initialized")

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit, rdb, m)
	if err != nil {
		log.Error("rate_limiter_init_failed", slog.String("err", err.Error()))
		return 1
	}

	// Служебный gRPC: health по postgres/redis + reflection в local/dev.
	grpc_prometheus.EnableHandlingTimeHistogram()
	gs := grpcsrv.New(grpcsrv.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		Interval:   cfg.Timeouts.HealthInterval,
		Reflection: cfg.Env == envLocal || cfg.Env == envDev,
	},
		grpcsrv.Check{Name: "postgres", Pinger: str},
		grpcsrv.Check{Name: "redis", Pinger: srvc},
	)
	go gs.Watch(rootCtx)

	// Пробы и метрики.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if gs.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	mux.Handle("/metrics", promhttp.Handler())

	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	apiSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: httpx.NewRouter(srvc, limiter, httpx.Options{
			Logger:       log,
			Timeout:      cfg.Timeouts.Service,
			BasePath:     cfg.HTTP.BasePath,
			CookieName:   cfg.Auth.CookieName,
			SecureCookie: cfg.Auth.SecureCookie,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErrCh := make(chan error, 3)
	for name, srv := range map[string]*http.Server{"http": apiSrv, "metrics": metricsSrv} {
		name, srv := name, srv
		go func() {
			log.Info(name+"_listen_start", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- err
			}
		}()
	}

	grpcAddr := cfg.GRPC.Addr()
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc_listen_failed", slog.String("addr", grpcAddr), slog.String("err", err.Error()))
		return 1
	}
	log.Info("grpc_listen_start", slog.String("addr", grpcAddr))

	go func() {
		if err := gs.Serve(lis); err != nil {
			serveErrCh <- err
		}
	}()

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	code := 0
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		log.Error("serve_failed", slog.String("err", err.Error()))
		code = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	gs.Shutdown(shutdownCtx)
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("service_stopped")
	return code
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// startSweeper периодически удаляет из BruteForceDefense записи,
// у которых истекли и окно, и блокировка.
func startSweeper(ctx context.Context, guard *bruteforce.Defense, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if n := guard.Sweep(now); n > 0 {
					log.Debug("bruteforce_swept", slog.Int("removed", n))
				}
			}
		}
	}()
}
