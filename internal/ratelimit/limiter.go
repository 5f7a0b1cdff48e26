// Package ratelimit реализует ограничение частоты запросов скользящим
// окном с отдельными политиками для чувствительных эндпойнтов.
//
// Решение лимитера — значение Decision, а не ошибка. Сбой хранилища
// счётчиков пропускает запрос (fail open): точность троттлинга
// уступает доступности.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
)

// Decision — результат проверки одного запроса.
type Decision struct {
	Endpoint   Endpoint
	Allowed    bool
	Skipped    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Message    string
}

// DenyHandler полностью заменяет стандартный ответ 429.
type DenyHandler func(w http.ResponseWriter, r *http.Request, d Decision)

// Option настраивает Limiter.
type Option func(*Limiter)

// WithKeyFunc задаёт извлечение ключа клиента (по умолчанию ClientIP).
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) { l.keyFunc = fn }
}

// WithSkip задаёт предикат исключения запросов из учёта.
func WithSkip(fn func(*http.Request) bool) Option {
	return func(l *Limiter) { l.skip = fn }
}

// WithDenyHandler задаёт собственный ответ на превышение лимита.
func WithDenyHandler(h DenyHandler) Option {
	return func(l *Limiter) { l.deny = h }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStore использует одно хранилище для всех классов вместо
// построенных по конфигурации.
func WithStore(s Store) Option {
	return func(l *Limiter) {
		for ep := range l.policies {
			l.stores[ep] = s
		}
	}
}

// Limiter применяет политики к запросам.
type Limiter struct {
	enabled  bool
	policies map[Endpoint]Policy
	stores   map[Endpoint]Store
	keyFunc  func(*http.Request) string
	skip     func(*http.Request) bool
	deny     DenyHandler
	metrics  *metrics.Metrics

	now func() time.Time
}

// NewLimiter строит лимитер: сливает переопределения из cfg с таблицей
// по умолчанию и заранее создаёт хранилище на каждый класс эндпойнтов.
// rdb нужен только для бэкенда "redis". Неизвестный класс в
// переопределениях — ошибка конструирования.
func NewLimiter(cfg config.RateLimitConfig, rdb redis.UniversalClient, m *metrics.Metrics, opts ...Option) (*Limiter, error) {
	const op = "ratelimit.NewLimiter"

	policies := DefaultPolicies()
	for name, o := range cfg.Policies {
		ep := Endpoint(name)
		p, ok := policies[ep]
		if !ok {
			return nil, fmt.Errorf("%s: unknown endpoint class %q", op, name)
		}

		if o.Window > 0 {
			p.Window = o.Window
		}
		if o.Max > 0 {
			p.Max = o.Max
		}
		if o.Message != "" {
			p.Message = o.Message
		}
		policies[ep] = p
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 10000
	}

	stores := make(map[Endpoint]Store, len(policies))
	for ep, p := range policies {
		switch cfg.Backend {
		case config.BackendRedis:
			if rdb == nil {
				return nil, fmt.Errorf("%s: redis backend requires a client", op)
			}
			stores[ep] = NewRedisStore(rdb, cfg.KeyPrefix+string(ep)+":")
		case config.BackendMemory, "":
			stores[ep] = NewMemoryStore(capacity, p.Window)
		default:
			return nil, fmt.Errorf("%s: unsupported backend %q", op, cfg.Backend)
		}
	}

	trusted := make([]netip.Prefix, 0, len(cfg.TrustedCIDRs))
	for _, c := range cfg.TrustedCIDRs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		trusted = append(trusted, p.Masked())
	}

	l := &Limiter{
		enabled:  cfg.Enabled,
		policies: policies,
		stores:   stores,
		keyFunc:  ClientIP,
		skip:     TrustedSkip(trusted),
		metrics:  m,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Policy возвращает действующую политику класса.
func (l *Limiter) Policy(ep Endpoint) Policy {
	if p, ok := l.policies[ep]; ok {
		return p
	}

	return l.policies[EndpointDefault]
}

// DenyHandler возвращает пользовательский обработчик отказа или nil.
func (l *Limiter) DenyHandler() DenyHandler { return l.deny }

// CheckRateLimit классифицирует запрос, определяет ключ клиента
// и учитывает запрос в окне соответствующего класса.
func (l *Limiter) CheckRateLimit(r *http.Request) Decision {
	ep := Classify(r.URL.Path)

	if !l.enabled || (l.skip != nil && l.skip(r)) {
		l.metrics.RateLimit(string(ep), "skipped")
		return Decision{Endpoint: ep, Allowed: true, Skipped: true}
	}

	return l.Check(r.Context(), ep, l.keyFunc(r))
}

// Check учитывает одно обращение key к классу ep.
func (l *Limiter) Check(ctx context.Context, ep Endpoint, key string) Decision {
	if _, ok := l.policies[ep]; !ok {
		ep = EndpointDefault
	}
	p := l.policies[ep]
	now := l.now()

	d := Decision{
		Endpoint:   ep,
		Allowed:    true,
		Limit:      p.Max,
		Remaining:  p.Max,
		ResetAt:    now.Add(p.Window),
		RetryAfter: p.Window,
		Message:    p.Message,
	}

	count, err := l.stores[ep].Hit(ctx, key, now, p.Window)
	if err != nil {
		log.From(ctx).Warn("ratelimit_store_failed",
			slog.String("endpoint", string(ep)),
			slog.String("err", err.Error()),
		)
		l.metrics.RateLimit(string(ep), "error")

		return d
	}

	d.Allowed = count <= p.Max
	d.Remaining = max(0, p.Max-count)

	if !d.Allowed {
		log.From(ctx).Warn("ratelimit_exceeded",
			slog.String("endpoint", string(ep)),
			slog.String("client", redact.IP(key)),
		)
		l.metrics.RateLimit(string(ep), "limited")

		return d
	}

	l.metrics.RateLimit(string(ep), "allowed")

	return d
}
