package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
)

// Logging кладёт request-scoped логгер в контекст и пишет одну запись
// "http" на запрос. Адрес клиента маскируется.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l
			if rid := RequestIDFrom(r.Context()); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}
			r = r.WithContext(log.Into(r.Context(), reqLogger))

			m := newMeter(w)
			start := time.Now()
			next.ServeHTTP(m, r)
			dur := time.Since(start)

			level := slog.LevelInfo
			if m.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			log.From(r.Context()).LogAttrs(r.Context(), level, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", m.Status()),
				slog.Duration("dur", dur),
				slog.Int("bytes", m.bytes),
				slog.String("ip", redact.IP(ratelimit.ClientIP(r))),
			)
		})
	}
}
