package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
)

// InitSentry подключает отчёты о паниках. Пустой dsn — no-op.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry дожидается отправки накопленных событий.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// Recover перехватывает panic, отправляет её в Sentry (если он настроен)
// и отвечает 500/internal. Детали паники не утекают на клиент.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetTag("path", r.URL.Path)
					scope.SetTag("method", r.Method)
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CurrentHub().Recover(rec)
				})

				log.From(r.Context()).
					LogAttrs(r.Context(), slog.LevelError, "panic",
						slog.String("path", r.URL.Path),
						slog.Any("reason", rec),
					)
				apierrors.WriteError(w, r, fmt.Errorf("panic: %v", rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
