package interceptors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
)

// Recover перехватывает паники обработчиков, отправляет их в Sentry
// и отвечает codes.Internal без деталей.
//
// Логгер берётся из контекста; если его там нет, используется base.
func Recover(base *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			l := log.From(ctx)
			if l == slog.Default() && base != nil {
				l = base
			}

			stack := string(debug.Stack())
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("grpc.method", info.FullMethod)
				scope.SetExtra("stack", stack)
				sentry.CurrentHub().Recover(rec)
			})

			l.Error("panic_recovered",
				slog.String("method", info.FullMethod),
				slog.Any("panic", rec),
				slog.String("stack", stack),
			)

			resp, err = nil, status.Error(codes.Internal, "internal server error")
		}()

		return handler(ctx, req)
	}
}
