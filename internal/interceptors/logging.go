// interceptors содержит unary-интерсепторы служебного gRPC-сервера authguard.
package interceptors

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
)

const mdRequestID = "x-request-id"

// UnaryLoggingInterceptor кладёт в контекст логгер с request_id, методом
// и замаскированным адресом клиента, а после вызова пишет запись "grpc".
//
// Вызовы grpc.health.v1 пишутся на уровне Debug: пробы оркестратора
// приходят раз в несколько секунд и забивают лог.
func UnaryLoggingInterceptor(base *slog.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = slog.Default()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()

		l := base.With(
			slog.String("request_id", requestID(ctx)),
			slog.String("method", info.FullMethod),
			slog.String("peer", peerIP(ctx)),
		)
		ctx = log.Into(ctx, l)

		resp, err := handler(ctx, req)

		lvl := slog.LevelInfo
		switch {
		case isServerFault(err):
			lvl = slog.LevelError
		case strings.HasPrefix(info.FullMethod, "/grpc.health.v1."):
			lvl = slog.LevelDebug
		}

		l.LogAttrs(ctx, lvl, "grpc",
			slog.String("code", status.Code(err).String()),
			slog.Duration("dur", time.Since(start)),
		)

		return resp, err
	}
}

func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(mdRequestID); len(v) > 0 && v[0] != "" && len(v[0]) <= 128 {
			return v[0]
		}
	}

	return uuid.NewString()
}

// peerIP возвращает адрес клиента без порта, с обнулённой хостовой частью.
func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p == nil || p.Addr == nil {
		return "-"
	}

	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		host = p.Addr.String()
	}

	return redact.IP(host)
}

// isServerFault сообщает, что ошибка вызвана сервером, а не клиентом.
func isServerFault(err error) bool {
	switch status.Code(err) {
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unimplemented:
		return true
	default:
		return false
	}
}
