package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
)

// Timeout ограничивает время обработки запроса сверху: более длинный
// дедлайн родителя сокращается до d, более короткий сохраняется.
// Если обработчик вернулся по истечении дедлайна, ничего не записав,
// клиент получает 504 в общем формате ошибок. d <= 0 отключает мидлвар.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			m := newMeter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(m, r)

			if !m.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				apierrors.WriteError(m, r, ctx.Err())
			}
		})
	}
}
