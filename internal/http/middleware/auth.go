package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
)

// Authenticator проверяет access-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (models.TokenPayload, error)
}

// Authenticate требует валидный access-токен: из заголовка
// "Authorization: Bearer ..." или, если заголовка нет, из cookie cookieName.
// Полезная нагрузка токена кладётся в контекст (см. UserFrom).
func Authenticate(auth Authenticator, cookieName string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" && cookieName != "" {
				if c, err := r.Cookie(cookieName); err == nil {
					raw = c.Value
				}
			}

			if raw == "" {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			payload, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxUser, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только пользователей с одной из ролей.
// Должен стоять после Authenticate.
func RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFrom(r.Context())
			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			if !slices.Contains(roles, user.Role) {
				apierrors.WriteError(w, r, apierrors.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserFrom возвращает аутентифицированного пользователя запроса.
func UserFrom(ctx context.Context) (models.TokenPayload, bool) {
	p, ok := ctx.Value(ctxUser).(models.TokenPayload)
	return p, ok
}

// WithUser кладёт пользователя в контекст (тесты хендлеров).
func WithUser(ctx context.Context, p models.TokenPayload) context.Context {
	return context.WithValue(ctx, ctxUser, p)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
