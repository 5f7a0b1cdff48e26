package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/ratelimit"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/service"
)

// maxBodyBytes ограничивает размер JSON-тела запроса.
const maxBodyBytes = 1 << 20

// AuthService — операции, которые нужны хендлерам.
type AuthService interface {
	Register(ctx context.Context, email, password string, meta service.Meta) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string, meta service.Meta) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string, meta service.Meta) (*service.AuthResult, error)
	Logout(ctx context.Context, userID, refreshToken string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	Sessions(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
}

var _ AuthService = (*service.Service)(nil)

// CookieOptions — параметры cookie с access-токеном.
// Пустое Name отключает выдачу cookie.
type CookieOptions struct {
	Name   string
	Secure bool
}

// Handlers агрегирует зависимости хендлеров.
type Handlers struct {
	Auth   AuthService
	Cookie CookieOptions
}

func New(auth AuthService, cookie CookieOptions) *Handlers {
	return &Handlers{Auth: auth, Cookie: cookie}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля
// и мусор после объекта.
func decodeStrict(w http.ResponseWriter, r *http.Request, value any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(value); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after json object")
	}

	return nil
}

func metaFrom(r *http.Request) service.Meta {
	return service.Meta{
		UserAgent: r.UserAgent(),
		IPAddress: ratelimit.ClientIP(r),
	}
}
