// errors стандартизирует ответы об ошибках HTTP-слоя authguard.
// На вход принимается доменная ошибка (из service, session, token,
// bruteforce, cache), на выход даётся:
//   - корректный HTTP-статус;
//   - короткий стабильный код и безопасное message без утечки деталей.
//
// Ошибки хранилища сессий дают 503: операции аутентификации при
// недоступном Redis отклоняются, а не пропускаются.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/bruteforce"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/cache"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/service"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

var (
	// ErrBadRequest — тело или параметры запроса не разобраны. HTTP 400.
	ErrBadRequest = stderrors.New("invalid argument")
	// ErrUnauthenticated — в запросе нет учётных данных. HTTP 401.
	ErrUnauthenticated = stderrors.New("unauthenticated")
	// ErrForbidden — недостаточно прав. HTTP 403.
	ErrForbidden = stderrors.New("permission denied")
)

// APIError — единый формат для клиентов.
// Code — короткий стабильный код для машиночитаемой обработки.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type mapping struct {
	target error
	status int
	code   string
	msg    string
}

// table проверяется сверху вниз; более узкие ошибки стоят раньше
// оборачиваемых ими (ErrTokenExpired раньше ErrInvalidToken,
// ErrStoreUnavailable раньше ошибок контекста).
var table = []mapping{
	{ErrBadRequest, http.StatusBadRequest, "invalid_argument", "invalid argument"},
	{service.ErrInvalidEmail, http.StatusBadRequest, "invalid_email", "invalid email format"},
	{service.ErrEmptyPassword, http.StatusBadRequest, "empty_password", "password is empty"},
	{service.ErrWeakPassword, http.StatusBadRequest, "weak_password", "password is too weak"},
	{session.ErrInvalidUpdate, http.StatusBadRequest, "invalid_argument", "invalid argument"},

	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", "unauthenticated"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials", "invalid email or password"},
	{token.ErrTokenExpired, http.StatusUnauthorized, "token_expired", "token expired"},
	{token.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{session.ErrStaleToken, http.StatusUnauthorized, "invalid_token", "invalid token"},
	{session.ErrSessionNotFound, http.StatusUnauthorized, "session_not_found", "session not found"},
	{cache.ErrTokenUsed, http.StatusUnauthorized, "invalid_token", "invalid token"},

	{ErrForbidden, http.StatusForbidden, "permission_denied", "permission denied"},
	{service.ErrForbidden, http.StatusForbidden, "permission_denied", "permission denied"},

	{service.ErrEmailTaken, http.StatusConflict, "already_exists", "email already taken"},

	{bruteforce.ErrBlocked, http.StatusTooManyRequests, "too_many_attempts", "too many failed attempts"},

	{session.ErrStoreUnavailable, http.StatusServiceUnavailable, "unavailable", "service unavailable"},
	{context.Canceled, StatusClientClosedRequest, "canceled", "canceled"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"},
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ.
//
// err == nil — программная ошибка вызова: возвращаем 500/internal,
// чтобы не послать "200 OK" с телом ошибки и не маскировать баг.
// Неизвестные ошибки тоже дают 500/internal без деталей.
func ToHTTP(err error) (int, ErrorResponse) {
	if err != nil {
		for _, m := range table {
			if stderrors.Is(err, m.target) {
				return m.status, ErrorResponse{Error: APIError{Code: m.code, Message: m.msg}}
			}
		}
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: APIError{
			Code:    "internal",
			Message: "internal error",
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет статус и тело, добавляет request_id из заголовка и Retry-After
// для заблокированных ключей. Ошибки 5xx логируются с причиной.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	var blocked *bruteforce.BlockedError
	if stderrors.As(err, &blocked) {
		w.Header().Set("Retry-After", RetryAfterSeconds(blocked.RetryAfter(time.Now())))
	}

	if status >= http.StatusInternalServerError && err != nil {
		log.From(r.Context()).Error("request_failed",
			slog.Int("status", status),
			slog.String("err", err.Error()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// RetryAfterSeconds округляет длительность вверх до целых секунд (минимум 1).
func RetryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}

	return strconv.FormatInt(secs, 10)
}
