// service содержит бизнес-логику authguard: регистрацию и вход
// пользователей, ротацию refresh-токенов, управление сессиями
// и сброс пароля.
//
// Основные аспекты:
//   - Service не хранит состояние запроса и безопасен для конкурентного
//     использования при условии потокобезопасности зависимостей.
//   - Неудачные входы учитываются BruteForceDefense по IP клиента.
//   - Ошибки возвращаются как есть (обёрнутые op) и маппятся
//     транспортом на HTTP-статусы в пакете internal/errors.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/bruteforce"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/cache"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

var (
	// ErrInvalidCredentials — пара email/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken — e-mail уже занят другим пользователем.
	// Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — e-mail имеет некорректный формат.
	// Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политике сложности.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой.
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrForbidden — операция над чужим ресурсом (сессией другого пользователя).
	// Транспорт: HTTP 403.
	ErrForbidden = errors.New("forbidden")
)

// Meta — сведения о клиенте, сохраняемые в сессии.
// IPAddress также служит ключом защиты от перебора.
type Meta struct {
	UserAgent string
	IPAddress string
}

// AuthResult — итог успешной регистрации, входа или обновления токенов.
type AuthResult struct {
	User    *models.User
	Session *models.Session
	Tokens  models.TokenPair
}

// ResetSender доставляет токен сброса пароля владельцу e-mail.
type ResetSender interface {
	SendPasswordReset(ctx context.Context, email, resetToken string, expiresAt time.Time) error
}

// LogSender пишет факт выдачи токена в лог. Сам токен маскируется.
type LogSender struct{}

func (LogSender) SendPasswordReset(ctx context.Context, email, resetToken string, expiresAt time.Time) error {
	log.From(ctx).Info("password_reset_issued",
		slog.String("email", redact.Email(email)),
		slog.String("token", redact.Token(resetToken)),
		slog.Time("expires_at", expiresAt),
	)

	return nil
}

// Service описывает бизнес-логику authguard.
type Service struct {
	storage  storage.UserStorage
	tokens   *token.Service
	sessions *session.Service
	guard    *bruteforce.Defense
	resets   *cache.ResetRegistry
	sender   ResetSender
	metrics  *metrics.Metrics

	bcryptCost int
	now        func() time.Time
}

// New создаёт новый экземпляр Service. m может быть nil.
func New(
	st storage.UserStorage,
	tokens *token.Service,
	sessions *session.Service,
	guard *bruteforce.Defense,
	resets *cache.ResetRegistry,
	m *metrics.Metrics,
) *Service {
	return &Service{
		storage:    st,
		tokens:     tokens,
		sessions:   sessions,
		guard:      guard,
		resets:     resets,
		sender:     LogSender{},
		metrics:    m,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// SetResetSender заменяет способ доставки токенов сброса пароля.
func (s *Service) SetResetSender(sender ResetSender) {
	if sender != nil {
		s.sender = sender
	}
}

// Ping проверяет доступность хранилища сессий.
func (s *Service) Ping(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}
