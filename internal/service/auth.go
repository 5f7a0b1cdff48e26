package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/storage"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

// Register регистрирует нового пользователя и открывает для него сессию.
func (s *Service) Register(ctx context.Context, email, password string, meta Meta) (*AuthResult, error) {
	const op = "service.auth.Register"

	normEmail, err := validateEmail(email)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.storage.UserByEmail(ctx, normEmail)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := s.hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		Email:        normEmail,
		PasswordHash: hashedPassword,
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrEmailTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_registered",
		slog.String("user_id", user.ID.String()),
		slog.String("email", redact.Email(user.Email)),
	)

	return res, nil
}

// Login выполняет вход по email и паролю.
//
// Заблокированный IP получает *bruteforce.BlockedError до проверки пароля.
// Каждая неудача учитывается; попытка, достигшая порога, сразу
// возвращает BlockedError вместо ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (*AuthResult, error) {
	const op = "service.auth.Login"

	key := meta.IPAddress

	if err := s.guard.Check(key); err != nil {
		log.From(ctx).Warn("login_rejected_blocked", slog.String("ip", redact.IP(key)))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	normEmail, err := validateEmail(email)
	if err != nil || len(password) == 0 {
		return nil, fmt.Errorf("%s: %w", op, s.failedAttempt(ctx, key))
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, s.failedAttempt(ctx, key))
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%s: %w", op, s.failedAttempt(ctx, key))
	}

	s.guard.RecordSuccess(key)

	res, err := s.startSession(ctx, user, meta)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

// Refresh обменивает refresh-токен на новую пару.
//
// Сессия ищется по токену, после чего ротация выполняется как
// compare-and-swap по старому токену: из двух одновременных обменов
// одного токена успешен только один, второй получает session.ErrStaleToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta Meta) (*AuthResult, error) {
	const op = "service.auth.Refresh"

	payload, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.sessions.GetSessionByToken(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%s: %w", op, session.ErrSessionNotFound)
	}
	if sess.UserID != payload.UserID {
		return nil, fmt.Errorf("%s: %w", op, token.ErrInvalidToken)
	}

	user, err := s.userByID(ctx, payload.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.tokens.GenerateTokenPair(tokenPayload(user))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	updated, err := s.sessions.UpdateSession(ctx, sess.ID, session.Update{
		RefreshToken:       pair.RefreshToken,
		ExpectRefreshToken: refreshToken,
		UserAgent:          meta.UserAgent,
		IPAddress:          meta.IPAddress,
		ExpiresAt:          s.now().UTC().Add(s.sessions.TTL()),
	})
	if err != nil {
		if errors.Is(err, session.ErrStaleToken) {
			log.From(ctx).Warn("refresh_token_reuse",
				slog.String("session_id", redact.SessionID(sess.ID)),
				slog.String("ip", redact.IP(meta.IPAddress)),
			)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.issued()

	return &AuthResult{User: user, Session: updated, Tokens: pair}, nil
}

// Authenticate проверяет access-токен и возвращает его полезную нагрузку.
func (s *Service) Authenticate(_ context.Context, accessToken string) (models.TokenPayload, error) {
	const op = "service.auth.Authenticate"

	payload, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return models.TokenPayload{}, fmt.Errorf("%s: %w", op, err)
	}

	return payload, nil
}

// failedAttempt учитывает неудачу и выбирает ошибку для клиента.
func (s *Service) failedAttempt(ctx context.Context, key string) error {
	if s.guard.RecordAttempt(key) {
		return ErrInvalidCredentials
	}

	if err := s.guard.Check(key); err != nil {
		log.From(ctx).Warn("bruteforce_blocked", slog.String("ip", redact.IP(key)))
		return err
	}

	return ErrInvalidCredentials
}

// startSession выпускает пару токенов и создаёт сессию под refresh-токен.
func (s *Service) startSession(ctx context.Context, user *models.User, meta Meta) (*AuthResult, error) {
	const op = "service.auth.startSession"

	pair, err := s.tokens.GenerateTokenPair(tokenPayload(user))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.sessions.CreateSession(ctx, user.ID.String(), session.CreateData{
		RefreshToken: pair.RefreshToken,
		UserAgent:    meta.UserAgent,
		IPAddress:    meta.IPAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.issued()

	return &AuthResult{User: user, Session: sess, Tokens: pair}, nil
}

func (s *Service) issued() {
	s.metrics.TokenIssued(models.KindAccess)
	s.metrics.TokenIssued(models.KindRefresh)
}

// userByID загружает пользователя по строковому ID из токена.
// Отсутствующий пользователь означает недействительный токен.
func (s *Service) userByID(ctx context.Context, id string) (*models.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, token.ErrInvalidToken
	}

	user, err := s.storage.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, token.ErrInvalidToken
		}

		return nil, err
	}

	return user, nil
}

func tokenPayload(user *models.User) models.TokenPayload {
	return models.TokenPayload{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
	}
}

// hashPassword хэширует пароль с помощью bcrypt.
func (s *Service) hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateEmail проверяет базовый формат email и приводит его к нижнему регистру.
func validateEmail(raw string) (string, error) {
	const op = "service.auth.validateEmail"

	email := strings.TrimSpace(raw)
	if email == "" {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	return strings.ToLower(email), nil
}

// validatePassword: длина >= 8, хотя бы одна строчная, заглавная, цифра и спецсимвол.
func validatePassword(pw string) error {
	const op = "service.auth.validatePassword"

	if len(pw) == 0 {
		return fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if len([]rune(pw)) < 8 || len(pw) > 72 {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !(hasLower && hasUpper && hasDigit && hasSpecial) {
		return fmt.Errorf("%s: %w", op, ErrWeakPassword)
	}

	return nil
}
