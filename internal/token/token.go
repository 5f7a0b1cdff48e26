// Package token выпускает и проверяет JWT трёх классов: access, refresh
// и password-reset. Пакет не хранит состояния и не выполняет I/O.
//
// Классы различаются claim "kind". Каждая проверка сверяет kind помимо
// подписи и срока: при общем (fallback) секрете это единственное, что
// мешает предъявить access-токен вместо refresh и наоборот.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
)

var (
	// ErrInvalidToken — подпись, формат, алгоритм, issuer/audience или kind
	// не прошли проверку. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия истёк. Оборачивает ErrInvalidToken,
	// поэтому errors.Is(err, ErrInvalidToken) истинно для любой ошибки проверки.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)

	// ErrNoSecret — не задан ключ подписи.
	ErrNoSecret = errors.New("token: signing secret is empty")
)

// claims — общий набор claim-ов для всех классов токенов.
// Поля, не относящиеся к классу, опускаются при сериализации.
type claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// Service выпускает и проверяет токены.
type Service struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	issuer     string
	audience   []string
	leeway     time.Duration

	now func() time.Time
}

// New создаёт Service. Ключи берутся из AuthConfig с учётом fallback
// на общий JWTSecret.
func New(cfg config.AuthConfig) (*Service, error) {
	const op = "token.New"

	if cfg.AccessKey() == "" || cfg.RefreshKey() == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSecret)
	}

	return &Service{
		accessKey:  []byte(cfg.AccessKey()),
		refreshKey: []byte(cfg.RefreshKey()),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		resetTTL:   cfg.ResetTokenTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		leeway:     cfg.Leeway,
		now:        time.Now,
	}, nil
}

// AccessTTL возвращает срок жизни access-токена.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL возвращает срок жизни refresh-токена.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Leeway возвращает допуск, в пределах которого просроченный токен ещё принимается.
func (s *Service) Leeway() time.Duration { return s.leeway }

// GenerateTokenPair подписывает access-токен ключом access и короткой
// экспирацией, а refresh-токен {uid, kind:"refresh"} — ключом refresh
// и длинной экспирацией.
func (s *Service) GenerateTokenPair(p models.TokenPayload) (models.TokenPair, error) {
	const op = "token.GenerateTokenPair"

	if p.UserID == "" {
		return models.TokenPair{}, fmt.Errorf("%s: empty user id", op)
	}

	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)

	access, err := s.sign(s.accessKey, claims{
		UserID:           p.UserID,
		Email:            p.Email,
		Role:             p.Role,
		Kind:             models.KindAccess,
		RegisteredClaims: s.registered(p.UserID, now, accessExp),
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := s.sign(s.refreshKey, claims{
		UserID:           p.UserID,
		Kind:             models.KindRefresh,
		RegisteredClaims: s.registered(p.UserID, now, refreshExp),
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccessToken проверяет access-токен.
func (s *Service) VerifyAccessToken(tokenStr string) (models.TokenPayload, error) {
	const op = "token.VerifyAccessToken"

	c, err := s.parse(tokenStr, s.accessKey, models.KindAccess)
	if err != nil {
		return models.TokenPayload{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPayload{UserID: c.UserID, Email: c.Email, Role: c.Role}, nil
}

// VerifyRefreshToken проверяет refresh-токен, включая kind == "refresh".
func (s *Service) VerifyRefreshToken(tokenStr string) (models.RefreshTokenPayload, error) {
	const op = "token.VerifyRefreshToken"

	c, err := s.parse(tokenStr, s.refreshKey, models.KindRefresh)
	if err != nil {
		return models.RefreshTokenPayload{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.RefreshTokenPayload{UserID: c.UserID, Kind: c.Kind}, nil
}

// GeneratePasswordResetToken выпускает одноцелевой токен сброса пароля,
// подписанный ключом access.
func (s *Service) GeneratePasswordResetToken(userID string) (string, time.Time, error) {
	const op = "token.GeneratePasswordResetToken"

	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%s: empty user id", op)
	}

	now := s.now().UTC()
	exp := now.Add(s.resetTTL)

	signed, err := s.sign(s.accessKey, claims{
		UserID:           userID,
		Kind:             models.KindPasswordReset,
		RegisteredClaims: s.registered(userID, now, exp),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	return signed, exp, nil
}

// VerifyPasswordResetToken проверяет токен сброса пароля.
func (s *Service) VerifyPasswordResetToken(tokenStr string) (models.PasswordResetPayload, error) {
	const op = "token.VerifyPasswordResetToken"

	c, err := s.parse(tokenStr, s.accessKey, models.KindPasswordReset)
	if err != nil {
		return models.PasswordResetPayload{}, fmt.Errorf("%s: %w", op, err)
	}

	if c.ID == "" || c.ExpiresAt == nil {
		return models.PasswordResetPayload{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return models.PasswordResetPayload{
		UserID:    c.UserID,
		ID:        c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (s *Service) registered(userID string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings(s.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (s *Service) sign(key []byte, c claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
}

// parse проверяет подпись, алгоритм, срок, issuer/audience и kind.
func (s *Service) parse(tokenStr string, key []byte, kind string) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.audience...))
	}

	var c claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}

		return nil, ErrInvalidToken
	}

	if !tok.Valid || c.Kind != kind || c.UserID == "" || c.Subject != c.UserID {
		return nil, ErrInvalidToken
	}

	return &c, nil
}
