package models

import "time"

// Значения дискриминатора kind. Каждая проверка токена обязана сверять его,
// а не только подпись: секреты разных классов токенов могут совпадать.
const (
	KindAccess        = "access"
	KindRefresh       = "refresh"
	KindPasswordReset = "password-reset"
)

// TokenPayload — полезная нагрузка access-токена.
type TokenPayload struct {
	UserID string
	Email  string
	Role   string
}

// RefreshTokenPayload — полезная нагрузка refresh-токена.
type RefreshTokenPayload struct {
	UserID string
	Kind   string
}

// PasswordResetPayload — полезная нагрузка токена сброса пароля.
// ID (jti) используется для однократного погашения токена.
type PasswordResetPayload struct {
	UserID    string
	ID        string
	ExpiresAt time.Time
}

// TokenPair — пара токенов, выдаваемая при входе, регистрации и обновлении.
//
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — долгоживущий JWT (kind=refresh), привязанный к сессии;
//   - AccessExpiresAt/RefreshExpiresAt — моменты истечения (UTC).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
