package models

import "time"

// Session — серверная запись, связывающая refresh-токен с клиентом.
//
// Инвариант: на каждый выданный refresh-токен приходится ровно одна сессия,
// и обратный индекс refresh-токен -> ID всегда указывает на неё.
//
// Хранилище держит только TokenHash. RefreshToken заполнен, когда токен
// известен вызывающему (создание, поиск по токену, ротация).
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"-"`
	TokenHash    string    `json:"-"`
	UserAgent    string    `json:"user_agent,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
