package models

import (
	"time"

	"github.com/google/uuid"
)

// Роли пользователя. Значение попадает в claim "role" access-токена.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User - модель пользователя в системе.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
