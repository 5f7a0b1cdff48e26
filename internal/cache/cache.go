// Package cache содержит подключение к Redis и реестр одноразовых
// токенов сброса пароля.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrTokenUsed — токен сброса уже был погашен. Транспорт: HTTP 401.
var ErrTokenUsed = errors.New("reset token already used")

// NewRedisClient создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "cache.NewRedisClient"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

// ResetRegistry гарантирует однократное использование токенов сброса
// пароля: jti погашенного токена хранится до конца его срока жизни.
type ResetRegistry struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewResetRegistry создаёт реестр. Если prefix пустой — "authguard:reset:".
func NewResetRegistry(rdb redis.UniversalClient, prefix string) *ResetRegistry {
	if prefix == "" {
		prefix = "authguard:reset:"
	}

	return &ResetRegistry{rdb: rdb, prefix: prefix}
}

// MarkUsed атомарно погашает jti. Повторное погашение даёт ErrTokenUsed.
// ttl — остаток срока жизни токена с учётом допуска проверки exp;
// после него запись не нужна, так как токен уже отклоняется.
func (r *ResetRegistry) MarkUsed(ctx context.Context, jti string, ttl time.Duration) error {
	const op = "cache.ResetRegistry.MarkUsed"

	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := r.rdb.SetNX(ctx, r.prefix+jti, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !ok {
		return fmt.Errorf("%s: %w", op, ErrTokenUsed)
	}

	return nil
}

// Release снимает отметку о погашении, если операция сброса не завершилась.
func (r *ResetRegistry) Release(ctx context.Context, jti string) error {
	const op = "cache.ResetRegistry.Release"

	if err := r.rdb.Del(ctx, r.prefix+jti).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
