package session

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
)

// Store — контракт хранилища сессий с тремя индексами:
// sessionID -> Session, refresh-токен -> sessionID, userID -> set(sessionID).
//
// Любая ошибка бэкенда (включая таймаут) возвращается как ErrStoreUnavailable.
type Store interface {
	// Create атомарно пишет запись, обратный указатель и индекс пользователя.
	Create(ctx context.Context, s *models.Session, ttl time.Duration) error
	// Get возвращает сессию или nil, если её нет.
	Get(ctx context.Context, id string) (*models.Session, error)
	// GetMany возвращает сессии в порядке ids; отсутствующие — nil.
	GetMany(ctx context.Context, ids []string) ([]*models.Session, error)
	// IDByTokenHash возвращает ID сессии по хэшу refresh-токена или "".
	IDByTokenHash(ctx context.Context, hash string) (string, error)
	// Update выполняет read-modify-write под оптимистичной блокировкой.
	Update(ctx context.Context, id string, fn UpdateFunc) error
	// Delete удаляет запись, обратный указатель и ID из индекса пользователя.
	Delete(ctx context.Context, s *models.Session) error
	// DeleteTokenHash удаляет висячий обратный указатель.
	DeleteTokenHash(ctx context.Context, hash string) error
	// UserSessionIDs возвращает содержимое индекса пользователя.
	UserSessionIDs(ctx context.Context, userID string) ([]string, error)
	// RemoveFromUser убирает ID из индекса пользователя.
	RemoveFromUser(ctx context.Context, userID string, ids ...string) error
	// DeleteUserIndex удаляет индекс пользователя целиком.
	DeleteUserIndex(ctx context.Context, userID string) error
	// Ping проверяет доступность бэкенда.
	Ping(ctx context.Context) error
}

// UpdateFunc изменяет текущую запись на месте и возвращает новый TTL.
// Нулевой TTL сохраняет текущий срок записи.
type UpdateFunc func(cur *models.Session) (time.Duration, error)

// Поля Redis-хэша сессии.
const (
	fieldID        = "id"
	fieldUserID    = "uid"
	fieldTokenHash = "rth"
	fieldUserAgent = "ua"
	fieldIP        = "ip"
	fieldCreatedAt = "cat"
	fieldExpiresAt = "exp"
)

// maxUpdateRetries — сколько раз Update повторяет транзакцию при гонке WATCH.
const maxUpdateRetries = 3

// RedisStore — реализация Store поверх go-redis.
// Refresh-токены не хранятся в открытом виде: запись и указатель
// содержат только SHA-256 хэш.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore создаёт хранилище. Пустой prefix заменяется на "authguard:".
func NewRedisStore(rdb redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "authguard:"
	}

	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &RedisStore{rdb: rdb, prefix: prefix, timeout: timeout}
}

// HashToken возвращает хэш refresh-токена, под которым он индексируется.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *RedisStore) sessionKey(id string) string  { return s.prefix + id }
func (s *RedisStore) tokenKey(hash string) string  { return s.prefix + "refresh:" + hash }
func (s *RedisStore) userKey(userID string) string { return s.prefix + "user:" + userID }

func (s *RedisStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session, ttl time.Duration) error {
	const op = "session.store.Create"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	uk := s.userKey(sess.UserID)

	// Индекс пользователя живёт не меньше самой долгой сессии в нём.
	cur, err := s.rdb.PTTL(ctx, uk).Result()
	if err != nil {
		return unavailable(op, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.sessionKey(sess.ID), encode(sess))
	pipe.PExpire(ctx, s.sessionKey(sess.ID), ttl)
	pipe.Set(ctx, s.tokenKey(sess.TokenHash), sess.ID, ttl)
	pipe.SAdd(ctx, uk, sess.ID)
	if cur < ttl {
		pipe.PExpire(ctx, uk, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	const op = "session.store.Get"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	m, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, unavailable(op, err)
	}

	if len(m) == 0 {
		return nil, nil
	}

	sess, err := decode(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

func (s *RedisStore) GetMany(ctx context.Context, ids []string) ([]*models.Session, error) {
	const op = "session.store.GetMany"

	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(op, err)
	}

	out := make([]*models.Session, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}

		sess, err := decode(m)
		if err != nil {
			// Битая запись ведёт себя как отсутствующая.
			continue
		}
		out[i] = sess
	}

	return out, nil
}

func (s *RedisStore) IDByTokenHash(ctx context.Context, hash string) (string, error) {
	const op = "session.store.IDByTokenHash"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	id, err := s.rdb.Get(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}

		return "", unavailable(op, err)
	}

	return id, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	const op = "session.store.Update"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	sk := s.sessionKey(id)

	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, sk).Result()
		if err != nil {
			return err
		}

		if len(m) == 0 {
			return ErrSessionNotFound
		}

		cur, err := decode(m)
		if err != nil {
			return err
		}
		oldHash := cur.TokenHash

		ttl, err := fn(cur)
		if err != nil {
			return err
		}

		if ttl <= 0 {
			if ttl, err = tx.PTTL(ctx, sk).Result(); err != nil {
				return err
			}
		}

		// Индекс пользователя не должен истечь раньше продлённой сессии,
		// иначе массовая инвалидация её не увидит.
		uk := s.userKey(cur.UserID)
		var userTTL time.Duration
		if ttl > 0 {
			if userTTL, err = tx.PTTL(ctx, uk).Result(); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, sk, encode(cur))
			if ttl > 0 {
				pipe.PExpire(ctx, sk, ttl)
				pipe.SAdd(ctx, uk, id)
				if userTTL < ttl {
					pipe.PExpire(ctx, uk, ttl)
				}
			}

			if cur.TokenHash != oldHash {
				// Ротация: старый указатель снимается в той же транзакции,
				// в которой ставится новый.
				pipe.Del(ctx, s.tokenKey(oldHash))
				pipe.Set(ctx, s.tokenKey(cur.TokenHash), id, max(ttl, 0))
			} else if ttl > 0 {
				pipe.PExpire(ctx, s.tokenKey(cur.TokenHash), ttl)
			}

			return nil
		})

		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, sk)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			// Запись изменилась между чтением и EXEC — перечитываем.
			continue
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrStaleToken), errors.Is(err, ErrInvalidUpdate):
			return fmt.Errorf("%s: %w", op, err)
		default:
			return unavailable(op, err)
		}
	}

	return fmt.Errorf("%s: %w", op, ErrStaleToken)
}

func (s *RedisStore) Delete(ctx context.Context, sess *models.Session) error {
	const op = "session.store.Delete"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.sessionKey(sess.ID))
	if sess.TokenHash != "" {
		pipe.Del(ctx, s.tokenKey(sess.TokenHash))
	}
	pipe.SRem(ctx, s.userKey(sess.UserID), sess.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func (s *RedisStore) DeleteTokenHash(ctx context.Context, hash string) error {
	const op = "session.store.DeleteTokenHash"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if err := s.rdb.Del(ctx, s.tokenKey(hash)).Err(); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func (s *RedisStore) UserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	const op = "session.store.UserSessionIDs"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, unavailable(op, err)
	}

	return ids, nil
}

func (s *RedisStore) RemoveFromUser(ctx context.Context, userID string, ids ...string) error {
	const op = "session.store.RemoveFromUser"

	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	if err := s.rdb.SRem(ctx, s.userKey(userID), members...).Err(); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func (s *RedisStore) DeleteUserIndex(ctx context.Context, userID string) error {
	const op = "session.store.DeleteUserIndex"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if err := s.rdb.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	const op = "session.store.Ping"

	ctx, cancel := s.ctx(ctx)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(op, err)
	}

	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func encode(s *models.Session) map[string]any {
	return map[string]any{
		fieldID:        s.ID,
		fieldUserID:    s.UserID,
		fieldTokenHash: s.TokenHash,
		fieldUserAgent: s.UserAgent,
		fieldIP:        s.IPAddress,
		fieldCreatedAt: strconv.FormatInt(s.CreatedAt.UnixMilli(), 10),
		fieldExpiresAt: strconv.FormatInt(s.ExpiresAt.UnixMilli(), 10),
	}
}

func decode(m map[string]string) (*models.Session, error) {
	cat, err := strconv.ParseInt(m[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}

	exp, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}

	if m[fieldID] == "" || m[fieldUserID] == "" {
		return nil, errors.New("decode: missing id or user id")
	}

	return &models.Session{
		ID:        m[fieldID],
		UserID:    m[fieldUserID],
		TokenHash: m[fieldTokenHash],
		UserAgent: m[fieldUserAgent],
		IPAddress: m[fieldIP],
		CreatedAt: time.UnixMilli(cat).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
	}, nil
}

// Проверка на соответствие интерфейсу Store.
var _ Store = (*RedisStore)(nil)
