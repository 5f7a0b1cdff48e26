// Package session управляет серверными сессиями, привязанными к
// refresh-токенам: создание, поиск по ID и по токену, ротация токена
// с проверкой актуальности, точечная и массовая инвалидация.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/config"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/metrics"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
)

var (
	// ErrStoreUnavailable — хранилище недоступно или не ответило вовремя.
	// Транспорт: HTTP 503.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrSessionNotFound — сессии с таким ID нет (удалена или истекла).
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleToken — предъявленный refresh-токен уже заменён ротацией.
	// Транспорт: HTTP 401.
	ErrStaleToken = errors.New("refresh token is stale")
	// ErrInvalidUpdate — некорректные аргументы создания или обновления.
	ErrInvalidUpdate = errors.New("invalid session data")
)

// CreateData — параметры новой сессии.
// Нулевые CreatedAt/ExpiresAt заменяются на now и now+TTL.
type CreateData struct {
	RefreshToken string
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Update — частичное обновление сессии. Пустые поля не меняются.
//
// ExpectRefreshToken включает оптимистичную проверку: обновление
// применяется, только если текущий токен сессии совпадает с ним.
type Update struct {
	RefreshToken       string
	ExpectRefreshToken string
	UserAgent          string
	IPAddress          string
	ExpiresAt          time.Time
}

// Service — операции над сессиями поверх Store.
type Service struct {
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics

	now func() time.Time
}

// NewService создаёт сервис сессий. m может быть nil.
func NewService(store Store, cfg config.SessionConfig, m *metrics.Metrics) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	return &Service{store: store, ttl: ttl, metrics: m, now: time.Now}
}

// TTL возвращает срок жизни сессии по умолчанию.
func (s *Service) TTL() time.Duration { return s.ttl }

// NewID генерирует ID вида "session:{userID}:{unixMillis}:{hex}".
func NewID(userID string, now time.Time) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}

	return fmt.Sprintf("session:%s:%d:%s", userID, now.UnixMilli(), hex.EncodeToString(b[:])), nil
}

// CreateSession создаёт сессию и все три индекса одной транзакцией.
func (s *Service) CreateSession(ctx context.Context, userID string, d CreateData) (*models.Session, error) {
	const op = "session.Service.CreateSession"

	if userID == "" || d.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w: user id and refresh token are required", op, ErrInvalidUpdate)
	}

	now := s.now().UTC()

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	expiresAt := d.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(s.ttl)
	}

	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil, fmt.Errorf("%s: %w: expires_at is in the past", op, ErrInvalidUpdate)
	}

	id, err := NewID(userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess := &models.Session{
		ID:           id,
		UserID:       userID,
		RefreshToken: d.RefreshToken,
		TokenHash:    HashToken(d.RefreshToken),
		UserAgent:    d.UserAgent,
		IPAddress:    d.IPAddress,
		CreatedAt:    createdAt.UTC(),
		ExpiresAt:    expiresAt.UTC(),
	}

	if err := s.store.Create(ctx, sess, ttl); err != nil {
		s.observe("create", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.observe("create", nil)
	log.From(ctx).Debug("session_created",
		slog.String("session_id", redact.SessionID(id)),
		slog.String("ip", redact.IP(d.IPAddress)),
	)

	return sess, nil
}

// GetSession возвращает сессию по ID или nil.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "session.Service.GetSession"

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.observe("get", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.observe("get", nil)
	return sess, nil
}

// GetSessionByToken разрешает refresh-токен в сессию через обратный индекс.
// Висячий указатель (сессия уже удалена или токен сменился) даёт nil.
func (s *Service) GetSessionByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	const op = "session.Service.GetSessionByToken"

	if refreshToken == "" {
		return nil, nil
	}

	hash := HashToken(refreshToken)

	id, err := s.store.IDByTokenHash(ctx, hash)
	if err != nil {
		s.observe("get_by_token", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if id == "" {
		s.observe("get_by_token", nil)
		return nil, nil
	}

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.observe("get_by_token", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if sess == nil || sess.TokenHash != hash {
		if err := s.store.DeleteTokenHash(ctx, hash); err != nil {
			log.From(ctx).Warn("dangling_pointer_cleanup_failed", slog.String("err", err.Error()))
		}

		s.observe("get_by_token", nil)
		return nil, nil
	}

	sess.RefreshToken = refreshToken
	s.observe("get_by_token", nil)

	return sess, nil
}

// UpdateSession применяет частичное обновление. При смене токена старый
// указатель удаляется и новый ставится в одной транзакции.
func (s *Service) UpdateSession(ctx context.Context, id string, u Update) (*models.Session, error) {
	const op = "session.Service.UpdateSession"

	now := s.now().UTC()
	var updated models.Session

	err := s.store.Update(ctx, id, func(cur *models.Session) (time.Duration, error) {
		if u.ExpectRefreshToken != "" && cur.TokenHash != HashToken(u.ExpectRefreshToken) {
			return 0, ErrStaleToken
		}

		if u.RefreshToken != "" {
			cur.RefreshToken = u.RefreshToken
			cur.TokenHash = HashToken(u.RefreshToken)
		}
		if u.UserAgent != "" {
			cur.UserAgent = u.UserAgent
		}
		if u.IPAddress != "" {
			cur.IPAddress = u.IPAddress
		}

		var ttl time.Duration
		if !u.ExpiresAt.IsZero() {
			ttl = u.ExpiresAt.Sub(now)
			if ttl <= 0 {
				return 0, fmt.Errorf("%w: expires_at is in the past", ErrInvalidUpdate)
			}
			cur.ExpiresAt = u.ExpiresAt.UTC()
		}

		updated = *cur
		return ttl, nil
	})
	if err != nil {
		s.observe("update", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.observe("update", nil)
	return &updated, nil
}

// InvalidateSession удаляет сессию, её указатель и членство в индексе
// пользователя. Отсутствующая сессия — не ошибка.
func (s *Service) InvalidateSession(ctx context.Context, id string) error {
	const op = "session.Service.InvalidateSession"

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.observe("invalidate", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if sess == nil {
		s.observe("invalidate", nil)
		return nil
	}

	if err := s.store.Delete(ctx, sess); err != nil {
		s.observe("invalidate", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	s.observe("invalidate", nil)
	return nil
}

// InvalidateUserSessions удаляет все сессии пользователя и сам индекс.
// Индекс удаляется даже если часть сессий уже отсутствовала.
func (s *Service) InvalidateUserSessions(ctx context.Context, userID string) (int, error) {
	const op = "session.Service.InvalidateUserSessions"

	ids, err := s.store.UserSessionIDs(ctx, userID)
	if err != nil {
		s.observe("invalidate_user", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var errs []error
	removed := 0

	for _, id := range ids {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sess == nil {
			continue
		}

		if err := s.store.Delete(ctx, sess); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if err := s.store.DeleteUserIndex(ctx, userID); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.observe("invalidate_user", err)
		return removed, fmt.Errorf("%s: %w", op, err)
	}

	s.observe("invalidate_user", nil)
	return removed, nil
}

// GetUserSessions возвращает живые сессии пользователя по возрастанию
// CreatedAt. Устаревшие ID вычищаются из индекса попутно.
func (s *Service) GetUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	const op = "session.Service.GetUserSessions"

	ids, err := s.store.UserSessionIDs(ctx, userID)
	if err != nil {
		s.observe("list", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	got, err := s.store.GetMany(ctx, ids)
	if err != nil {
		s.observe("list", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	live := make([]*models.Session, 0, len(got))
	var stale []string

	for i, sess := range got {
		if sess == nil || sess.UserID != userID {
			stale = append(stale, ids[i])
			continue
		}
		live = append(live, sess)
	}

	if len(stale) > 0 {
		if err := s.store.RemoveFromUser(ctx, userID, stale...); err != nil {
			log.From(ctx).Warn("stale_index_prune_failed", slog.String("err", err.Error()))
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })

	s.observe("list", nil)
	return live, nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		result = "unavailable"
	default:
		result = "error"
	}

	s.metrics.SessionOp(op, result)
}
