package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

// Logout завершает сессию, которой принадлежит refresh-токен.
// Неизвестный или уже отозванный токен не ошибка.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	const op = "service.sessions.Logout"

	if refreshToken == "" {
		return fmt.Errorf("%s: %w", op, token.ErrInvalidToken)
	}

	sess, err := s.sessions.GetSessionByToken(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		return nil
	}

	if sess.UserID != userID {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := s.sessions.InvalidateSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogoutAll завершает все сессии пользователя и возвращает их число.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	const op = "service.sessions.LogoutAll"

	n, err := s.sessions.InvalidateUserSessions(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_sessions_invalidated",
		slog.String("user_id", userID),
		slog.Int("count", n),
	)

	return n, nil
}

// Sessions возвращает живые сессии пользователя.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*models.Session, error) {
	const op = "service.sessions.Sessions"

	list, err := s.sessions.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return list, nil
}

// RevokeSession завершает одну сессию пользователя по её ID.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	const op = "service.sessions.RevokeSession"

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sess == nil {
		return fmt.Errorf("%s: %w", op, session.ErrSessionNotFound)
	}

	if sess.UserID != userID {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := s.sessions.InvalidateSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
