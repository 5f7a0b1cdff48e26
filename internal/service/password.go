package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/cache"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/log"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/pkg/redact"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/storage"
)

// RequestPasswordReset выпускает токен сброса и передаёт его ResetSender.
// Для неизвестного e-mail ничего не происходит и ошибка не возвращается,
// чтобы ответ не раскрывал наличие аккаунта.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "service.password.RequestPasswordReset"

	normEmail, err := validateEmail(email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidEmail)
	}

	user, err := s.storage.UserByEmail(ctx, normEmail)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.From(ctx).Debug("password_reset_unknown_email", slog.String("email", redact.Email(normEmail)))
			return nil
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	resetToken, expiresAt, err := s.tokens.GeneratePasswordResetToken(user.ID.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.TokenIssued(models.KindPasswordReset)

	if err := s.sender.SendPasswordReset(ctx, user.Email, resetToken, expiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ResetPassword устанавливает новый пароль по токену сброса.
//
// Токен погашается в реестре до смены пароля и не может быть
// использован повторно. После смены все сессии пользователя завершаются.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "service.password.ResetPassword"

	payload, err := s.tokens.VerifyPasswordResetToken(resetToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.userByID(ctx, payload.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	ttl := payload.ExpiresAt.Sub(now) + s.tokens.Leeway()
	if err := s.resets.MarkUsed(ctx, payload.ID, ttl); err != nil {
		if errors.Is(err, cache.ErrTokenUsed) {
			return fmt.Errorf("%s: %w", op, err)
		}

		return fmt.Errorf("%s: %w: %w", op, session.ErrStoreUnavailable, err)
	}

	// Токен погашается до смены пароля, чтобы два параллельных сброса
	// не прошли оба; при сбое смены отметка снимается.
	hash, err := s.hashPassword(newPassword)
	if err == nil {
		err = s.storage.UpdatePassword(ctx, user.ID, hash, now)
	}
	if err != nil {
		if rerr := s.resets.Release(ctx, payload.ID); rerr != nil {
			log.From(ctx).Error("reset_token_release_failed",
				slog.String("user_id", user.ID.String()),
				slog.String("err", rerr.Error()),
			)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.sessions.InvalidateUserSessions(ctx, user.ID.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("password_reset_completed",
		slog.String("user_id", user.ID.String()),
		slog.Int("sessions_invalidated", n),
	)

	return nil
}
