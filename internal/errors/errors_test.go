package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-news-aggregator/authguard/internal/bruteforce"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/cache"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/service"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/session"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/token"
)

func wrap(err error) error { return fmt.Errorf("service.auth.Op: %w", err) }

func TestToHTTP_DomainMapping(t *testing.T) {
	tcs := []struct {
		name       string
		in         error
		wantStatus int
		wantCode   string
	}{
		{"bad_request", ErrBadRequest, http.StatusBadRequest, "invalid_argument"},
		{"invalid_email", wrap(service.ErrInvalidEmail), http.StatusBadRequest, "invalid_email"},
		{"weak_password", wrap(service.ErrWeakPassword), http.StatusBadRequest, "weak_password"},
		{"credentials", wrap(service.ErrInvalidCredentials), http.StatusUnauthorized, "invalid_credentials"},
		{"expired", wrap(token.ErrTokenExpired), http.StatusUnauthorized, "token_expired"},
		{"invalid_token", wrap(token.ErrInvalidToken), http.StatusUnauthorized, "invalid_token"},
		{"stale", wrap(session.ErrStaleToken), http.StatusUnauthorized, "invalid_token"},
		{"no_session", wrap(session.ErrSessionNotFound), http.StatusUnauthorized, "session_not_found"},
		{"reset_used", wrap(cache.ErrTokenUsed), http.StatusUnauthorized, "invalid_token"},
		{"forbidden", wrap(service.ErrForbidden), http.StatusForbidden, "permission_denied"},
		{"taken", wrap(service.ErrEmailTaken), http.StatusConflict, "already_exists"},
		{"blocked", wrap(&bruteforce.BlockedError{Until: time.Now().Add(time.Minute)}), http.StatusTooManyRequests, "too_many_attempts"},
		{"store", wrap(session.ErrStoreUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{"store_timeout", fmt.Errorf("op: %w: %w", session.ErrStoreUnavailable, context.DeadlineExceeded), http.StatusServiceUnavailable, "unavailable"},
		{"canceled", wrap(context.Canceled), StatusClientClosedRequest, "canceled"},
		{"deadline", wrap(context.DeadlineExceeded), http.StatusGatewayTimeout, "deadline_exceeded"},
		{"unknown", fmt.Errorf("db exploded"), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			gotStatus, resp := ToHTTP(tc.in)
			require.Equal(t, tc.wantStatus, gotStatus)
			require.Equal(t, tc.wantCode, resp.Error.Code)
			require.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestToHTTP_NilError_Returns500Internal(t *testing.T) {
	gotStatus, resp := ToHTTP(nil)
	require.Equal(t, http.StatusInternalServerError, gotStatus)
	require.Equal(t, "internal", resp.Error.Code)
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestToHTTP_DoesNotLeakDetails(t *testing.T) {
	_, resp := ToHTTP(fmt.Errorf("pgx: password authentication failed for user %q", "root"))
	require.Equal(t, "internal error", resp.Error.Message)
}

func TestWriteError_RequestIDAndRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Request-Id", "rid-1")

	WriteError(rr, req, wrap(&bruteforce.BlockedError{Until: time.Now().Add(90 * time.Second)}))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Contains(t, []string{"89", "90"}, rr.Header().Get("Retry-After"))

	var env ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "too_many_attempts", env.Error.Code)
	require.Equal(t, "rid-1", env.Error.RequestID)
}

func TestRetryAfterSeconds(t *testing.T) {
	require.Equal(t, "1", RetryAfterSeconds(0))
	require.Equal(t, "1", RetryAfterSeconds(-time.Second))
	require.Equal(t, "2", RetryAfterSeconds(1500*time.Millisecond))
	require.Equal(t, "60", RetryAfterSeconds(time.Minute))
}
