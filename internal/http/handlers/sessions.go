package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
)

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	h.writeSessions(w, r, user.UserID)
}

func (h *Handlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.Auth.RevokeSession(r.Context(), user.UserID, id); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminListSessions — сессии произвольного пользователя (роль admin).
func (h *Handlers) AdminListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeSessions(w, r, chi.URLParam(r, "id"))
}

// AdminRevokeSessions завершает все сессии произвольного пользователя.
func (h *Handlers) AdminRevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.Auth.LogoutAll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.RevokedResponse{Revoked: n})
}

func (h *Handlers) writeSessions(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.Auth.Sessions(r.Context(), userID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if list == nil {
		list = []*models.Session{}
	}

	writeJSON(w, http.StatusOK, models.SessionsResponse{Sessions: list})
}
