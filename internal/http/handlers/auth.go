package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/go-news-aggregator/authguard/internal/errors"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/http/middleware"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/models"
	"github.com/pribylovaa/go-news-aggregator/authguard/internal/service"
)

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in models.AuthRegisterRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	res, err := h.Auth.Register(r.Context(), in.Email, in.Password, metaFrom(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, res)
	writeJSON(w, http.StatusCreated, authResponse(res))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in models.AuthLoginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	res, err := h.Auth.Login(r.Context(), in.Email, in.Password, metaFrom(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, res)
	writeJSON(w, http.StatusOK, authResponse(res))
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in models.AuthRefreshRequest
	if err := decodeStrict(w, r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	res, err := h.Auth.Refresh(r.Context(), in.RefreshToken, metaFrom(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.setAccessCookie(w, res)
	writeJSON(w, http.StatusOK, authResponse(res))
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	var in models.AuthLogoutRequest
	if err := decodeStrict(w, r, &in); err != nil || in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.Auth.Logout(r.Context(), user.UserID, in.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearAccessCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	n, err := h.Auth.LogoutAll(r.Context(), user.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearAccessCookie(w)
	writeJSON(w, http.StatusOK, models.RevokedResponse{Revoked: n})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	writeJSON(w, http.StatusOK, models.MeResponse{
		UserID: user.UserID,
		Email:  user.Email,
		Role:   user.Role,
	})
}

func (h *Handlers) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in models.PasswordResetRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.Auth.RequestPasswordReset(r.Context(), in.Email); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	// Ответ одинаков для известных и неизвестных адресов.
	writeJSON(w, http.StatusAccepted, models.OkResponse{Ok: true})
}

func (h *Handlers) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in models.PasswordResetConfirmRequest
	if err := decodeStrict(w, r, &in); err != nil || in.Token == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	if err := h.Auth.ResetPassword(r.Context(), in.Token, in.Password); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func authResponse(res *service.AuthResult) models.AuthResponse {
	return models.AuthResponse{
		UserID:           res.User.ID.String(),
		SessionID:        res.Session.ID,
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		AccessExpiresAt:  res.Tokens.AccessExpiresAt.Unix(),
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt.Unix(),
	}
}

func (h *Handlers) setAccessCookie(w http.ResponseWriter, res *service.AuthResult) {
	if h.Cookie.Name == "" {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    res.Tokens.AccessToken,
		Path:     "/",
		Expires:  res.Tokens.AccessExpiresAt,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handlers) clearAccessCookie(w http.ResponseWriter) {
	if h.Cookie.Name == "" {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.Cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
