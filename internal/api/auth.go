package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/store"
)

// AuthHandler handles operator authentication endpoints.
type AuthHandler struct {
	Store     store.Store
	JWTSecret string
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	if req.Password == "" {
		jsonError(w, http.StatusBadRequest, "invalid_request", "password required")
		return
	}

	hash, ok, err := h.Store.GetSetting(r.Context(), store.SettingAdminPasswordHash)
	if err != nil {
		slog.Error("failed to load admin password hash", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if !ok || !auth.CheckPassword(hash, req.Password) {
		slog.Warn("login failed", "remote", clientAddr(r))
		jsonError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, auth.RoleAdmin)
	if err != nil {
		slog.Error("failed to generate token", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "failed to generate token")
		return
	}

	slog.Info("admin logged in", "remote", clientAddr(r))
	jsonResponse(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: time.Now().Add(auth.TokenExpiry)})
}

// Logout handles POST /api/auth/logout. The token stays revoked until it
// would have expired anyway.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	expiresAt := time.Now().Add(auth.TokenExpiry)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if err := h.Store.RevokeToken(r.Context(), claims.ID, expiresAt); err != nil {
		slog.Error("failed to revoke token", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal", "failed to revoke token")
		return
	}

	slog.Info("admin logged out")
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}
