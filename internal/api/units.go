package api

import (
	"net/http"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/registry"
)

// UnitsHandler handles owner-facing unit endpoints.
type UnitsHandler struct {
	Registry *registry.Registry
}

type activateRequest struct {
	PIN   string `json:"pin"`
	Email string `json:"email"`
}

// Activate handles POST /api/units/{id}/activate.
func (h *UnitsHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if !auth.ValidPINFormat(req.PIN) {
		jsonError(w, http.StatusBadRequest, "invalid_pin_format", "pin must be 6 digits")
		return
	}
	if req.Email == "" {
		jsonError(w, http.StatusBadRequest, "invalid_email", "email required")
		return
	}

	result, err := h.Registry.Activate(r.Context(), r.PathValue("id"), req.PIN, req.Email)
	if err != nil {
		registryError(w, r, "activate", err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// Proof handles GET /api/units/{id}/proof?token=.
func (h *UnitsHandler) Proof(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		jsonError(w, http.StatusForbidden, "invalid_token", "proof token required")
		return
	}

	result, err := h.Registry.Proof(r.Context(), r.PathValue("id"), token)
	if err != nil {
		registryError(w, r, "proof", err)
		return
	}
	jsonResponse(w, http.StatusOK, result)
}

// Commitment handles GET /api/commitment.
func (h *UnitsHandler) Commitment(w http.ResponseWriter, r *http.Request) {
	info, err := h.Registry.Commitment(r.Context())
	if err != nil {
		registryError(w, r, "commitment", err)
		return
	}
	jsonResponse(w, http.StatusOK, info)
}
