package api

import (
	"net/http"
	"time"

	"github.com/erazemk/evidenca/internal/registry"
)

// ReservationsHandler handles the storefront reservation endpoint.
type ReservationsHandler struct {
	Registry *registry.Registry
}

type reservationResponse struct {
	Token     string    `json:"reservation_token"`
	UnitID    string    `json:"unit_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create handles POST /api/reservations.
func (h *ReservationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	res, err := h.Registry.Allocate(r.Context())
	if err != nil {
		registryError(w, r, "allocate", err)
		return
	}
	jsonResponse(w, http.StatusCreated, reservationResponse{
		Token:     res.Token,
		UnitID:    res.UnitID,
		ExpiresAt: res.ExpiresAt,
	})
}
