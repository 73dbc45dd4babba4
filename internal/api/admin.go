package api

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/evidenca/internal/commitment"
	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/registry"
)

// AdminHandler handles operator endpoints. Every route is behind AuthMiddleware.
type AdminHandler struct {
	Registry  *registry.Registry
	ReapBatch int
}

type seedUnitsRequest struct {
	IDs []string `json:"ids"`
}

type commitRequest struct {
	Seed  string            `json:"seed"`
	Tiers []commitment.Tier `json:"tiers"`
}

type revealRequest struct {
	Seed string `json:"seed"`
}

type unitDetailResponse struct {
	Unit   *model.Unit   `json:"unit"`
	Events []model.Event `json:"events"`
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Registry.Stats(r.Context())
	if err != nil {
		registryError(w, r, "stats", err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Unit handles GET /api/admin/units/{id}.
func (h *AdminHandler) Unit(w http.ResponseWriter, r *http.Request) {
	u, events, err := h.Registry.UnitDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		registryError(w, r, "unit_detail", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	jsonResponse(w, http.StatusOK, unitDetailResponse{Unit: u, Events: events})
}

// SeedUnits handles POST /api/admin/units.
func (h *AdminHandler) SeedUnits(w http.ResponseWriter, r *http.Request) {
	var req seedUnitsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		jsonError(w, http.StatusBadRequest, "invalid_request", "ids required")
		return
	}

	n, err := h.Registry.SeedUnits(r.Context(), req.IDs)
	if err != nil {
		registryError(w, r, "seed_units", err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]int{"requested": len(req.IDs), "inserted": n})
}

// IssueProofToken handles POST /api/admin/units/{id}/proof-token.
func (h *AdminHandler) IssueProofToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token, err := h.Registry.IssueProofToken(r.Context(), id)
	if err != nil {
		registryError(w, r, "issue_proof_token", err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"unit_id": id, "proof_token": token})
}

// RunReaper handles POST /api/admin/reaper/run.
func (h *AdminHandler) RunReaper(w http.ResponseWriter, r *http.Request) {
	batch := h.ReapBatch
	if batch <= 0 {
		batch = registry.DefaultReaperBatch
	}
	stats, err := h.Registry.Reap(r.Context(), batch)
	if err != nil {
		registryError(w, r, "reap", err)
		return
	}
	jsonResponse(w, http.StatusOK, stats)
}

// Commit handles POST /api/admin/commitment.
func (h *AdminHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Seed == "" {
		jsonError(w, http.StatusBadRequest, "invalid_request", "seed required")
		return
	}

	info, err := h.Registry.Commit(r.Context(), req.Seed, req.Tiers)
	if err != nil {
		registryError(w, r, "commit", err)
		return
	}
	slog.Info("commitment published via api", "root", info.Root)
	jsonResponse(w, http.StatusCreated, info)
}

// Reveal handles POST /api/admin/commitment/reveal.
func (h *AdminHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	var req revealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := h.Registry.RevealSeed(r.Context(), req.Seed); err != nil {
		registryError(w, r, "reveal_seed", err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "seed revealed"})
}
