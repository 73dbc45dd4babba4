package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/evidenca/internal/registry"
)

// errorMapping pairs a registry error with its HTTP status and client code.
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{registry.ErrNoInventory, http.StatusConflict, "no_inventory"},
	{registry.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{registry.ErrMissingDeliveryID, http.StatusBadRequest, "missing_delivery_id"},
	{registry.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
	{registry.ErrUnsupportedTopic, http.StatusBadRequest, "unsupported_topic"},
	{registry.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{registry.ErrInvalidTiers, http.StatusBadRequest, "invalid_tiers"},
	{registry.ErrInvalidUnitID, http.StatusBadRequest, "invalid_unit_id"},
	{registry.ErrUnitNotFound, http.StatusNotFound, "unit_not_found"},
	{registry.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
	{registry.ErrReservationNotActive, http.StatusConflict, "reservation_not_active"},
	{registry.ErrReservationExpired, http.StatusConflict, "reservation_expired"},
	{registry.ErrUnitAlreadyActivated, http.StatusConflict, "already_activated"},
	{registry.ErrUnitNotAssigned, http.StatusConflict, "not_assigned"},
	{registry.ErrPINNotSet, http.StatusConflict, "pin_not_set"},
	{registry.ErrAlreadyCommitted, http.StatusConflict, "already_committed"},
	{registry.ErrNotCommitted, http.StatusConflict, "not_committed"},
	{registry.ErrSeedMismatch, http.StatusBadRequest, "seed_mismatch"},
	{registry.ErrInvalidPIN, http.StatusForbidden, "invalid_pin"},
	{registry.ErrInvalidProofToken, http.StatusForbidden, "invalid_token"},
}

// registryError writes the response for an error returned by the registry.
// Unknown errors are logged and reported as 500 without detail.
func registryError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var locked *registry.LockedError
	if errors.As(err, &locked) {
		retry := int(time.Until(locked.Until).Seconds()) + 1
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		jsonResponse(w, http.StatusTooManyRequests, map[string]string{
			"error":        err.Error(),
			"code":         "locked",
			"locked_until": locked.Until.UTC().Format(time.RFC3339),
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			jsonError(w, m.status, m.code, err.Error())
			return
		}
	}

	slog.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	jsonError(w, http.StatusInternalServerError, "internal", "internal error")
}
