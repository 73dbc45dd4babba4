package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/erazemk/evidenca/internal/registry"
)

// Webhook headers set by the commerce platform.
const (
	HeaderWebhookSignature = "X-Shopify-Hmac-Sha256"
	HeaderWebhookID        = "X-Shopify-Webhook-Id"
	HeaderWebhookTopic     = "X-Shopify-Topic"
)

// WebhooksHandler receives signed order deliveries.
type WebhooksHandler struct {
	Registry *registry.Registry
}

// Orders handles POST /api/webhooks/orders. The body is read raw because
// the signature covers the exact bytes sent.
func (h *WebhooksHandler) Orders(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "payload too large")
			return
		}
		jsonError(w, http.StatusBadRequest, "invalid_payload", "failed to read body")
		return
	}

	result, err := h.Registry.ApplyOrder(r.Context(), registry.Delivery{
		ID:        r.Header.Get(HeaderWebhookID),
		Topic:     r.Header.Get(HeaderWebhookTopic),
		Signature: r.Header.Get(HeaderWebhookSignature),
		Payload:   payload,
	})
	if err != nil {
		registryError(w, r, "apply_order", err)
		return
	}
	if result.Claims == nil {
		result.Claims = []registry.ClaimResult{}
	}
	jsonResponse(w, http.StatusOK, result)
}
