package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Op, e.Status, e.Body)
}

// Client calls the platform's admin REST API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

var (
	_ Notifier = (*Client)(nil)
	_ Inviter  = (*Client)(nil)
)

// NewClient creates a client for the admin API rooted at baseURL.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// NotifyAssigned attaches the unit and its PIN to the order as a metafield.
func (c *Client) NotifyAssigned(ctx context.Context, a Assignment) error {
	value, err := json.Marshal(map[string]string{
		"unit_id": a.UnitID,
		"pin":     a.PIN,
	})
	if err != nil {
		return fmt.Errorf("encoding assignment: %w", err)
	}

	body := map[string]metafield{
		"metafield": {
			Namespace: "evidenca",
			Key:       "unit_" + a.UnitID,
			Type:      "json",
			Value:     string(value),
		},
	}
	path := "/orders/" + url.PathEscape(a.OrderRef) + "/metafields.json"
	return c.post(ctx, "notify assigned", path, body)
}

type customer struct {
	Email           string `json:"email"`
	Tags            string `json:"tags"`
	SendEmailInvite bool   `json:"send_email_invite"`
}

// InviteOwner creates the owner as a customer and sends the account invite.
func (c *Client) InviteOwner(ctx context.Context, inv Invite) error {
	body := map[string]customer{
		"customer": {
			Email:           inv.Email,
			Tags:            "evidenca-owner,unit-" + inv.UnitID,
			SendEmailInvite: true,
		},
	}
	return c.post(ctx, "invite owner", "/customers.json", body)
}

func (c *Client) post(ctx context.Context, op, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.token)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
