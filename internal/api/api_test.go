package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/commerce"
	"github.com/erazemk/evidenca/internal/db"
	"github.com/erazemk/evidenca/internal/registry"
	"github.com/erazemk/evidenca/internal/store"
	"github.com/erazemk/evidenca/internal/store/sqlite"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "webhook-secret"
	testPassword      = "password"
)

type testServer struct {
	*httptest.Server
	store store.Store
}

func newTestServer(t *testing.T, activationRate int, units ...string) *testServer {
	t.Helper()
	st := sqlite.New(db.NewTestDB(t))
	ctx := context.Background()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := st.PutSetting(ctx, store.SettingAdminPasswordHash, hash); err != nil {
		t.Fatalf("store password hash: %v", err)
	}

	reg := registry.New(st,
		registry.WithNotifier(commerce.Nop{}),
		registry.WithInviter(commerce.Nop{}),
		registry.WithWebhookSecret(testWebhookSecret),
		registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if len(units) > 0 {
		if _, err := reg.SeedUnits(ctx, units); err != nil {
			t.Fatalf("seed units: %v", err)
		}
	}

	router := NewRouter(Deps{
		Registry:       reg,
		Store:          st,
		JWTSecret:      testJWTSecret,
		ActivationRate: activationRate,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, store: st}
}

func setupTestServer(t *testing.T, units ...string) (*testServer, string) {
	t.Helper()
	server := newTestServer(t, 0, units...)
	return server, server.login(t)
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp loginResponse
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (s *testServer) deliver(t *testing.T, id string, payload []byte, signature string) *http.Response {
	t.Helper()
	return s.deliverTopic(t, registry.TopicOrdersPaid, id, payload, signature)
}

func (s *testServer) deliverTopic(t *testing.T, topic, id string, payload []byte, signature string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, s.URL+"/api/webhooks/orders", bytes.NewReader(payload))
	req.Header.Set(HeaderWebhookID, id)
	req.Header.Set(HeaderWebhookTopic, topic)
	req.Header.Set(HeaderWebhookSignature, signature)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("deliver webhook: %v", err)
	}
	return resp
}

// reserveAndPay reserves a unit and confirms it with a signed order.
func (s *testServer) reserveAndPay(t *testing.T) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/reservations", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve: expected 201, got %d", resp.StatusCode)
	}
	var res reservationResponse
	json.NewDecoder(resp.Body).Decode(&res)

	payload := orderPayload(res.Token)
	pay := s.deliver(t, "delivery-"+res.Token, payload, auth.SignWebhook(testWebhookSecret, payload))
	defer pay.Body.Close()
	if pay.StatusCode != http.StatusOK {
		t.Fatalf("webhook: expected 200, got %d", pay.StatusCode)
	}
	return res.UnitID
}

func (s *testServer) pin(t *testing.T, unitID string) string {
	t.Helper()
	u, err := s.store.GetUnit(context.Background(), unitID)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	return u.PIN
}

func orderPayload(tokens ...string) []byte {
	items := make([]map[string]any, 0, len(tokens))
	for _, tok := range tokens {
		items = append(items, map[string]any{
			"title":      "Print",
			"properties": []map[string]any{{"name": "_reservation_token", "value": tok}},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"id":         5001,
		"name":       "#5001",
		"email":      "buyer@example.com",
		"line_items": items,
	})
	return b
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func wrongPIN(pin string) string {
	if pin == "000000" {
		return "111111"
	}
	return "000000"
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, 0)
	resp := server.do(t, http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginEndpoint(t *testing.T) {
	server := newTestServer(t, 0)

	resp := server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing password, got %d", resp.StatusCode)
	}

	token := server.login(t)
	if _, err := auth.ValidateToken(testJWTSecret, token); err != nil {
		t.Errorf("login returned invalid token: %v", err)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	server := newTestServer(t, 0)

	resp := server.do(t, http.MethodGet, "/api/admin/stats", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodGet, "/api/admin/stats", "not-a-jwt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for garbage token, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server, token := setupTestServer(t)

	resp := server.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodGet, "/api/admin/stats", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestReservationExhaustion(t *testing.T) {
	server := newTestServer(t, 0, "EV-0001")

	resp := server.do(t, http.MethodPost, "/api/reservations", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var res reservationResponse
	json.NewDecoder(resp.Body).Decode(&res)
	if res.UnitID != "EV-0001" || res.Token == "" || res.ExpiresAt.IsZero() {
		t.Errorf("unexpected reservation: %+v", res)
	}

	resp2 := server.do(t, http.MethodPost, "/api/reservations", "", nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp2.StatusCode)
	}
	if body := decodeError(t, resp2); body.Code != "no_inventory" {
		t.Errorf("expected no_inventory, got %q", body.Code)
	}
}

func TestWebhookOrders(t *testing.T) {
	server := newTestServer(t, 0, "EV-0001")

	resp := server.do(t, http.MethodPost, "/api/reservations", "", nil)
	var res reservationResponse
	json.NewDecoder(resp.Body).Decode(&res)
	resp.Body.Close()

	payload := orderPayload(res.Token)
	signature := auth.SignWebhook(testWebhookSecret, payload)

	bad := server.deliver(t, "d-1", payload, auth.SignWebhook("other-secret", payload))
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", bad.StatusCode)
	}
	if body := decodeError(t, bad); body.Code != "invalid_signature" {
		t.Errorf("expected invalid_signature, got %q", body.Code)
	}

	missing := server.deliver(t, "", payload, signature)
	missing.Body.Close()
	if missing.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing delivery id, got %d", missing.StatusCode)
	}

	cancelled := server.deliverTopic(t, "orders/cancelled", "d-1", payload, signature)
	defer cancelled.Body.Close()
	if cancelled.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported topic, got %d", cancelled.StatusCode)
	}
	if body := decodeError(t, cancelled); body.Code != "unsupported_topic" {
		t.Errorf("expected unsupported_topic, got %q", body.Code)
	}

	ok := server.deliver(t, "d-1", payload, signature)
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.StatusCode)
	}
	var result registry.ApplyResult
	json.NewDecoder(ok.Body).Decode(&result)
	if result.Duplicate || len(result.Claims) != 1 || result.Claims[0].Outcome != registry.ClaimConfirmed {
		t.Fatalf("unexpected result: %+v", result)
	}

	replay := server.deliver(t, "d-1", payload, signature)
	defer replay.Body.Close()
	var again registry.ApplyResult
	json.NewDecoder(replay.Body).Decode(&again)
	if replay.StatusCode != http.StatusOK || !again.Duplicate || len(again.Claims) != 0 {
		t.Errorf("expected duplicate 200 with no claims, got %d %+v", replay.StatusCode, again)
	}
}

func TestActivateEndpoint(t *testing.T) {
	server := newTestServer(t, 0, "EV-0001")
	unitID := server.reserveAndPay(t)
	pin := server.pin(t, unitID)
	path := "/api/units/" + unitID + "/activate"

	resp := server.do(t, http.MethodPost, path, "", map[string]string{"pin": "12", "email": "owner@example.com"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed pin, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, path, "", map[string]string{"pin": pin, "email": "not an email"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad email, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, path, "", map[string]string{"pin": wrongPIN(pin), "email": "owner@example.com"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for wrong pin, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "invalid_pin" {
		t.Errorf("expected invalid_pin, got %q", body.Code)
	}
	resp.Body.Close()

	resp = server.do(t, http.MethodPost, path, "", map[string]string{"pin": pin, "email": "owner@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result registry.ActivationResult
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()
	if result.OwnerEmail != "owner@example.com" || result.BuyerEmail != "buyer@example.com" || result.ProofToken == "" {
		t.Errorf("unexpected activation: %+v", result)
	}

	resp = server.do(t, http.MethodPost, path, "", map[string]string{"pin": pin, "email": "owner@example.com"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second activation, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "already_activated" {
		t.Errorf("expected already_activated, got %q", body.Code)
	}

	missing := server.do(t, http.MethodPost, "/api/units/EV-9999/activate", "", map[string]string{"pin": pin, "email": "owner@example.com"})
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown unit, got %d", missing.StatusCode)
	}
}

func TestActivateLockout(t *testing.T) {
	server := newTestServer(t, 0, "EV-0001")
	unitID := server.reserveAndPay(t)
	pin := server.pin(t, unitID)
	path := "/api/units/" + unitID + "/activate"
	wrong := map[string]string{"pin": wrongPIN(pin), "email": "owner@example.com"}

	for i := 0; i < registry.DefaultLockoutThreshold; i++ {
		resp := server.do(t, http.MethodPost, path, "", wrong)
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %d", i+1, resp.StatusCode)
		}
	}

	resp := server.do(t, http.MethodPost, path, "", map[string]string{"pin": pin, "email": "owner@example.com"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 while locked, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != "locked" || body["locked_until"] == "" {
		t.Errorf("unexpected locked body: %v", body)
	}
}

func TestActivationThrottle(t *testing.T) {
	server := newTestServer(t, 2)
	req := map[string]string{"pin": "123456", "email": "owner@example.com"}

	for i := 0; i < 2; i++ {
		resp := server.do(t, http.MethodPost, "/api/units/EV-0001/activate", "", req)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("attempt %d: expected 404, got %d", i+1, resp.StatusCode)
		}
	}

	resp := server.do(t, http.MethodPost, "/api/units/EV-0001/activate", "", req)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Code != "too_many_requests" {
		t.Errorf("expected too_many_requests, got %q", body.Code)
	}
}

func TestCommitmentAndProof(t *testing.T) {
	units := make([]string, 4)
	for i := range units {
		units[i] = fmt.Sprintf("EV-%04d", i+1)
	}
	server, token := setupTestServer(t, units...)

	resp := server.do(t, http.MethodGet, "/api/commitment", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before commit, got %d", resp.StatusCode)
	}

	commit := map[string]any{
		"seed":  "launch-seed",
		"tiers": []map[string]any{{"name": "rare", "count": 1}, {"name": "common", "count": 3}},
	}
	resp = server.do(t, http.MethodPost, "/api/admin/commitment", token, commit)
	var info registry.CommitmentInfo
	json.NewDecoder(resp.Body).Decode(&info)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || info.Root == "" || info.Count != 4 {
		t.Fatalf("unexpected commit response %d %+v", resp.StatusCode, info)
	}

	resp = server.do(t, http.MethodPost, "/api/admin/commitment", token, commit)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on second commit, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, "/api/admin/units/EV-0002/proof-token", token, nil)
	var issued map[string]string
	json.NewDecoder(resp.Body).Decode(&issued)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || issued["proof_token"] == "" {
		t.Fatalf("unexpected proof-token response %d %v", resp.StatusCode, issued)
	}

	resp = server.do(t, http.MethodGet, "/api/units/EV-0002/proof?token=wrong", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for wrong token, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodGet, "/api/units/EV-0002/proof?token="+issued["proof_token"], "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var proof registry.ProofResult
	json.NewDecoder(resp.Body).Decode(&proof)
	if !proof.Valid || proof.Root != info.Root || proof.Identifier != "EV-0002" {
		t.Errorf("unexpected proof: %+v", proof)
	}

	reveal := server.do(t, http.MethodPost, "/api/admin/commitment/reveal", token, map[string]string{"seed": "wrong"})
	reveal.Body.Close()
	if reveal.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for mismatched seed, got %d", reveal.StatusCode)
	}
	reveal = server.do(t, http.MethodPost, "/api/admin/commitment/reveal", token, map[string]string{"seed": "launch-seed"})
	reveal.Body.Close()
	if reveal.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for reveal, got %d", reveal.StatusCode)
	}
}

func TestAdminUnitDetailAndSeed(t *testing.T) {
	server, token := setupTestServer(t)

	resp := server.do(t, http.MethodPost, "/api/admin/units", token, map[string]any{"ids": []string{"EV-0001", "EV-0002", "EV-0001"}})
	var seeded map[string]int
	json.NewDecoder(resp.Body).Decode(&seeded)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || seeded["inserted"] != 2 {
		t.Fatalf("unexpected seed response %d %v", resp.StatusCode, seeded)
	}

	resp = server.do(t, http.MethodGet, "/api/admin/units/EV-0001", token, nil)
	var detail unitDetailResponse
	json.NewDecoder(resp.Body).Decode(&detail)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || detail.Unit == nil || len(detail.Events) != 1 {
		t.Fatalf("unexpected unit detail %d %+v", resp.StatusCode, detail)
	}

	resp = server.do(t, http.MethodGet, "/api/admin/units/EV-9999", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp = server.do(t, http.MethodPost, "/api/admin/reaper/run", token, nil)
	var stats registry.ReapStats
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || stats.Expired != 0 {
		t.Errorf("unexpected reap response %d %+v", resp.StatusCode, stats)
	}
}

func TestThrottleWindow(t *testing.T) {
	throttle := NewThrottle(1, time.Minute)
	if ok, _ := throttle.Allow("a"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _ := throttle.Allow("a"); ok {
		t.Error("second request should be throttled")
	}
	if ok, _ := throttle.Allow("b"); !ok {
		t.Error("other clients are counted separately")
	}
	if ok, _ := NewThrottle(0, time.Minute).Allow("a"); !ok {
		t.Error("zero limit disables throttling")
	}
}
