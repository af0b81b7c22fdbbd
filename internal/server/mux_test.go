// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warrantypro/warranty-core-go/internal/ai"
	"github.com/warrantypro/warranty-core-go/internal/claims"
	"github.com/warrantypro/warranty-core-go/internal/config"
	"github.com/warrantypro/warranty-core-go/internal/delivery"
	"github.com/warrantypro/warranty-core-go/internal/expiry"
	"github.com/warrantypro/warranty-core-go/internal/jwks"
	"github.com/warrantypro/warranty-core-go/internal/model"
	"github.com/warrantypro/warranty-core-go/internal/storage"
)

// stubProvider implements ai.Provider with canned answers.
type stubProvider struct{}

func (stubProvider) DiagnosticReply(ctx context.Context, w model.Warranty, history []model.ChatMessage) (string, error) {
	return "Try resetting the appliance.", nil
}

func (stubProvider) AssessSeverity(ctx context.Context, issue string, history []model.ChatMessage) (model.SeverityVerdict, error) {
	return model.SeverityVerdict{Severity: model.SeverityHigh, RecommendClaim: true, Reasoning: "hardware fault"}, nil
}

func (stubProvider) ComposeClaimEmail(ctx context.Context, ec ai.EmailContext) (model.EmailArtifact, error) {
	return model.EmailArtifact{Subject: "Warranty Claim", Body: "Please repair my product.", Severity: model.SeverityHigh}, nil
}

func (stubProvider) SuggestTroubleshooting(ctx context.Context, category, issue string) ([]string, error) {
	return []string{"Power cycle the device"}, nil
}

// stubChannel implements delivery.Channel and records sent messages.
type stubChannel struct {
	sent []delivery.Message
}

func (s *stubChannel) Send(ctx context.Context, msg delivery.Message) (delivery.Result, error) {
	s.sent = append(s.sent, msg)
	return delivery.Result{MessageID: "msg-1", SentAt: time.Now().UTC()}, nil
}

const testCronSecret = "cron-secret"

func newTestMux(t *testing.T) (*http.ServeMux, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	engine := expiry.New(store)
	ctrl := claims.New(store, stubProvider{}, &stubChannel{})
	cfg := config.Config{
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
		CronSecret:  testCronSecret,
	}
	return NewMux(store, engine, ctrl, cfg, jwks.NewTestClient()), store
}

// authToken builds a bearer token the test-mode JWKS client accepts.
func authToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iss": "test-issuer",
		"aud": "test-audience",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func seedWarranty(t *testing.T, store storage.Store, id, owner string, purchase time.Time, months int) {
	t.Helper()
	w := model.Warranty{
		ID:             id,
		OwnerID:        owner,
		ProductName:    "Dishwasher",
		Brand:          "Bosch",
		PurchaseDate:   purchase,
		DurationMonths: months,
	}
	if err := store.PutWarranty(context.Background(), w); err != nil {
		t.Fatalf("seed warranty: %v", err)
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rr.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v (body: %s)", err, rr.Body.String())
	}
}

func TestHealthzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "GET", "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %v, want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "GET", "/readyz", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %v, want %v", rr.Code, http.StatusOK)
	}
}

func TestMissingAuthRejected(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "GET", "/v1/notifications", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %v, want %v", rr.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rr.Body.String(), "WTY_AUTHN") {
		t.Errorf("body = %s, want WTY_AUTHN error", rr.Body.String())
	}
}

func TestRunCheckRequiresCronSecret(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "POST", "/v1/notifications/runCheck", "Bearer wrong", "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %v, want %v", rr.Code, http.StatusUnauthorized)
	}

	rr = doRequest(t, mux, "POST", "/v1/notifications/runCheck", "Bearer "+testCronSecret, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v (body: %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp model.RunCheckResponse
	decodeData(t, rr, &resp)
	if resp.Emitted != 0 {
		t.Errorf("emitted = %d, want 0 for empty store", resp.Emitted)
	}
}

func TestNotificationFlow(t *testing.T) {
	mux, store := newTestMux(t)
	token := authToken(t, "alice")

	// Warranty expiring in exactly 7 days from today.
	purchase := time.Now().UTC().AddDate(0, -12, 7).Truncate(24 * time.Hour)
	seedWarranty(t, store, "w-1", "alice", purchase, 12)

	rr := doRequest(t, mux, "POST", "/v1/notifications/sync", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var runResp model.RunCheckResponse
	decodeData(t, rr, &runResp)
	if runResp.Emitted != 1 {
		t.Fatalf("emitted = %d, want 1", runResp.Emitted)
	}

	rr = doRequest(t, mux, "GET", "/v1/notifications", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var listResp model.ListNotificationsResponse
	decodeData(t, rr, &listResp)
	if len(listResp.Notifications) != 1 || listResp.UnreadCount != 1 {
		t.Fatalf("list = %d notifications, %d unread; want 1/1", len(listResp.Notifications), listResp.UnreadCount)
	}
	notification := listResp.Notifications[0]
	if notification.Kind != model.AlertSevenDay {
		t.Errorf("kind = %q, want seven_day", notification.Kind)
	}

	rr = doRequest(t, mux, "POST", "/v1/notifications/"+notification.ID+"/read", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("mark read status = %v (body: %s)", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, mux, "GET", "/v1/notifications/unreadCount", token, "")
	var countResp model.UnreadCountResponse
	decodeData(t, rr, &countResp)
	if countResp.Count != 0 {
		t.Errorf("unread after read = %d, want 0", countResp.Count)
	}
}

func TestNotificationsScopedToCaller(t *testing.T) {
	mux, store := newTestMux(t)

	purchase := time.Now().UTC().AddDate(0, -12, 7).Truncate(24 * time.Hour)
	seedWarranty(t, store, "w-1", "alice", purchase, 12)
	seedWarranty(t, store, "w-2", "bob", purchase, 12)

	rr := doRequest(t, mux, "POST", "/v1/notifications/sync", authToken(t, "alice"), "")
	var runResp model.RunCheckResponse
	decodeData(t, rr, &runResp)
	if runResp.Emitted != 1 {
		t.Fatalf("alice sync emitted = %d, want 1", runResp.Emitted)
	}

	rr = doRequest(t, mux, "GET", "/v1/notifications", authToken(t, "bob"), "")
	var listResp model.ListNotificationsResponse
	decodeData(t, rr, &listResp)
	if len(listResp.Notifications) != 0 {
		t.Errorf("bob sees %d notifications, want 0", len(listResp.Notifications))
	}
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	mux, store := newTestMux(t)
	token := authToken(t, "alice")
	seedWarranty(t, store, "w-1", "alice", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 24)

	// Start
	rr := doRequest(t, mux, "POST", "/v1/claims/start", token,
		`{"warrantyId":"w-1","issueDescription":"no longer heats water"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var claim model.Claim
	decodeData(t, rr, &claim)
	if claim.Status != model.ClaimPending || claim.ClaimNumber == "" {
		t.Fatalf("claim = %+v, want pending with number", claim)
	}

	// Diagnose
	rr = doRequest(t, mux, "POST", "/v1/claims/diagnose", token,
		`{"warrantyId":"w-1","message":"It trips the breaker."}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("diagnose status = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var turn model.DiagnosticTurnResponse
	decodeData(t, rr, &turn)
	if turn.Reply == "" || len(turn.Conversation) != 2 {
		t.Fatalf("turn = %+v, want reply and 2-message transcript", turn)
	}

	// Generate email
	rr = doRequest(t, mux, "POST", "/v1/claims/generateEmail", token,
		`{"warrantyId":"w-1","issueDescription":"no longer heats water","contactName":"Alice","contactEmail":"alice@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("generateEmail status = %v (body: %s)", rr.Code, rr.Body.String())
	}

	// Submit
	rr = doRequest(t, mux, "POST", "/v1/claims/"+claim.ID+"/submit", token,
		`{"manufacturerEmail":"support@bosch.example","subject":"Warranty Claim","body":"Please repair.","contactEmail":"alice@example.com"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var submitResp model.SubmitClaimResponse
	decodeData(t, rr, &submitResp)
	if !submitResp.Delivery.Sent {
		t.Errorf("delivery = %+v, want sent", submitResp.Delivery)
	}

	// Status update
	rr = doRequest(t, mux, "POST", "/v1/claims/"+claim.ID+"/status", token,
		`{"status":"in_progress"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status update = %v (body: %s)", rr.Code, rr.Body.String())
	}
	var updated model.Claim
	decodeData(t, rr, &updated)
	if updated.Status != model.ClaimInProgress {
		t.Errorf("status = %q, want in_progress", updated.Status)
	}

	// Get
	rr = doRequest(t, mux, "GET", "/v1/claims/"+claim.ID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %v", rr.Code)
	}

	// List
	rr = doRequest(t, mux, "GET", "/v1/claims?status=in_progress", token, "")
	var list []model.Claim
	decodeData(t, rr, &list)
	if len(list) != 1 {
		t.Fatalf("list = %d claims, want 1", len(list))
	}

	// Delete
	rr = doRequest(t, mux, "DELETE", "/v1/claims/"+claim.ID, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %v (body: %s)", rr.Code, rr.Body.String())
	}
}

func TestClaimValidationErrors(t *testing.T) {
	mux, store := newTestMux(t)
	token := authToken(t, "alice")
	seedWarranty(t, store, "w-1", "alice", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 24)

	rr := doRequest(t, mux, "POST", "/v1/claims/start", token, `{"warrantyId":"w-1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing issue status = %v, want %v", rr.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rr.Body.String(), `"missingFields":["issueDescription"]`) {
		t.Errorf("body = %s, want missingFields naming issueDescription", rr.Body.String())
	}

	rr = doRequest(t, mux, "POST", "/v1/claims/start", token,
		`{"warrantyId":"w-404","issueDescription":"broken"}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown warranty status = %v, want %v", rr.Code, http.StatusNotFound)
	}
	if !strings.Contains(rr.Body.String(), "WTY_NOT_FOUND") {
		t.Errorf("body = %s, want WTY_NOT_FOUND", rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t)
	token := authToken(t, "alice")

	rr := doRequest(t, mux, "DELETE", "/v1/claims/start", token, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %v, want %v", rr.Code, http.StatusMethodNotAllowed)
	}
	if !strings.Contains(rr.Body.String(), "WTY_METHOD_NOT_ALLOWED") {
		t.Errorf("body = %s, want WTY_METHOD_NOT_ALLOWED", rr.Body.String())
	}

	rr = doRequest(t, mux, "PATCH", "/v1/claims/abc", token, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("subroute status = %v, want %v", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestForeignClaimIsNotFound(t *testing.T) {
	mux, store := newTestMux(t)
	seedWarranty(t, store, "w-1", "alice", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 24)

	rr := doRequest(t, mux, "POST", "/v1/claims/start", authToken(t, "alice"),
		`{"warrantyId":"w-1","issueDescription":"broken"}`)
	var claim model.Claim
	decodeData(t, rr, &claim)

	rr = doRequest(t, mux, "GET", "/v1/claims/"+claim.ID, authToken(t, "mallory"), "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign get status = %v, want %v", rr.Code, http.StatusNotFound)
	}
}
