// internal/claims/workflow_test.go
package claims

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warrantypro/warranty-core-go/internal/ai"
	"github.com/warrantypro/warranty-core-go/internal/delivery"
	"github.com/warrantypro/warranty-core-go/internal/model"
	"github.com/warrantypro/warranty-core-go/internal/storage"
)

type fakeProvider struct {
	mu          sync.Mutex
	reply       string
	replyErr    error
	verdict     model.SeverityVerdict
	verdictErr  error
	artifact    model.EmailArtifact
	artifactErr error
	steps       []string
	stepsErr    error
	histories   [][]model.ChatMessage
}

func (f *fakeProvider) DiagnosticReply(ctx context.Context, w model.Warranty, history []model.ChatMessage) (string, error) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	return f.reply, f.replyErr
}

func (f *fakeProvider) AssessSeverity(ctx context.Context, issue string, history []model.ChatMessage) (model.SeverityVerdict, error) {
	return f.verdict, f.verdictErr
}

func (f *fakeProvider) ComposeClaimEmail(ctx context.Context, ec ai.EmailContext) (model.EmailArtifact, error) {
	return f.artifact, f.artifactErr
}

func (f *fakeProvider) SuggestTroubleshooting(ctx context.Context, category, issue string) ([]string, error) {
	return f.steps, f.stepsErr
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []delivery.Message
	errFor func(delivery.Message) error
}

func (f *fakeChannel) Send(ctx context.Context, msg delivery.Message) (delivery.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errFor != nil {
		if err := f.errFor(msg); err != nil {
			return delivery.Result{}, err
		}
	}
	f.sent = append(f.sent, msg)
	return delivery.Result{MessageID: "msg-1", SentAt: time.Now().UTC()}, nil
}

func (f *fakeChannel) messages() []delivery.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery.Message{}, f.sent...)
}

func healthyProvider() *fakeProvider {
	return &fakeProvider{
		reply:   "Have you tried turning it off and on again?",
		verdict: model.SeverityVerdict{Severity: model.SeverityHigh, RecommendClaim: true, Reasoning: "heating element failure"},
		artifact: model.EmailArtifact{
			Subject:  "Warranty Claim: Dishwasher",
			Body:     "Dear Bosch support,\n\nMy dishwasher no longer heats.",
			Severity: model.SeverityHigh,
		},
		steps: []string{"Check the power supply", "Inspect the heating element"},
	}
}

func newController(t *testing.T, provider *fakeProvider, channel *fakeChannel) (*Controller, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	seedWarranty(t, store, "w-1", "alice")
	return New(store, provider, channel), store
}

func seedWarranty(t *testing.T, store storage.Store, id, owner string) model.Warranty {
	t.Helper()
	w := model.Warranty{
		ID:             id,
		OwnerID:        owner,
		ProductName:    "Dishwasher",
		Brand:          "Bosch",
		Category:       "appliance",
		PurchaseDate:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DurationMonths: 24,
	}
	if err := store.PutWarranty(context.Background(), w); err != nil {
		t.Fatalf("seed warranty: %v", err)
	}
	return w
}

func TestStartCreatesPendingClaimWithSuggestions(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})

	claim, err := ctrl.Start(context.Background(), "alice", model.StartClaimRequest{
		WarrantyID:       "w-1",
		IssueDescription: "no longer heats water",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if claim.Status != model.ClaimPending {
		t.Errorf("status = %q, want pending", claim.Status)
	}
	if !strings.HasPrefix(claim.ClaimNumber, "CLM-") {
		t.Errorf("claim number %q missing prefix", claim.ClaimNumber)
	}
	if claim.Suggestions == nil {
		t.Fatal("expected suggestions on new claim")
	}
	if claim.Suggestions.Severity != model.SeverityHigh || !claim.Suggestions.RecommendClaim {
		t.Errorf("suggestions = %+v, want provider verdict", claim.Suggestions)
	}
	if len(claim.Suggestions.TroubleshootingSteps) != 2 {
		t.Errorf("steps = %v, want provider steps", claim.Suggestions.TroubleshootingSteps)
	}
}

func TestStartDegradesSuggestionsWhenProviderDown(t *testing.T) {
	provider := &fakeProvider{
		verdictErr: ai.ErrUnavailable,
		stepsErr:   ai.ErrUnavailable,
	}
	ctrl, _ := newController(t, provider, &fakeChannel{})

	claim, err := ctrl.Start(context.Background(), "alice", model.StartClaimRequest{
		WarrantyID:       "w-1",
		IssueDescription: "no longer heats water",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := model.FallbackVerdict()
	if claim.Suggestions.Severity != want.Severity || claim.Suggestions.Reasoning != want.Reasoning {
		t.Errorf("suggestions = %+v, want fallback verdict", claim.Suggestions)
	}
	if len(claim.Suggestions.TroubleshootingSteps) == 0 {
		t.Error("expected default troubleshooting steps")
	}
}

func TestStartRejectsForeignWarranty(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})

	_, err := ctrl.Start(context.Background(), "mallory", model.StartClaimRequest{
		WarrantyID:       "w-1",
		IssueDescription: "not mine",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartClaimNumbersUniqueUnderConcurrency(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})

	const n = 1000
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := ctrl.Start(context.Background(), "alice", model.StartClaimRequest{
				WarrantyID:       "w-1",
				IssueDescription: "issue",
			})
			if err != nil {
				t.Errorf("Start: %v", err)
				return
			}
			numbers <- claim.ClaimNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool, n)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("duplicate claim number %q", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d distinct claim numbers, want %d", len(seen), n)
	}
}

func TestDiagnosticTurnAppendsBothMessages(t *testing.T) {
	provider := healthyProvider()
	ctrl, _ := newController(t, provider, &fakeChannel{})

	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "It stopped heating.", Timestamp: time.Now()},
		{Role: model.RoleAssistant, Content: "Does it still fill with water?", Timestamp: time.Now()},
	}
	resp, err := ctrl.DiagnosticTurn(context.Background(), "alice", model.DiagnosticTurnRequest{
		WarrantyID:   "w-1",
		Message:      "Yes, it fills normally.",
		Conversation: history,
	})
	if err != nil {
		t.Fatalf("DiagnosticTurn: %v", err)
	}

	if len(resp.Conversation) != 4 {
		t.Fatalf("transcript length = %d, want 4", len(resp.Conversation))
	}
	if resp.Conversation[2].Role != model.RoleUser || resp.Conversation[2].Content != "Yes, it fills normally." {
		t.Errorf("third message = %+v, want user turn", resp.Conversation[2])
	}
	last := resp.Conversation[3]
	if last.Role != model.RoleAssistant || last.Content != resp.Reply {
		t.Errorf("last message = %+v, want assistant reply", last)
	}

	// The provider must see the history including the new user turn, but not
	// its own reply.
	if len(provider.histories) != 1 || len(provider.histories[0]) != 3 {
		t.Errorf("provider saw %d turns, want 3", len(provider.histories[0]))
	}
}

func TestDiagnosticTurnPropagatesProviderFailure(t *testing.T) {
	provider := healthyProvider()
	provider.replyErr = ai.ErrUnavailable
	ctrl, _ := newController(t, provider, &fakeChannel{})

	_, err := ctrl.DiagnosticTurn(context.Background(), "alice", model.DiagnosticTurnRequest{
		WarrantyID: "w-1",
		Message:    "hello?",
	})
	if !errors.Is(err, ai.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestAnalyzeSeverityNeverFails(t *testing.T) {
	provider := healthyProvider()
	provider.verdictErr = ai.ErrBadResponse
	ctrl, _ := newController(t, provider, &fakeChannel{})

	verdict := ctrl.AnalyzeSeverity(context.Background(), model.AnalyzeSeverityRequest{
		IssueDescription: "sparks from the back panel",
	})
	if verdict != model.FallbackVerdict() {
		t.Errorf("verdict = %+v, want fallback", verdict)
	}
}

func TestGenerateEmailPropagatesFailure(t *testing.T) {
	provider := healthyProvider()
	provider.artifactErr = ai.ErrBadResponse
	ctrl, _ := newController(t, provider, &fakeChannel{})

	_, err := ctrl.GenerateEmail(context.Background(), "alice", model.GenerateEmailRequest{
		WarrantyID:       "w-1",
		IssueDescription: "no longer heats water",
		ContactName:      "Alice",
		ContactEmail:     "alice@example.com",
	})
	if !errors.Is(err, ai.ErrBadResponse) {
		t.Fatalf("err = %v, want ErrBadResponse", err)
	}
}

func startClaim(t *testing.T, ctrl *Controller) *model.Claim {
	t.Helper()
	claim, err := ctrl.Start(context.Background(), "alice", model.StartClaimRequest{
		WarrantyID:       "w-1",
		IssueDescription: "no longer heats water",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return claim
}

func TestSubmitDeliversWithOwnerCCd(t *testing.T) {
	channel := &fakeChannel{}
	ctrl, _ := newController(t, healthyProvider(), channel)
	claim := startClaim(t, ctrl)

	resp, err := ctrl.Submit(context.Background(), claim.ID, "alice", model.SubmitClaimRequest{
		ManufacturerEmail: "support@bosch.example",
		Subject:           "Warranty Claim: Dishwasher",
		Body:              "My dishwasher no longer heats.",
		ContactName:       "Alice",
		ContactEmail:      "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !resp.Delivery.Attempted || !resp.Delivery.Sent {
		t.Fatalf("delivery = %+v, want attempted and sent", resp.Delivery)
	}
	if resp.Claim.EmailSentAt == nil || resp.Claim.EmailSentTo != "support@bosch.example" {
		t.Errorf("claim delivery fields = %v/%q", resp.Claim.EmailSentAt, resp.Claim.EmailSentTo)
	}
	if resp.Claim.GeneratedEmail == nil || resp.Claim.GeneratedEmail.Subject != "Warranty Claim: Dishwasher" {
		t.Errorf("generated email not persisted: %+v", resp.Claim.GeneratedEmail)
	}

	msgs := channel.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d emails, want manufacturer plus confirmation", len(msgs))
	}
	manufacturer := msgs[0]
	if manufacturer.To[0] != "support@bosch.example" {
		t.Errorf("To = %v", manufacturer.To)
	}
	if len(manufacturer.CC) != 1 || manufacturer.CC[0] != "alice@example.com" {
		t.Errorf("CC = %v, want claimant address", manufacturer.CC)
	}
	if manufacturer.ReplyTo != "alice@example.com" {
		t.Errorf("ReplyTo = %q", manufacturer.ReplyTo)
	}
	confirmation := msgs[1]
	if confirmation.To[0] != "alice@example.com" {
		t.Errorf("confirmation To = %v", confirmation.To)
	}
	if !strings.Contains(confirmation.Subject, claim.ClaimNumber) {
		t.Errorf("confirmation subject %q missing claim number", confirmation.Subject)
	}
}

func TestSubmitSurvivesDeliveryFailure(t *testing.T) {
	channel := &fakeChannel{errFor: func(delivery.Message) error {
		return errors.New("upstream 500")
	}}
	ctrl, store := newController(t, healthyProvider(), channel)
	claim := startClaim(t, ctrl)

	resp, err := ctrl.Submit(context.Background(), claim.ID, "alice", model.SubmitClaimRequest{
		ManufacturerEmail: "support@bosch.example",
		Subject:           "Warranty Claim: Dishwasher",
		Body:              "My dishwasher no longer heats.",
		ContactEmail:      "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Submit must not fail on delivery error, got: %v", err)
	}

	if !resp.Delivery.Attempted || resp.Delivery.Sent {
		t.Errorf("delivery = %+v, want attempted but not sent", resp.Delivery)
	}
	if resp.Delivery.Error == "" {
		t.Error("expected delivery error message")
	}

	stored, err := store.GetClaim(context.Background(), claim.ID, "alice")
	if err != nil {
		t.Fatalf("GetClaim: %v", err)
	}
	if stored.GeneratedEmail == nil {
		t.Error("claim row must keep the email artifact despite delivery failure")
	}
	if stored.EmailSentAt != nil || stored.EmailSentTo != "" {
		t.Errorf("delivery fields must stay unset, got %v/%q", stored.EmailSentAt, stored.EmailSentTo)
	}
}

func TestSubmitSwallowsConfirmationFailure(t *testing.T) {
	channel := &fakeChannel{}
	channel.errFor = func(msg delivery.Message) error {
		if msg.To[0] == "alice@example.com" {
			return errors.New("confirmation bounce")
		}
		return nil
	}
	ctrl, _ := newController(t, healthyProvider(), channel)
	claim := startClaim(t, ctrl)

	resp, err := ctrl.Submit(context.Background(), claim.ID, "alice", model.SubmitClaimRequest{
		ManufacturerEmail: "support@bosch.example",
		Subject:           "Warranty Claim: Dishwasher",
		Body:              "My dishwasher no longer heats.",
		ContactEmail:      "alice@example.com",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !resp.Delivery.Sent {
		t.Errorf("manufacturer delivery should succeed, got %+v", resp.Delivery)
	}
}

func TestSubmitRejectsForeignClaim(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})
	claim := startClaim(t, ctrl)

	_, err := ctrl.Submit(context.Background(), claim.ID, "mallory", model.SubmitClaimRequest{
		ManufacturerEmail: "support@bosch.example",
		Subject:           "s",
		Body:              "b",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusTerminalEnforcement(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})
	claim := startClaim(t, ctrl)
	ctx := context.Background()

	for _, status := range []model.ClaimStatus{model.ClaimInProgress, model.ClaimApproved, model.ClaimCompleted} {
		if _, err := ctrl.UpdateStatus(ctx, claim.ID, "alice", model.UpdateClaimStatusRequest{Status: status}); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	_, err := ctrl.UpdateStatus(ctx, claim.ID, "alice", model.UpdateClaimStatusRequest{Status: model.ClaimPending})
	if !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("err = %v, want ErrTerminalStatus", err)
	}

	// Notes alone stay writable on a terminal claim.
	updated, err := ctrl.UpdateStatus(ctx, claim.ID, "alice", model.UpdateClaimStatusRequest{Notes: "refund issued"})
	if err != nil {
		t.Fatalf("notes-only update: %v", err)
	}
	if updated.Notes != "refund issued" || updated.Status != model.ClaimCompleted {
		t.Errorf("claim = %+v, want notes set and status untouched", updated)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})
	claim := startClaim(t, ctrl)

	_, err := ctrl.UpdateStatus(context.Background(), claim.ID, "alice", model.UpdateClaimStatusRequest{Status: "escalated"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestSubmitRejectedOnTerminalClaim(t *testing.T) {
	ctrl, _ := newController(t, healthyProvider(), &fakeChannel{})
	claim := startClaim(t, ctrl)
	ctx := context.Background()

	if _, err := ctrl.UpdateStatus(ctx, claim.ID, "alice", model.UpdateClaimStatusRequest{Status: model.ClaimRejected}); err != nil {
		t.Fatalf("reject claim: %v", err)
	}

	_, err := ctrl.Submit(ctx, claim.ID, "alice", model.SubmitClaimRequest{
		ManufacturerEmail: "support@bosch.example",
		Subject:           "s",
		Body:              "b",
	})
	if !errors.Is(err, ErrTerminalStatus) {
		t.Fatalf("err = %v, want ErrTerminalStatus", err)
	}
}

func TestDeleteScopedToOwner(t *testing.T) {
	ctrl, store := newController(t, healthyProvider(), &fakeChannel{})
	claim := startClaim(t, ctrl)
	ctx := context.Background()

	if err := ctrl.Delete(ctx, claim.ID, "mallory"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrNotFound", err)
	}
	if err := ctrl.Delete(ctx, claim.ID, "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetClaim(ctx, claim.ID, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("claim still present after delete: %v", err)
	}
}
