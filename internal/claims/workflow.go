// internal/claims/workflow.go
// Package claims orchestrates the claim-filing workflow: issue intake, the AI
// diagnostic dialogue, severity assessment, email generation, submission, and
// status transitions. The claim row is the durable source of truth at every
// step; AI and email collaborators are fallible and handled per-operation.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warrantypro/warranty-core-go/internal/ai"
	"github.com/warrantypro/warranty-core-go/internal/delivery"
	"github.com/warrantypro/warranty-core-go/internal/event"
	"github.com/warrantypro/warranty-core-go/internal/metrics"
	"github.com/warrantypro/warranty-core-go/internal/model"
	"github.com/warrantypro/warranty-core-go/internal/storage"
)

// ErrTerminalStatus is returned when a status change targets a claim whose
// status is already completed or rejected. Notes-only updates stay allowed.
var ErrTerminalStatus = errors.New("claim status is terminal")

// ErrInvalidStatus is returned for a status outside the known set.
var ErrInvalidStatus = errors.New("invalid claim status")

// Controller coordinates claim state against the store and the external
// collaborators. The publisher and metrics sink are optional.
type Controller struct {
	store   storage.Store
	ai      ai.Provider
	channel delivery.Channel
	pub     event.Publisher
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher sets the event publisher.
func WithPublisher(p event.Publisher) Option {
	return func(c *Controller) { c.pub = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the controller clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New creates a Controller.
func New(store storage.Store, provider ai.Provider, channel delivery.Channel, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		ai:      provider,
		channel: channel,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates a claim for one of the caller's warranties. The claim number
// embeds creation time in millis plus a persisted counter, so numbers stay
// unique under concurrent creation and sort by age.
func (c *Controller) Start(ctx context.Context, ownerID string, req model.StartClaimRequest) (*model.Claim, error) {
	w, err := c.store.GetWarranty(ctx, req.WarrantyID, ownerID)
	if err != nil {
		return nil, err
	}

	seq, err := c.store.NextClaimSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate claim number: %w", err)
	}

	now := c.now().UTC()
	conversation := make([]model.ChatMessage, 0, len(req.Conversation))
	for _, msg := range req.Conversation {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		conversation = append(conversation, msg)
	}

	claim := model.Claim{
		ID:               ulid.Make().String(),
		OwnerID:          ownerID,
		WarrantyID:       req.WarrantyID,
		ClaimNumber:      fmt.Sprintf("CLM-%d-%04d", now.UnixMilli(), seq),
		IssueDescription: req.IssueDescription,
		Conversation:     conversation,
		Suggestions:      c.buildSuggestions(ctx, *w, req),
		Status:           model.ClaimPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := c.store.CreateClaim(ctx, claim); err != nil {
		return nil, fmt.Errorf("failed to create claim: %w", err)
	}

	return &claim, nil
}

// buildSuggestions runs the severity and troubleshooting analyses for a new
// claim. Both legs degrade on provider failure, so claim creation never
// blocks on the AI.
func (c *Controller) buildSuggestions(ctx context.Context, w model.Warranty, req model.StartClaimRequest) *model.Suggestions {
	verdict := c.AnalyzeSeverity(ctx, model.AnalyzeSeverityRequest{
		IssueDescription: req.IssueDescription,
		Conversation:     req.Conversation,
	})

	started := c.now()
	steps, err := c.ai.SuggestTroubleshooting(ctx, w.Category, req.IssueDescription)
	c.observeAICall("troubleshooting", started, err)
	if err != nil {
		slog.Warn("troubleshooting generation degraded to defaults", "warrantyId", w.ID, "error", err)
		steps = ai.DefaultTroubleshootingSteps()
	}

	return &model.Suggestions{
		TroubleshootingSteps: steps,
		Severity:             verdict.Severity,
		RecommendClaim:       verdict.RecommendClaim,
		Reasoning:            verdict.Reasoning,
	}
}

// DiagnosticTurn appends the user's message, asks the provider for the next
// reply, and returns the updated transcript. It can run before any claim
// exists, so it takes the warranty and conversation directly. Provider
// failure surfaces to the caller.
func (c *Controller) DiagnosticTurn(ctx context.Context, ownerID string, req model.DiagnosticTurnRequest) (*model.DiagnosticTurnResponse, error) {
	w, err := c.store.GetWarranty(ctx, req.WarrantyID, ownerID)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	history := append(append([]model.ChatMessage{}, req.Conversation...), model.ChatMessage{
		Role:      model.RoleUser,
		Content:   req.Message,
		Timestamp: now,
	})

	started := c.now()
	reply, err := c.ai.DiagnosticReply(ctx, *w, history)
	c.observeAICall("diagnostic", started, err)
	if err != nil {
		return nil, fmt.Errorf("diagnostic reply failed: %w", err)
	}

	history = append(history, model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: c.now().UTC(),
	})

	return &model.DiagnosticTurnResponse{Reply: reply, Conversation: history}, nil
}

// AnalyzeSeverity asks the provider for a structured verdict. It never fails
// outward: any provider error degrades to the fixed fallback verdict.
func (c *Controller) AnalyzeSeverity(ctx context.Context, req model.AnalyzeSeverityRequest) model.SeverityVerdict {
	started := c.now()
	verdict, err := c.ai.AssessSeverity(ctx, req.IssueDescription, req.Conversation)
	c.observeAICall("severity", started, err)
	if err != nil {
		slog.Warn("severity analysis degraded to fallback", "error", err)
		return model.FallbackVerdict()
	}
	return verdict
}

// GenerateEmail asks the provider to compose the claim email. Unlike severity
// analysis this propagates failure: a malformed claim email is worse than no
// email.
func (c *Controller) GenerateEmail(ctx context.Context, ownerID string, req model.GenerateEmailRequest) (*model.EmailArtifact, error) {
	w, err := c.store.GetWarranty(ctx, req.WarrantyID, ownerID)
	if err != nil {
		return nil, err
	}

	started := c.now()
	artifact, err := c.ai.ComposeClaimEmail(ctx, ai.EmailContext{
		Warranty:             *w,
		IssueDescription:     req.IssueDescription,
		TroubleshootingSteps: req.TroubleshootingSteps,
		ConversationSummary:  req.ConversationSummary,
		ContactName:          req.ContactName,
		ContactEmail:         req.ContactEmail,
		ContactPhone:         req.ContactPhone,
	})
	c.observeAICall("generate_email", started, err)
	if err != nil {
		return nil, fmt.Errorf("claim email generation failed: %w", err)
	}

	return &artifact, nil
}

// SuggestTroubleshooting returns steps for the issue, degrading to a generic
// list when the provider cannot help.
func (c *Controller) SuggestTroubleshooting(ctx context.Context, ownerID string, warrantyID, issue string) ([]string, error) {
	w, err := c.store.GetWarranty(ctx, warrantyID, ownerID)
	if err != nil {
		return nil, err
	}

	started := c.now()
	steps, err := c.ai.SuggestTroubleshooting(ctx, w.Category, issue)
	c.observeAICall("troubleshooting", started, err)
	if err != nil {
		slog.Warn("troubleshooting generation degraded to defaults", "error", err)
		return ai.DefaultTroubleshootingSteps(), nil
	}
	return steps, nil
}

// Submit persists the email artifact on the claim, then attempts delivery to
// the manufacturer with the owner CC'd. The claim row is updated first;
// delivery failure is reported in the outcome, never as an operation error.
// On successful delivery a confirmation email to the owner is attempted and
// its failure fully swallowed.
func (c *Controller) Submit(ctx context.Context, claimID, ownerID string, req model.SubmitClaimRequest) (*model.SubmitClaimResponse, error) {
	w, claim, err := c.claimWithWarranty(ctx, claimID, ownerID)
	if err != nil {
		return nil, err
	}
	if claim.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalStatus, claim.Status)
	}

	now := c.now().UTC()
	claim, err = c.store.UpdateClaim(ctx, claimID, ownerID, func(cl *model.Claim) error {
		cl.GeneratedEmail = &model.EmailArtifact{
			Subject:     req.Subject,
			Body:        req.Body,
			GeneratedAt: now,
		}
		cl.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist claim email: %w", err)
	}

	outcome := model.DeliveryOutcome{}
	if req.ManufacturerEmail != "" {
		outcome = c.deliverClaimEmail(ctx, *w, *claim, req)

		if outcome.Sent {
			claim, err = c.store.UpdateClaim(ctx, claimID, ownerID, func(cl *model.Claim) error {
				cl.EmailSentAt = outcome.SentAt
				cl.EmailSentTo = req.ManufacturerEmail
				cl.UpdatedAt = c.now().UTC()
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("failed to record claim delivery: %w", err)
			}

			c.sendConfirmation(ctx, *w, *claim, req.ContactEmail)
		}
	}

	if c.pub != nil {
		if err := c.pub.PublishClaimSubmitted(ctx, *claim); err != nil {
			slog.Warn("claim submitted event publish failed", "claimId", claim.ID, "error", err)
		}
	}

	return &model.SubmitClaimResponse{Claim: *claim, Delivery: outcome}, nil
}

// deliverClaimEmail sends the manufacturer email. Failures are captured in
// the outcome, logged, and never retried.
func (c *Controller) deliverClaimEmail(ctx context.Context, w model.Warranty, claim model.Claim, req model.SubmitClaimRequest) model.DeliveryOutcome {
	outcome := model.DeliveryOutcome{Attempted: true}

	msg := delivery.Message{
		To:      []string{req.ManufacturerEmail},
		Subject: req.Subject,
		HTMLBody: delivery.BuildClaimEmailHTML(delivery.ClaimEmailData{
			Warranty:     w,
			Body:         req.Body,
			ContactName:  req.ContactName,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
		}),
	}
	if req.ContactEmail != "" {
		msg.CC = []string{req.ContactEmail}
		msg.ReplyTo = req.ContactEmail
	}

	result, err := c.channel.Send(ctx, msg)
	if err != nil {
		outcome.Error = err.Error()
		if c.metrics != nil {
			c.metrics.EmailDeliveryTotal.With(prometheus.Labels{"purpose": "claim", "status": "error"}).Inc()
		}
		slog.Warn("claim email delivery failed", "claimId", claim.ID, "error", err)
		return outcome
	}

	outcome.Sent = true
	sentAt := result.SentAt
	outcome.SentAt = &sentAt
	if c.metrics != nil {
		c.metrics.EmailDeliveryTotal.With(prometheus.Labels{"purpose": "claim", "status": "ok"}).Inc()
	}
	return outcome
}

// sendConfirmation emails the owner that their claim went out. Best-effort
// only; failure never reaches the caller.
func (c *Controller) sendConfirmation(ctx context.Context, w model.Warranty, claim model.Claim, to string) {
	if to == "" {
		return
	}

	_, err := c.channel.Send(ctx, delivery.Message{
		To:       []string{to},
		Subject:  delivery.ConfirmationSubject(claim.ClaimNumber, w.ProductName),
		HTMLBody: delivery.BuildClaimConfirmationHTML("", claim, w.ProductName, c.now().UTC()),
	})
	if err != nil {
		slog.Warn("claim confirmation email failed", "claimId", claim.ID, "error", err)
	}
}

// UpdateStatus sets a new status and optional notes. Ownership is
// re-validated through the scoped update. Completed and rejected claims are
// terminal: further status changes are rejected, notes-only updates pass.
func (c *Controller) UpdateStatus(ctx context.Context, claimID, ownerID string, req model.UpdateClaimStatusRequest) (*model.Claim, error) {
	if req.Status != "" && !model.ValidClaimStatus(req.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	var previous model.ClaimStatus
	claim, err := c.store.UpdateClaim(ctx, claimID, ownerID, func(cl *model.Claim) error {
		previous = cl.Status
		if req.Status != "" && req.Status != cl.Status {
			if cl.Status.Terminal() {
				return fmt.Errorf("%w: %s", ErrTerminalStatus, cl.Status)
			}
			cl.Status = req.Status
		}
		if req.Notes != "" {
			cl.Notes = req.Notes
		}
		cl.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != claim.Status {
		if c.metrics != nil {
			c.metrics.ClaimTransitionTotal.With(prometheus.Labels{
				"from": string(previous), "to": string(claim.Status),
			}).Inc()
		}
		if c.pub != nil {
			if err := c.pub.PublishClaimStatusChanged(ctx, *claim, previous); err != nil {
				slog.Warn("claim status event publish failed", "claimId", claim.ID, "error", err)
			}
		}
	}

	return claim, nil
}

// Get returns one claim scoped to its owner.
func (c *Controller) Get(ctx context.Context, claimID, ownerID string) (*model.Claim, error) {
	return c.store.GetClaim(ctx, claimID, ownerID)
}

// List returns the caller's claims, optionally filtered by warranty and
// status, newest first.
func (c *Controller) List(ctx context.Context, query model.ListClaimsQuery) ([]model.Claim, error) {
	if query.Status != "" && !model.ValidClaimStatus(query.Status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, query.Status)
	}
	return c.store.ListClaims(ctx, query)
}

// Delete removes a claim at any status, scoped to its owner.
func (c *Controller) Delete(ctx context.Context, claimID, ownerID string) error {
	return c.store.DeleteClaim(ctx, claimID, ownerID)
}

// claimWithWarranty loads a claim and its parent warranty, re-validating that
// both belong to the caller.
func (c *Controller) claimWithWarranty(ctx context.Context, claimID, ownerID string) (*model.Warranty, *model.Claim, error) {
	claim, err := c.store.GetClaim(ctx, claimID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	w, err := c.store.GetWarranty(ctx, claim.WarrantyID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return w, claim, nil
}

func (c *Controller) observeAICall(operation string, started time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.AICallTotal.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.metrics.AICallDuration.With(prometheus.Labels{"operation": operation}).
		Observe(c.now().Sub(started).Seconds())
}
