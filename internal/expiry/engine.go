// internal/expiry/engine.go
// Package expiry implements the time-driven warranty expiry check. Each run
// walks the warranties in scope, maps days-until-expiry onto the alert
// thresholds, and appends at most one notification per (owner, warranty,
// kind) to the ledger. Runs are idempotent: re-running on the same day, or
// concurrently, never duplicates an alert.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warrantypro/warranty-core-go/internal/dedup"
	"github.com/warrantypro/warranty-core-go/internal/delivery"
	"github.com/warrantypro/warranty-core-go/internal/event"
	"github.com/warrantypro/warranty-core-go/internal/metrics"
	"github.com/warrantypro/warranty-core-go/internal/model"
	"github.com/warrantypro/warranty-core-go/internal/storage"
)

// OwnerResolver resolves an owner ID to a notification email address.
// A nil resolver, or a resolver error, skips email delivery for that owner;
// the ledger record is kept either way.
type OwnerResolver interface {
	EmailFor(ctx context.Context, ownerID string) (string, error)
}

// Scope restricts a run to one owner's warranties. The zero value means all.
type Scope struct {
	OwnerID string
}

// Engine performs expiry checks. All collaborators except the store are
// optional; the engine degrades to record-only operation without them.
type Engine struct {
	store   storage.Store
	channel delivery.Channel
	guard   *dedup.Guard
	pub     event.Publisher
	owners  OwnerResolver
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelivery sets the email channel for owner alerts.
func WithDelivery(ch delivery.Channel, owners OwnerResolver) Option {
	return func(e *Engine) {
		e.channel = ch
		e.owners = owners
	}
}

// WithGuard sets the Redis fast-path dedup guard.
func WithGuard(g *dedup.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithPublisher sets the event publisher.
func WithPublisher(p event.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given store.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run checks every warranty in scope and emits due notifications. It returns
// the number of notifications newly created. A failure on one warranty is
// logged and does not stop the rest of the run.
func (e *Engine) Run(ctx context.Context, scope Scope) (int, error) {
	started := e.now()
	scopeLabel := "all"
	if scope.OwnerID != "" {
		scopeLabel = "owner"
	}

	warranties, err := e.store.ListWarranties(ctx, scope.OwnerID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ExpiryRunTotal.With(prometheus.Labels{"scope": scopeLabel, "status": "error"}).Inc()
		}
		return 0, fmt.Errorf("failed to list warranties: %w", err)
	}

	emitted := 0
	for _, w := range warranties {
		created, err := e.processWarranty(ctx, w)
		if err != nil {
			slog.Error("expiry check failed for warranty",
				"warrantyId", w.ID, "ownerId", w.OwnerID, "error", err)
			continue
		}
		if created {
			emitted++
		}
	}

	if e.metrics != nil {
		e.metrics.ExpiryRunTotal.With(prometheus.Labels{"scope": scopeLabel, "status": "ok"}).Inc()
		e.metrics.ExpiryRunDuration.With(prometheus.Labels{"scope": scopeLabel}).
			Observe(e.now().Sub(started).Seconds())
	}

	slog.Info("expiry check complete", "scope", scopeLabel, "warranties", len(warranties), "emitted", emitted)
	return emitted, nil
}

// processWarranty emits the due notification for one warranty, if any.
// Returns true when a new ledger record was created.
func (e *Engine) processWarranty(ctx context.Context, w model.Warranty) (bool, error) {
	now := e.now()
	expiry := w.ExpiryDate()
	days := model.DaysUntilExpiry(expiry, now)

	kind, due := model.AlertKindFor(days)
	if !due {
		return false, nil
	}

	// Fast-path guard. A guard error falls through to the insert; the
	// ledger's unique constraint is the authority either way.
	if fresh, err := e.guard.IsNew(ctx, w.OwnerID, w.ID, kind); err != nil {
		slog.Warn("dedup guard unavailable, relying on ledger constraint", "error", err)
	} else if !fresh {
		return false, nil
	}

	title, message := alertContent(w.ProductName, kind, expiry)

	n := model.NotificationRecord{
		ID:              ulid.Make().String(),
		OwnerID:         w.OwnerID,
		WarrantyID:      w.ID,
		Kind:            kind,
		Title:           title,
		Message:         message,
		ProductName:     w.ProductName,
		ExpiryDate:      expiry,
		DaysUntilExpiry: days,
		SentAt:          now.UTC(),
	}

	if err := e.store.CreateNotification(ctx, n); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Already alerted for this kind; another run got there first.
			return false, nil
		}
		return false, err
	}

	if e.metrics != nil {
		e.metrics.NotificationsEmitted.With(prometheus.Labels{"kind": string(kind)}).Inc()
	}

	if e.pub != nil {
		if err := e.pub.PublishNotificationCreated(ctx, n); err != nil {
			slog.Warn("notification event publish failed", "notificationId", n.ID, "error", err)
		}
	}

	// The record is durable; email is best-effort from here on.
	e.deliverAlert(ctx, w, n)

	return true, nil
}

// deliverAlert emails the owner about a freshly created notification. The
// attempt is flagged on the record before the send, so a failed send stays
// distinguishable from one that was never started; failures are never retried.
func (e *Engine) deliverAlert(ctx context.Context, w model.Warranty, n model.NotificationRecord) {
	if e.channel == nil || e.owners == nil {
		return
	}

	to, err := e.owners.EmailFor(ctx, w.OwnerID)
	if err != nil || to == "" {
		slog.Warn("owner email lookup failed, alert not emailed",
			"ownerId", w.OwnerID, "notificationId", n.ID, "error", err)
		return
	}

	if err := e.store.MarkNotificationAttempted(ctx, n.ID); err != nil {
		slog.Warn("failed to flag notification as attempted", "notificationId", n.ID, "error", err)
	}

	_, err = e.channel.Send(ctx, delivery.Message{
		To:       []string{to},
		Subject:  n.Title,
		HTMLBody: delivery.BuildExpiryAlertHTML(w, n),
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.EmailDeliveryTotal.With(prometheus.Labels{"purpose": "expiry_alert", "status": "error"}).Inc()
		}
		slog.Warn("expiry alert email failed", "notificationId", n.ID, "error", err)
		return
	}

	if e.metrics != nil {
		e.metrics.EmailDeliveryTotal.With(prometheus.Labels{"purpose": "expiry_alert", "status": "ok"}).Inc()
	}

	if err := e.store.MarkNotificationDelivered(ctx, n.ID, e.now().UTC()); err != nil {
		slog.Warn("failed to flag notification as delivered", "notificationId", n.ID, "error", err)
	}
}

// alertContent builds the title and message for an alert kind.
func alertContent(productName string, kind model.AlertKind, expiry time.Time) (title, message string) {
	formatted := expiry.Format("January 2, 2006")

	switch kind {
	case model.AlertThirtyDay:
		return fmt.Sprintf("Warranty Expiring Soon: %s", productName),
			fmt.Sprintf("Your warranty for %s expires in 30 days (%s). Schedule an inspection now to maximize your coverage!", productName, formatted)
	case model.AlertSevenDay:
		return fmt.Sprintf("Last Week! Warranty Expires Soon: %s", productName),
			fmt.Sprintf("URGENT: Your warranty for %s expires in 7 days (%s). This is your last chance to claim any issues!", productName, formatted)
	case model.AlertExpiryDay:
		return fmt.Sprintf("WARRANTY EXPIRES TODAY: %s", productName),
			fmt.Sprintf("Your warranty for %s expires TODAY (%s). Take immediate action if you have any issues!", productName, formatted)
	default:
		return fmt.Sprintf("Warranty Expired: %s", productName),
			fmt.Sprintf("Your warranty for %s has expired as of %s.", productName, formatted)
	}
}
