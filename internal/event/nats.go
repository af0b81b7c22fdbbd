// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams notification and claim lifecycle events for downstream consumers
// (notification feeds, audit trails, analytics).
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

// Publisher defines the event publishing operations used by the expiry engine
// and the claim workflow.
type Publisher interface {
	PublishNotificationCreated(ctx context.Context, n model.NotificationRecord) error
	PublishClaimSubmitted(ctx context.Context, c model.Claim) error
	PublishClaimStatusChanged(ctx context.Context, c model.Claim, previous model.ClaimStatus) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// The service functions fully without event streaming; the ledger and the
// claims table remain the source of truth.
type noop struct{}

func (n *noop) Close() error { return nil }

func (n *noop) PublishNotificationCreated(ctx context.Context, _ model.NotificationRecord) error {
	return nil
}

func (n *noop) PublishClaimSubmitted(ctx context.Context, _ model.Claim) error { return nil }

func (n *noop) PublishClaimStatusChanged(ctx context.Context, _ model.Claim, _ model.ClaimStatus) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations
}

// NewPublisherFromEnv creates a publisher based on environment configuration.
// It reads WP_NATS_URL; if NATS is not configured or the connection fails it
// returns a no-op publisher so the service still starts.
func NewPublisherFromEnv() Publisher {
	url := os.Getenv("WP_NATS_URL")
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{nc: nc, js: js}
}

// initStreams creates the WTY_NOTIFICATIONS and WTY_CLAIMS streams. Expiry
// alerts are day-granular so a 48h retention outlives any consumer lag that
// matters; claim events keep a longer tail for audit consumers.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "WTY_NOTIFICATIONS",
		Subjects:  []string{"wty.notifications.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    48 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create WTY_NOTIFICATIONS stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      "WTY_CLAIMS",
		Subjects:  []string{"wty.claims.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create WTY_CLAIMS stream: %w", err)
	}

	return nil
}

// EventEnvelope is the standard envelope all published events are wrapped in.
type EventEnvelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) publish(subject, eventType string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, b)
	return err
}

// PublishNotificationCreated publishes an event for a freshly created expiry
// alert. The ledger insert has already committed; publish failure is the
// caller's to log, never to roll back.
func (p *natsPub) PublishNotificationCreated(ctx context.Context, n model.NotificationRecord) error {
	subject := fmt.Sprintf("wty.notifications.%s", n.Kind)
	return p.publish(subject, "wty.notification.created", n)
}

// PublishClaimSubmitted publishes an event for a submitted claim.
func (p *natsPub) PublishClaimSubmitted(ctx context.Context, c model.Claim) error {
	return p.publish("wty.claims.submitted", "wty.claim.submitted", c)
}

// PublishClaimStatusChanged publishes a status transition event.
func (p *natsPub) PublishClaimStatusChanged(ctx context.Context, c model.Claim, previous model.ClaimStatus) error {
	payload := struct {
		Claim    model.Claim       `json:"claim"`
		Previous model.ClaimStatus `json:"previous"`
	}{Claim: c, Previous: previous}
	return p.publish("wty.claims.status_changed", "wty.claim.status_changed", payload)
}
