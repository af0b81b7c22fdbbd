// internal/model/warranty.go
// Package model defines the data structures used throughout the warranty service.
// These structures represent the core domain objects for warranties, expiry
// notifications, and claims.
package model

import (
	"math"
	"time"
)

// Warranty represents one covered product. Warranties are created and
// maintained by the CRUD layer; this core only reads them.
// This corresponds to the warranties table in storage.
type Warranty struct {
	ID             string    `json:"id" db:"id"`                          // Unique warranty identifier
	OwnerID        string    `json:"ownerId" db:"owner_id"`               // Canonical owner identifier
	ProductName    string    `json:"productName" db:"product_name"`      // Product name
	Brand          string    `json:"brand" db:"brand"`                    // Manufacturer brand
	SerialNumber   string    `json:"serialNumber,omitempty" db:"serial_number"` // Optional serial number
	Retailer       string    `json:"retailer,omitempty" db:"retailer"`    // Optional retailer
	Category       string    `json:"category,omitempty" db:"category"`    // Optional category
	PurchaseDate   time.Time `json:"purchaseDate" db:"purchase_date"`     // Date of purchase
	DurationMonths int       `json:"durationMonths" db:"duration_months"` // Coverage duration in months
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`           // When the warranty was registered
}

// ExpiryDate is the single source of truth for warranty expiry computation.
// Coverage ends DurationMonths calendar months after the purchase date.
func (w Warranty) ExpiryDate() time.Time {
	return w.PurchaseDate.AddDate(0, w.DurationMonths, 0)
}

// DaysUntilExpiry returns the number of whole days between now and expiry,
// rounded up. Negative once the warranty has expired.
func DaysUntilExpiry(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// AlertKind identifies one of the fixed expiry alert thresholds. It is the
// unit of idempotence for notifications: at most one NotificationRecord
// exists per (owner, warranty, kind).
type AlertKind string

const (
	AlertThirtyDay AlertKind = "thirty_day" // exactly 30 days until expiry
	AlertSevenDay  AlertKind = "seven_day"  // exactly 7 days until expiry
	AlertExpiryDay AlertKind = "expiry_day" // expires today
	AlertExpired   AlertKind = "expired"    // already expired
)

// AlertKindFor maps a days-until-expiry value to an alert kind. The match is
// on exact day counts; a run that misses a day skips that threshold entirely,
// which is the accepted characteristic of a daily-cron design.
func AlertKindFor(daysUntilExpiry int) (AlertKind, bool) {
	switch {
	case daysUntilExpiry == 30:
		return AlertThirtyDay, true
	case daysUntilExpiry == 7:
		return AlertSevenDay, true
	case daysUntilExpiry == 0:
		return AlertExpiryDay, true
	case daysUntilExpiry < 0:
		return AlertExpired, true
	default:
		return "", false
	}
}

// NotificationRecord is one emitted expiry alert. Records are append-only;
// only the read and delivery fields are ever mutated.
// This corresponds to the notifications table in storage.
type NotificationRecord struct {
	ID              string     `json:"id" db:"id"`                           // ULID
	OwnerID         string     `json:"ownerId" db:"owner_id"`                // Alert recipient
	WarrantyID      string     `json:"warrantyId" db:"warranty_id"`          // Warranty the alert is about
	Kind            AlertKind  `json:"kind" db:"kind"`                       // Threshold that fired
	Title           string     `json:"title" db:"title"`                     // Human-readable title
	Message         string     `json:"message" db:"message"`                 // Human-readable message
	ProductName     string     `json:"productName" db:"product_name"`       // Denormalized for display
	ExpiryDate      time.Time  `json:"expiryDate" db:"expiry_date"`          // Computed expiry at emission
	DaysUntilExpiry int        `json:"daysUntilExpiry" db:"days_until_expiry"` // Days remaining at emission
	SentAt          time.Time  `json:"sentAt" db:"sent_at"`                  // When the record was created
	ReadAt          *time.Time `json:"readAt,omitempty" db:"read_at"`        // When the user read it, if ever
	EmailAttempted  bool       `json:"emailAttempted" db:"email_attempted"`  // Delivery was attempted
	EmailSent       bool       `json:"emailSent" db:"email_sent"`            // Delivery succeeded
	EmailSentAt     *time.Time `json:"emailSentAt,omitempty" db:"email_sent_at"` // When delivery succeeded
}

// ChatMessage is a single utterance in a claim's diagnostic conversation.
// The conversation is append-only and order-sensitive.
type ChatMessage struct {
	Role      string    `json:"role"`      // "user" or "assistant"
	Content   string    `json:"content"`   // Message text
	Timestamp time.Time `json:"timestamp"` // When the message was recorded
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Severity is the AI-assessed seriousness of a product issue.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ValidSeverity reports whether s is one of the known severity levels.
func ValidSeverity(s Severity) bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// SeverityVerdict is the structured output of the AI severity analysis.
type SeverityVerdict struct {
	Severity       Severity `json:"severity"`
	RecommendClaim bool     `json:"recommendClaim"`
	Reasoning      string   `json:"reasoning"`
}

// FallbackVerdict is returned when the AI provider cannot produce a usable
// severity analysis. Severity analysis degrades rather than failing outward.
func FallbackVerdict() SeverityVerdict {
	return SeverityVerdict{
		Severity:       SeverityMedium,
		RecommendClaim: true,
		Reasoning:      "unable to analyze automatically",
	}
}

// Suggestions holds the AI-derived guidance attached to a claim.
type Suggestions struct {
	TroubleshootingSteps []string `json:"troubleshootingSteps"`
	Severity             Severity `json:"severity"`
	RecommendClaim       bool     `json:"recommendClaim"`
	Reasoning            string   `json:"reasoning"`
}

// EmailArtifact is the AI-generated claim email.
type EmailArtifact struct {
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Severity    Severity  `json:"severity"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ClaimStatus is the finite state of a claim.
type ClaimStatus string

const (
	ClaimPending    ClaimStatus = "pending"     // Created, awaiting generation or submission
	ClaimInProgress ClaimStatus = "in_progress" // Under manufacturer review
	ClaimApproved   ClaimStatus = "approved"
	ClaimRejected   ClaimStatus = "rejected"  // Terminal
	ClaimCompleted  ClaimStatus = "completed" // Terminal
)

// ValidClaimStatus reports whether s is one of the known claim statuses.
func ValidClaimStatus(s ClaimStatus) bool {
	switch s {
	case ClaimPending, ClaimInProgress, ClaimApproved, ClaimRejected, ClaimCompleted:
		return true
	}
	return false
}

// Terminal reports whether a status admits no further status transitions.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimCompleted || s == ClaimRejected
}

// Claim is one user attempt to obtain warranty service. A claim is always
// tied to exactly one warranty owned by the same user; ownership is
// re-validated on every mutating operation.
// This corresponds to the claims table in storage.
type Claim struct {
	ID               string         `json:"id" db:"id"`                     // ULID
	OwnerID          string         `json:"ownerId" db:"owner_id"`          // Claim owner
	WarrantyID       string         `json:"warrantyId" db:"warranty_id"`    // Parent warranty
	ClaimNumber      string         `json:"claimNumber" db:"claim_number"`  // Unique, assigned once at creation
	IssueDescription string         `json:"issueDescription" db:"issue_description"`
	Conversation     []ChatMessage  `json:"conversation" db:"conversation"` // Ordered diagnostic transcript
	Suggestions      *Suggestions   `json:"suggestions,omitempty" db:"suggestions"`
	GeneratedEmail   *EmailArtifact `json:"generatedEmail,omitempty" db:"generated_email"`
	EmailSentAt      *time.Time     `json:"emailSentAt,omitempty" db:"email_sent_at"` // Manufacturer delivery time
	EmailSentTo      string         `json:"emailSentTo,omitempty" db:"email_sent_to"` // Manufacturer address
	Status           ClaimStatus    `json:"status" db:"status"`
	Notes            string         `json:"notes,omitempty" db:"notes"`
	CreatedAt        time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time      `json:"updatedAt" db:"updated_at"`
}

// DeliveryOutcome reports the best-effort email leg of a claim submission.
// A failed delivery never fails the submission itself.
type DeliveryOutcome struct {
	Attempted bool       `json:"attempted"`
	Sent      bool       `json:"sent"`
	SentAt    *time.Time `json:"sentAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}
