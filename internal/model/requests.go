// internal/model/requests.go
// Request and response bodies for the caller-facing API surface.
package model

// RunCheckResponse reports the result of an expiry check pass.
type RunCheckResponse struct {
	Emitted int `json:"emitted"` // Newly created notification records
}

// ListNotificationsResponse bundles a user's notification history with the
// unread count, matching what the UI binds to.
type ListNotificationsResponse struct {
	Notifications []NotificationRecord `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
}

// UnreadCountResponse carries only the unread counter.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// StartClaimRequest opens the claim-filing flow for a warranty.
type StartClaimRequest struct {
	WarrantyID       string        `json:"warrantyId"`
	IssueDescription string        `json:"issueDescription"`
	Conversation     []ChatMessage `json:"conversation,omitempty"` // Pre-submission chat, if any
}

// DiagnosticTurnRequest appends one user message to a diagnostic
// conversation. The conversation may predate any persisted claim.
type DiagnosticTurnRequest struct {
	WarrantyID   string        `json:"warrantyId"`
	Message      string        `json:"message"`
	Conversation []ChatMessage `json:"conversation,omitempty"` // History so far, oldest first
}

// DiagnosticTurnResponse returns the assistant's reply and the updated
// transcript.
type DiagnosticTurnResponse struct {
	Reply        string        `json:"reply"`
	Conversation []ChatMessage `json:"conversation"`
}

// AnalyzeSeverityRequest asks for a structured severity verdict.
type AnalyzeSeverityRequest struct {
	IssueDescription string        `json:"issueDescription"`
	Conversation     []ChatMessage `json:"conversation,omitempty"`
}

// GenerateEmailRequest asks the provider to compose a claim email.
type GenerateEmailRequest struct {
	WarrantyID           string   `json:"warrantyId"`
	IssueDescription     string   `json:"issueDescription"`
	TroubleshootingSteps []string `json:"troubleshootingSteps,omitempty"`
	ConversationSummary  string   `json:"conversationSummary,omitempty"`
	ContactName          string   `json:"contactName"`
	ContactEmail         string   `json:"contactEmail"`
	ContactPhone         string   `json:"contactPhone,omitempty"`
}

// SubmitClaimRequest finalizes a claim and sends the generated email to the
// manufacturer, CCing the claimant.
type SubmitClaimRequest struct {
	ManufacturerEmail string `json:"manufacturerEmail"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
	ContactName       string `json:"contactName,omitempty"`
	ContactEmail      string `json:"contactEmail"` // CC and reply-to address
	ContactPhone      string `json:"contactPhone,omitempty"`
}

// SubmitClaimResponse reports the durable claim alongside the best-effort
// delivery leg.
type SubmitClaimResponse struct {
	Claim    Claim           `json:"claim"`
	Delivery DeliveryOutcome `json:"delivery"`
}

// UpdateClaimStatusRequest moves a claim to a new status, optionally
// attaching notes. Notes alone are allowed on terminal claims.
type UpdateClaimStatusRequest struct {
	Status ClaimStatus `json:"status,omitempty"`
	Notes  string      `json:"notes,omitempty"`
}

// ListClaimsQuery filters a claim listing.
type ListClaimsQuery struct {
	OwnerID    string      `json:"ownerId"`
	WarrantyID string      `json:"warrantyId,omitempty"`
	Status     ClaimStatus `json:"status,omitempty"`
}
