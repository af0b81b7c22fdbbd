// internal/ai/client.go
// Package ai provides a client for the generative AI service used for claim
// diagnostics, severity assessment, and claim email composition.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/warrantypro/warranty-core-go/internal/model"
)

// ErrUnavailable is returned when the AI service cannot be reached or is not
// configured. ErrBadResponse is returned when the service responded but its
// output could not be parsed into the expected structure.
var (
	ErrUnavailable = errors.New("ai service unavailable")
	ErrBadResponse = errors.New("ai response malformed")
)

// EmailContext carries everything the model needs to compose a claim email.
type EmailContext struct {
	Warranty             model.Warranty
	IssueDescription     string
	TroubleshootingSteps []string
	ConversationSummary  string
	ContactName          string
	ContactEmail         string
	ContactPhone         string
}

// Provider is the surface the claim workflow depends on. The HTTP client
// below is the production implementation; tests substitute their own.
type Provider interface {
	// DiagnosticReply returns the assistant's next conversational turn.
	DiagnosticReply(ctx context.Context, w model.Warranty, history []model.ChatMessage) (string, error)

	// AssessSeverity classifies an issue. Callers treat any error as a signal
	// to fall back to a conservative default verdict.
	AssessSeverity(ctx context.Context, issue string, history []model.ChatMessage) (model.SeverityVerdict, error)

	// ComposeClaimEmail drafts a manufacturer-ready claim email.
	ComposeClaimEmail(ctx context.Context, ec EmailContext) (model.EmailArtifact, error)

	// SuggestTroubleshooting returns practical steps for the issue.
	SuggestTroubleshooting(ctx context.Context, category, issue string) ([]string, error)
}

// Client talks to a Gemini-compatible generateContent endpoint.
type Client struct {
	base   string       // Base URL of the AI service
	apiKey string
	model  string
	hc     *http.Client // HTTP client with custom configuration
	now    func() time.Time
}

// New creates a new AI client. Generation calls are slow compared to the rest
// of the service, so the request timeout is generous.
func New(baseURL, apiKey, modelName string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
	}

	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		model:  modelName,
		hc:     &http.Client{Transport: transport, Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// Configured reports whether the client has credentials to call the service.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.base != ""
}

// Wire types for the generateContent API.

type generatePart struct {
	Text string `json:"text"`
}

type generateContent struct {
	Role  string         `json:"role,omitempty"`
	Parts []generatePart `json:"parts"`
}

type generateConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents          []generateContent `json:"contents"`
	SystemInstruction *generateContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *generateConfig   `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content generateContent `json:"content"`
	} `json:"candidates"`
}

// generate sends a request to the generateContent endpoint and returns the
// first candidate's text.
func (c *Client) generate(ctx context.Context, req generateRequest) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: missing API key", ErrUnavailable)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.base, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: generation failed: %s", ErrUnavailable, resp.Status)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", ErrBadResponse)
	}

	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func diagnosticSystemPrompt(w model.Warranty) string {
	category := w.Category
	if category == "" {
		category = "General"
	}
	return fmt.Sprintf(`You are a helpful warranty claim assistant. You're helping a user diagnose an issue with their product.

Product Details:
- Product: %s
- Brand: %s
- Category: %s
- Purchase Date: %s
- Warranty Duration: %d months

Your role:
1. Ask clarifying questions to understand the issue
2. Suggest troubleshooting steps appropriate for the product type
3. Determine if the issue is covered under warranty
4. Assess severity (minor, moderate, severe)
5. Guide user toward filing a claim if needed

Guidelines:
- Be empathetic and professional
- Ask one question at a time
- Provide specific, actionable troubleshooting steps
- If the issue seems warranty-covered, recommend filing a claim
- Keep responses concise (2-3 sentences max)
- Use simple, non-technical language`,
		w.ProductName, w.Brand, category, w.PurchaseDate.Format("2006-01-02"), w.DurationMonths)
}

// DiagnosticReply returns the assistant's next turn in the diagnostic chat.
func (c *Client) DiagnosticReply(ctx context.Context, w model.Warranty, history []model.ChatMessage) (string, error) {
	contents := make([]generateContent, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		contents = append(contents, generateContent{
			Role:  role,
			Parts: []generatePart{{Text: msg.Content}},
		})
	}

	sys := generateContent{Parts: []generatePart{{Text: diagnosticSystemPrompt(w)}}}
	return c.generate(ctx, generateRequest{
		Contents:          contents,
		SystemInstruction: &sys,
		GenerationConfig:  &generateConfig{Temperature: 0.7, MaxOutputTokens: 800},
	})
}

// AssessSeverity classifies the issue into low/medium/high and recommends
// whether a claim should be filed.
func (c *Client) AssessSeverity(ctx context.Context, issue string, history []model.ChatMessage) (model.SeverityVerdict, error) {
	var convo strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&convo, "%s: %s\n", msg.Role, msg.Content)
	}

	prompt := fmt.Sprintf(`Analyze the severity of this product issue:

Issue: %s

Conversation:
%s

Determine:
1. Severity level (low, medium, high)
2. Whether this warrants a warranty claim
3. Brief reasoning

Respond in this exact JSON format:
{
  "severity": "low or medium or high",
  "recommendClaim": true or false,
  "reasoning": "your reasoning here"
}`, issue, convo.String())

	text, err := c.generate(ctx, generateRequest{
		Contents: []generateContent{{Role: "user", Parts: []generatePart{{Text: prompt}}}},
	})
	if err != nil {
		return model.SeverityVerdict{}, err
	}

	var verdict model.SeverityVerdict
	if err := parseStructured(text, severitySchema, &verdict); err != nil {
		return model.SeverityVerdict{}, err
	}
	if !model.ValidSeverity(verdict.Severity) {
		return model.SeverityVerdict{}, fmt.Errorf("%w: unknown severity %q", ErrBadResponse, verdict.Severity)
	}
	return verdict, nil
}

// ComposeClaimEmail drafts a manufacturer-ready warranty claim email.
func (c *Client) ComposeClaimEmail(ctx context.Context, ec EmailContext) (model.EmailArtifact, error) {
	var steps strings.Builder
	for i, step := range ec.TroubleshootingSteps {
		fmt.Fprintf(&steps, "%d. %s\n", i+1, step)
	}

	serial := ec.Warranty.SerialNumber
	if serial == "" {
		serial = "N/A"
	}
	retailer := ec.Warranty.Retailer
	if retailer == "" {
		retailer = "N/A"
	}
	phone := ec.ContactPhone
	if phone == "" {
		phone = "N/A"
	}

	prompt := fmt.Sprintf(`Generate a professional warranty claim email based on the following information:

Product: %s
Brand: %s
Serial Number: %s
Purchase Date: %s
Warranty Duration: %d months
Retailer: %s

Issue Description:
%s

Troubleshooting Steps Attempted:
%s
Conversation Summary:
%s

User Information:
Name: %s
Email: %s
Phone: %s

Generate a professional email with:
1. A clear subject line
2. A complete email body that:
   - Is polite and professional
   - Clearly describes the issue
   - Lists troubleshooting attempts
   - Requests warranty service/replacement
   - Includes all relevant product details
   - Ends with a call to action

Also assess the severity as "low", "medium", or "high".

Respond in this exact JSON format:
{
  "subject": "your subject line here",
  "body": "your email body here",
  "severity": "low or medium or high"
}`,
		ec.Warranty.ProductName, ec.Warranty.Brand, serial,
		ec.Warranty.PurchaseDate.Format("2006-01-02"), ec.Warranty.DurationMonths, retailer,
		ec.IssueDescription, steps.String(), ec.ConversationSummary,
		ec.ContactName, ec.ContactEmail, phone)

	text, err := c.generate(ctx, generateRequest{
		Contents: []generateContent{{Role: "user", Parts: []generatePart{{Text: prompt}}}},
	})
	if err != nil {
		return model.EmailArtifact{}, err
	}

	var draft struct {
		Subject  string `json:"subject"`
		Body     string `json:"body"`
		Severity string `json:"severity"`
	}
	if err := parseStructured(text, emailSchema, &draft); err != nil {
		return model.EmailArtifact{}, err
	}

	severity := model.Severity(draft.Severity)
	if !model.ValidSeverity(severity) {
		severity = model.SeverityMedium
	}

	return model.EmailArtifact{
		Subject:     draft.Subject,
		Body:        draft.Body,
		Severity:    severity,
		GeneratedAt: c.now().UTC(),
	}, nil
}

// SuggestTroubleshooting returns 3-5 practical steps for the issue.
func (c *Client) SuggestTroubleshooting(ctx context.Context, category, issue string) ([]string, error) {
	if category == "" {
		category = "General"
	}
	prompt := fmt.Sprintf(`Generate 3-5 troubleshooting steps for this issue:

Product Category: %s
Issue: %s

Provide practical, safe troubleshooting steps that a non-technical user can perform.
Respond with a JSON object containing a "steps" array: {"steps": ["step 1", "step 2", ...]}`, category, issue)

	text, err := c.generate(ctx, generateRequest{
		Contents: []generateContent{{Role: "user", Parts: []generatePart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Steps []string `json:"steps"`
	}
	if err := parseStructured(text, stepsSchema, &parsed); err != nil {
		return nil, err
	}
	return parsed.Steps, nil
}

// DefaultTroubleshootingSteps is the generic list used when generation fails.
func DefaultTroubleshootingSteps() []string {
	return []string{
		"Check if the device is properly powered on",
		"Restart the device",
		"Check for any visible damage",
		"Consult the user manual for specific troubleshooting",
	}
}
