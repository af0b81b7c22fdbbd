// internal/delivery/email.go
// Package delivery sends transactional email through a Resend-compatible
// HTTP API. Delivery is best-effort for callers: the durable record always
// comes first, and a failed send is reported back rather than retried.
package delivery

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
)

// ErrUnconfigured is returned when no API key is available.
var ErrUnconfigured = errors.New("email delivery not configured")

// Message is a single outbound email.
type Message struct {
	To       []string
	CC       []string
	ReplyTo  string
	Subject  string
	HTMLBody string
}

// Result describes an accepted send.
type Result struct {
	MessageID string
	SentAt    time.Time
}

// Channel is the delivery surface the engine and claim workflow depend on.
type Channel interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// Client sends email through a Resend-compatible API.
type Client struct {
	base   string       // Base URL of the email API
	apiKey string
	from   string
	hc     *http.Client // HTTP client with custom configuration
	now    func() time.Time
}

// New creates a new email client. An empty apiKey yields a client whose Send
// always returns ErrUnconfigured, which callers already treat as a soft
// failure.
func New(baseURL, apiKey, from string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
	}

	if from == "" {
		from = "onboarding@resend.dev"
	}

	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		from:   from,
		hc:     &http.Client{Transport: transport, Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send delivers one message and returns the provider's message ID.
func (c *Client) Send(ctx context.Context, msg Message) (Result, error) {
	if c.apiKey == "" || c.base == "" {
		return Result{}, ErrUnconfigured
	}
	if len(msg.To) == 0 {
		return Result{}, errors.New("message has no recipients")
	}

	body, err := json.Marshal(sendRequest{
		From:    c.from,
		To:      msg.To,
		CC:      msg.CC,
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.base+"/emails", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("email send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("email send failed: %s", resp.Status)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, fmt.Errorf("email send response malformed: %w", err)
	}

	return Result{MessageID: sr.ID, SentAt: c.now().UTC()}, nil
}
