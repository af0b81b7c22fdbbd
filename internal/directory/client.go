// internal/directory/client.go
// Package directory provides a client for the owner directory service. The
// warranty core stores only opaque owner IDs; the directory resolves them to
// contact details when an expiry alert needs an email address.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Profile is the contact record the directory returns for an owner.
type Profile struct {
	OwnerID string `json:"ownerId"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
}

// ErrNotFound is returned when the directory has no record for an owner.
var ErrNotFound = errors.New("owner not found")

// Client resolves owner IDs against the directory service.
type Client struct {
	base string       // Base URL of the directory service
	hc   *http.Client // HTTP client with custom configuration
}

// New creates a directory client with the specified base URL.
func New(baseURL string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}
	return &Client{
		base: baseURL,
		hc:   &http.Client{Transport: transport, Timeout: 3 * time.Second},
	}
}

// Get retrieves the profile for one owner.
func (c *Client) Get(ctx context.Context, ownerID string) (Profile, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return Profile{}, fmt.Errorf("invalid directory URL: %w", err)
	}
	u.Path = "/v1/owners/" + url.PathEscape(ownerID)

	req, _ := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	resp, err := c.hc.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var p Profile
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return Profile{}, err
		}
		return p, nil
	case http.StatusNotFound:
		return Profile{}, ErrNotFound
	default:
		return Profile{}, fmt.Errorf("owner lookup failed: %s", resp.Status)
	}
}

// EmailFor resolves an owner ID to an email address. It satisfies the expiry
// engine's resolver dependency.
func (c *Client) EmailFor(ctx context.Context, ownerID string) (string, error) {
	p, err := c.Get(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return p.Email, nil
}
