// Package sponsor provides the HTTP client for the sponsorship ledger,
// which records which users occupy seats under which license.
package sponsor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the ledger has no entry for the requested
// license, sponsorship, or verification key.
var ErrNotFound = errors.New("sponsor: not found")

// ClientConfig holds the connection settings for the sponsorship ledger.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the sponsorship ledger over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a sponsorship ledger client for the given base URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sponsor: base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Sponsorship is one seat under a license. A sponsorship created for a user
// stays pending until its verification key is accepted; only verified,
// non-deleted sponsorships occupy billable seats.
type Sponsorship struct {
	ID              int        `json:"id"`
	LicenseID       int        `json:"license_id"`
	User            string     `json:"npm_user"`
	VerificationKey string     `json:"verification_key,omitempty"`
	Verified        *bool      `json:"verified"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the sponsorship occupies a billable seat.
func (s *Sponsorship) Active() bool {
	return s.DeletedAt == nil && s.Verified != nil && *s.Verified
}

// VerifyOutcome describes how the ledger resolved a verification key.
type VerifyOutcome string

const (
	// OutcomeVerified means the key was accepted and the seat is now active.
	OutcomeVerified VerifyOutcome = "verified"
	// OutcomeAlreadySponsored means the user already held an active seat;
	// the ledger rejects the duplicate but the seat stands.
	OutcomeAlreadySponsored VerifyOutcome = "already-sponsored"
)

// VerifyResult is the resolution of a verification key.
type VerifyResult struct {
	Outcome     VerifyOutcome
	Sponsorship *Sponsorship
}

// List fetches every sponsorship recorded under a license, in ledger order.
func (c *Client) List(ctx context.Context, licenseID int) ([]Sponsorship, error) {
	var sponsorships []Sponsorship
	if err := c.request(ctx, http.MethodGet, "/sponsorship/"+strconv.Itoa(licenseID), nil, &sponsorships); err != nil {
		return nil, err
	}
	return sponsorships, nil
}

// Create records a pending sponsorship for a user under a license and
// returns it with the verification key the ledger minted.
func (c *Client) Create(ctx context.Context, licenseID int, user string) (*Sponsorship, error) {
	body := map[string]string{"npm_user": user}
	var sp Sponsorship
	if err := c.request(ctx, http.MethodPut, "/sponsorship/"+strconv.Itoa(licenseID), body, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// Verify accepts a verification key. The ledger answers a duplicate-seat
// conflict with 409, which callers treat as the seat already standing.
func (c *Client) Verify(ctx context.Context, key string) (*VerifyResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sponsorship/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("sponsor: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sponsor: POST /sponsorship/%s: %w", key, err)
	}
	defer resp.Body.Close()

	log.Debug().Int("status", resp.StatusCode).Msg("Sponsorship verify")

	switch {
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &VerifyResult{Outcome: OutcomeAlreadySponsored}, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 400:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sponsor: verify: status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var sp Sponsorship
	if err := json.NewDecoder(resp.Body).Decode(&sp); err != nil {
		return nil, fmt.Errorf("sponsor: decode response: %w", err)
	}
	return &VerifyResult{Outcome: OutcomeVerified, Sponsorship: &sp}, nil
}

// Revoke removes a user's sponsorship under a license.
func (c *Client) Revoke(ctx context.Context, licenseID int, user string) (*Sponsorship, error) {
	path := "/sponsorship/" + strconv.Itoa(licenseID) + "/" + url.PathEscape(user)
	var sp Sponsorship
	if err := c.request(ctx, http.MethodDelete, path, nil, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sponsor: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sponsor: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sponsor: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Sponsorship request")

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sponsor: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sponsor: decode response: %w", err)
	}
	return nil
}
