// Package billing provides the HTTP client for the billing service, which
// owns customer profiles and per-organization license subscriptions.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when the billing service has no record for the
// requested customer or subscription. A customer lookup returning this is
// how "has never entered payment information" surfaces.
var ErrNotFound = errors.New("billing: not found")

// ClientConfig holds the connection settings for the billing service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the billing service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a billing client for the given base URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("billing: base URL is required")
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

// Customer is a billing profile for an account.
type Customer struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	CardBrand  string `json:"card_brand,omitempty"`
	CardLast4  string `json:"card_last4,omitempty"`
	CardExpiry string `json:"card_expiry,omitempty"`
}

// Subscription is one organization license paid for by a customer.
type Subscription struct {
	ID                 string `json:"id"`
	Org                string `json:"org"`
	Customer           string `json:"customer"`
	Plan               string `json:"plan"`
	Quantity           int    `json:"quantity"`
	LicenseID          int    `json:"license_id"`
	Amount             int    `json:"amount"`
	Status             string `json:"status"`
	Interval           string `json:"interval"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

// CreateSubscriptionRequest describes a new license subscription.
type CreateSubscriptionRequest struct {
	Org      string `json:"org"`
	Plan     string `json:"plan"`
	Quantity int    `json:"quantity"`
}

// GetCustomer fetches the billing profile for an account. ErrNotFound means
// the account has never become a paying customer.
func (c *Client) GetCustomer(ctx context.Context, user string) (*Customer, error) {
	var customer Customer
	if err := c.request(ctx, http.MethodGet, "/customer/"+url.PathEscape(user), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListSubscriptions fetches every subscription held by a customer.
func (c *Client) ListSubscriptions(ctx context.Context, user string) ([]Subscription, error) {
	var subs []Subscription
	path := "/customer/" + url.PathEscape(user) + "/subscription"
	if err := c.request(ctx, http.MethodGet, path, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// GetOrgSubscriptions fetches the customer's subscriptions for one
// organization. An empty slice means the customer exists but holds no
// license for the organization; ErrNotFound means the account is not a
// customer at all. Callers depend on that distinction.
func (c *Client) GetOrgSubscriptions(ctx context.Context, user, org string) ([]Subscription, error) {
	var subs []Subscription
	path := "/customer/" + url.PathEscape(user) + "/subscription?org=" + url.QueryEscape(org)
	if err := c.request(ctx, http.MethodGet, path, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// CreateSubscription provisions a new license subscription for the customer.
func (c *Client) CreateSubscription(ctx context.Context, user string, req CreateSubscriptionRequest) (*Subscription, error) {
	var sub Subscription
	path := "/customer/" + url.PathEscape(user) + "/subscription"
	if err := c.request(ctx, http.MethodPut, path, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription by ID.
func (c *Client) CancelSubscription(ctx context.Context, user, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	path := "/customer/" + url.PathEscape(user) + "/subscription/" + url.PathEscape(subscriptionID)
	if err := c.request(ctx, http.MethodDelete, path, nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("billing: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("billing: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Billing request")

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("billing: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("billing: decode response: %w", err)
	}
	return nil
}
