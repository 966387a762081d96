// Package directory provides the HTTP client for the membership directory
// service, which owns user accounts, organization records, and membership
// rosters.
package directory

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

	"github.com/registryhq/orgcp/internal/orgs"
)

// ErrNotFound is returned when the directory has no record for the
// requested user, organization, or membership.
var ErrNotFound = errors.New("directory: not found")

// membersPerPage matches the directory's maximum page size.
const membersPerPage = 100

// ClientConfig holds the connection settings for the directory service.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the membership directory over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a directory client for the given base URL.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("directory: base URL is required")
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

// User is an account record in the directory.
type User struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	FullName  string `json:"fullname,omitempty"`
	SiteAdmin bool   `json:"site_admin"`
}

// MemberPage is one page of an organization's membership roster.
type MemberPage struct {
	Count int           `json:"count"`
	Items []orgs.Member `json:"items"`
}

// GetUser fetches a single account by name.
func (c *Client) GetUser(ctx context.Context, name string) (*User, error) {
	var user User
	if err := c.request(ctx, http.MethodGet, "/user/"+url.PathEscape(name), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrg fetches the organization record for a scope.
func (c *Client) GetOrg(ctx context.Context, scope string) (*orgs.Org, error) {
	var org orgs.Org
	if err := c.request(ctx, http.MethodGet, "/org/"+url.PathEscape(scope), nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// ListMembers fetches one page of the organization's roster. Pages are
// zero-indexed and hold up to 100 members.
func (c *Client) ListMembers(ctx context.Context, scope string, page int) (*MemberPage, error) {
	path := fmt.Sprintf("/org/%s/user?per_page=%d&page=%d", url.PathEscape(scope), membersPerPage, page)
	var members MemberPage
	if err := c.request(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return &members, nil
}

// AddMember adds or updates a membership row for the organization.
func (c *Client) AddMember(ctx context.Context, scope, user string, role orgs.Role) (*orgs.Member, error) {
	body := map[string]string{"user": user, "role": string(role)}
	var member orgs.Member
	if err := c.request(ctx, http.MethodPut, "/org/"+url.PathEscape(scope)+"/user", body, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

// RemoveMember soft-deletes a membership row.
func (c *Client) RemoveMember(ctx context.Context, scope, user string) (*orgs.Member, error) {
	path := "/org/" + url.PathEscape(scope) + "/user/" + url.PathEscape(user)
	var member orgs.Member
	if err := c.request(ctx, http.MethodDelete, path, nil, &member); err != nil {
		return nil, err
	}
	return &member, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("directory: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("directory: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Directory request")

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("directory: %s %s: status %d: %s", method, path, resp.StatusCode, strconv.Quote(string(payload)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode response: %w", err)
	}
	return nil
}
