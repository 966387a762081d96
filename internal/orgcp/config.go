// Package orgcp is the organization control plane service: it terminates
// HTTP, resolves the caller, and drives the reconciliation workflows.
package orgcp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the control plane.
type Config struct {
	DataDir         string
	BindAddress     string
	Port            int
	DirectoryURL    string
	BillingURL      string
	SponsorURL      string
	Plan            string
	SeatPrice       int
	MinSeats        int
	NoticeTTL       time.Duration
	UpstreamTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

// NoticesDir returns the directory holding the one-time notice database.
func (c *Config) NoticesDir() string {
	return filepath.Join(c.DataDir, "notices")
}

// LoadConfig loads control plane configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("ORGCP_PORT", 8460)
	if err != nil {
		return nil, err
	}
	seatPrice, err := envOrDefaultInt("ORGCP_SEAT_PRICE", 7)
	if err != nil {
		return nil, err
	}
	minSeats, err := envOrDefaultInt("ORGCP_MIN_SEATS", 2)
	if err != nil {
		return nil, err
	}
	noticeTTL, err := envOrDefaultDuration("ORGCP_NOTICE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := envOrDefaultDuration("ORGCP_UPSTREAM_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:         envOrDefault("ORGCP_DATA_DIR", "/data"),
		BindAddress:     envOrDefault("ORGCP_BIND_ADDRESS", "0.0.0.0"),
		Port:            port,
		DirectoryURL:    strings.TrimSpace(os.Getenv("ORGCP_DIRECTORY_URL")),
		BillingURL:      strings.TrimSpace(os.Getenv("ORGCP_BILLING_URL")),
		SponsorURL:      strings.TrimSpace(os.Getenv("ORGCP_SPONSOR_URL")),
		Plan:            envOrDefault("ORGCP_PLAN", "paid-org-7"),
		SeatPrice:       seatPrice,
		MinSeats:        minSeats,
		NoticeTTL:       noticeTTL,
		UpstreamTimeout: upstreamTimeout,
		LogLevel:        envOrDefault("ORGCP_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("ORGCP_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate control plane config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.DirectoryURL == "" {
		missing = append(missing, "ORGCP_DIRECTORY_URL")
	}
	if c.BillingURL == "" {
		missing = append(missing, "ORGCP_BILLING_URL")
	}
	if c.SponsorURL == "" {
		missing = append(missing, "ORGCP_SPONSOR_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("ORGCP_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SeatPrice < 1 {
		return fmt.Errorf("ORGCP_SEAT_PRICE must be greater than 0, got %d", c.SeatPrice)
	}
	if c.MinSeats < 1 {
		return fmt.Errorf("ORGCP_MIN_SEATS must be greater than 0, got %d", c.MinSeats)
	}
	if c.NoticeTTL <= 0 {
		return fmt.Errorf("ORGCP_NOTICE_TTL must be positive, got %s", c.NoticeTTL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("ORGCP_UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}

	for _, upstream := range []struct {
		key   string
		value string
	}{
		{"ORGCP_DIRECTORY_URL", c.DirectoryURL},
		{"ORGCP_BILLING_URL", c.BillingURL},
		{"ORGCP_SPONSOR_URL", c.SponsorURL},
	} {
		parsed, err := url.Parse(upstream.value)
		if err != nil {
			return fmt.Errorf("%s must be a valid URL: %w", upstream.key, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme", upstream.key)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", upstream.key)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
