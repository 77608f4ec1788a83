// Package auth issues the short-lived, domain-scoped credential handed to an
// executed function. A token carries exactly the tenant's own privileges and
// is valid for a single job's execution window; it is never cached, reused
// across jobs, or logged.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skirmish-gg/dispatch/errors"
)

// Token is an ephemeral bearer credential scoped to one domain.
type Token struct {
	Value     string
	DomainID  string
	ExpiresAt time.Time
}

// LogValue keeps the token value out of log output no matter how the token
// is logged.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("domain", t.DomainID),
		slog.String("value", "[redacted]"),
	)
}

// Valid reports whether the token can still be used at the given time.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && (t.ExpiresAt.IsZero() || now.Before(t.ExpiresAt))
}

// Issuer mints a fresh credential for one job's domain.
type Issuer interface {
	Issue(ctx context.Context, domainID string) (*Token, error)
}

// Options configure the API issuer.
type Options struct {
	// BaseURL of the platform admin API.
	BaseURL string

	// ClientID and ClientSecret identify this worker deployment to the
	// admin API.
	ClientID     string
	ClientSecret string

	// RequestTimeout bounds each issuance call.
	RequestTimeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// DefaultOptions returns default issuer options
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 10 * time.Second,
	}
}

// APIIssuer requests domain tokens from the platform's admin API. The admin
// API is the only party that can mint tenant credentials; the worker itself
// never holds signing material.
type APIIssuer struct {
	options Options
	client  *http.Client
}

// NewAPIIssuer creates an issuer against the platform admin API.
func NewAPIIssuer(options Options) *APIIssuer {
	client := options.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: options.RequestTimeout}
	}
	return &APIIssuer{options: options, client: client}
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue mints a token scoped to domainID. A disabled or unknown domain
// yields a TenantUnavailableError and the job must not proceed to execution.
func (i *APIIssuer) Issue(ctx context.Context, domainID string) (*Token, error) {
	if domainID == "" {
		return nil, errors.NewTenantUnavailable(domainID, fmt.Errorf("empty domain id"))
	}

	body, err := json.Marshal(map[string]string{"domainId": domainID})
	if err != nil {
		return nil, err
	}

	url := i.options.BaseURL + "/admin/domains/" + domainID + "/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", domainID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(i.options.ClientID, i.options.ClientSecret)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issue token for %s: %w", domainID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return nil, errors.NewTenantUnavailable(domainID,
			fmt.Errorf("admin API returned %s", resp.Status))
	default:
		return nil, fmt.Errorf("issue token for %s: admin API returned %s", domainID, resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("issue token for %s: decode response: %w", domainID, err)
	}
	if tr.Token == "" {
		return nil, fmt.Errorf("issue token for %s: admin API returned empty token", domainID)
	}

	return &Token{
		Value:     tr.Token,
		DomainID:  domainID,
		ExpiresAt: tr.ExpiresAt,
	}, nil
}
