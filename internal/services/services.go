// package services defines the [Gateway] interface for talking to the remote tracker
package services

import (
	"context"
	"time"
)

// Resource names a paged collection on the remote tracker.
type Resource string

const (
	ResourceUsers    Resource = "users"
	ResourceProjects Resource = "projects"
	ResourceIssues   Resource = "issues"
)

// Filter keys understood by [Gateway.FetchPage].
const (
	FilterProject  = "project"  // issues: project key or id; projects: project id
	FilterAssignee = "assignee" // issues: assignee account id
	FilterKey      = "key"      // issues: a single issue key
)

// Record is one raw remote object as decoded from JSON.
type Record = map[string]any

// PageRequest describes one bounded read against the remote tracker.
type PageRequest struct {
	AccessToken string
	TenantKey   string
	Resource    Resource
	Filters     map[string]string
	Offset      int
	Limit       int
}

// Page is one page of raw records in the order the remote returned them.
type Page struct {
	Records []Record
	HasMore bool
}

// ClientCredentials is the OAuth client registration used to exchange refresh tokens.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// TokenGrant is the result of a token exchange.
//
// RefreshToken is always a new single-use value; the one presented is consumed.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scopes       []string
}

// Site is a tenant the authorized user can reach.
type Site struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// Gateway defines the narrow surface the sync engine and token coordinator need from the remote tracker.
type Gateway interface {
	// FetchPage performs one authenticated, rate-limited read.
	//
	// Non-2xx answers surface as [shared.ExternalServiceError] and connection failures as [shared.NetworkTransportError].
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)

	// ExchangeRefreshToken trades a refresh token for a new token pair. It is never retried.
	ExchangeRefreshToken(ctx context.Context, refreshToken string, client ClientCredentials, tenantKey string) (*TokenGrant, error)
}
