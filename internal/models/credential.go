package models

import (
	"fmt"
	"strings"
	"time"
)

// CredentialStatus records whether a credential can still be refreshed.
type CredentialStatus string

const (
	CredentialValid CredentialStatus = "valid"
	CredentialStale CredentialStatus = "stale" // refresh failed; the user must re-authorize
)

// CredentialKey identifies the single credential a user holds for a provider.
type CredentialKey struct {
	UserID   string
	Provider string
}

func (k CredentialKey) String() string {
	return k.UserID + "/" + k.Provider
}

// Credential is a delegated-access token pair scoped to one user and one remote provider.
type Credential struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TenantKey    string // provider-specific site/cloud identifier
	Scopes       []string
	Status       CredentialStatus
	StatusReason string
	LastUsedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key returns the (user, provider) pair identifying c.
func (c *Credential) Key() CredentialKey {
	return CredentialKey{UserID: c.UserID, Provider: c.Provider}
}

// NeedsRefresh reports whether the access token expires within buffer of now.
func (c *Credential) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	return !c.ExpiresAt.After(now.Add(buffer))
}

// ScopeString joins scopes for storage.
func (c *Credential) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}

// Validate checks required credential fields.
func (c *Credential) Validate() error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("credential user_id is required")
	case c.Provider == "":
		return fmt.Errorf("credential provider is required")
	case c.AccessToken == "":
		return fmt.Errorf("credential access_token is required")
	case c.RefreshToken == "":
		return fmt.Errorf("credential refresh_token is required")
	case c.ExpiresAt.IsZero():
		return fmt.Errorf("credential expires_at is required")
	}
	if c.Status != CredentialValid && c.Status != CredentialStale {
		return fmt.Errorf("invalid credential status %q", c.Status)
	}
	return nil
}
