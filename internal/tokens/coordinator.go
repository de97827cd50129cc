// package tokens keeps each user's delegated credential usable for the remote tracker
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is how close to expiry an access token may get before it is refreshed.
const DefaultRefreshBuffer = 5 * time.Minute

// TokenState summarizes a credential for status displays.
type TokenState string

const (
	StateValid      TokenState = "valid"
	StateRefreshing TokenState = "refreshing"
	StateFailed     TokenState = "failed"
	StateMissing    TokenState = "missing"
)

// CredentialStore is the persistence the coordinator needs. [repositories.CredentialRepository] implements it.
type CredentialStore interface {
	Get(ctx context.Context, key models.CredentialKey) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	MarkStale(ctx context.Context, key models.CredentialKey, reason string) error
	Touch(ctx context.Context, key models.CredentialKey, at time.Time) error
	Delete(ctx context.Context, key models.CredentialKey) error
}

// Exchanger trades a refresh token for a new pair. [services.Gateway] satisfies it.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string, client services.ClientCredentials, tenantKey string) (*services.TokenGrant, error)
}

// TokenResult is delivered on the channel returned by [Coordinator.TokenAsync].
type TokenResult struct {
	Token string
	Err   error
}

// Coordinator hands out valid access tokens and serializes refreshes per credential.
//
// At most one refresh exchange is in flight per (user, provider). Every caller waiting on that
// refresh receives the same outcome, and the rotated pair is persisted before anyone receives it.
type Coordinator struct {
	store     CredentialStore
	exchanger Exchanger
	client    services.ClientCredentials
	clock     shared.Clock
	buffer    time.Duration
	logger    *log.Logger

	group      singleflight.Group
	mu         sync.Mutex
	refreshing map[models.CredentialKey]bool
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithClock replaces the wall clock.
func WithClock(clock shared.Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithRefreshBuffer sets how early before expiry a refresh is triggered.
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.buffer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a coordinator over store that refreshes through exchanger with the given client registration.
func NewCoordinator(store CredentialStore, exchanger Exchanger, client services.ClientCredentials, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		exchanger:  exchanger,
		client:     client,
		clock:      shared.SystemClock{},
		buffer:     DefaultRefreshBuffer,
		logger:     shared.NewLogger(nil),
		refreshing: make(map[models.CredentialKey]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = shared.WithLogger(c.logger, "component", "tokens")
	return c
}

// Token returns a usable access token for key, refreshing it first when it is within the buffer of expiry.
//
// Returns [shared.ErrAuthenticationRequired] when no credential exists and [shared.ErrTokenExpired]
// when the credential is stale or the refresh failed.
func (c *Coordinator) Token(ctx context.Context, key models.CredentialKey) (string, error) {
	cred, err := c.load(ctx, key)
	if err != nil {
		return "", err
	}

	if !cred.NeedsRefresh(c.clock.Now(), c.buffer) {
		c.touch(ctx, key)
		return cred.AccessToken, nil
	}

	return c.refresh(ctx, key)
}

// TokenAsync is the non-blocking form of [Coordinator.Token]. The channel receives exactly one result and is then closed.
func (c *Coordinator) TokenAsync(ctx context.Context, key models.CredentialKey) <-chan TokenResult {
	ch := make(chan TokenResult, 1)
	go func() {
		defer close(ch)
		token, err := c.Token(ctx, key)
		ch <- TokenResult{Token: token, Err: err}
	}()
	return ch
}

// TenantKey returns the provider site the credential for key is scoped to.
func (c *Coordinator) TenantKey(ctx context.Context, key models.CredentialKey) (string, error) {
	cred, err := c.load(ctx, key)
	if err != nil {
		return "", err
	}
	return cred.TenantKey, nil
}

// State reports whether key has a usable, refreshing, failed or missing credential.
func (c *Coordinator) State(ctx context.Context, key models.CredentialKey) (TokenState, error) {
	c.mu.Lock()
	busy := c.refreshing[key]
	c.mu.Unlock()
	if busy {
		return StateRefreshing, nil
	}

	cred, err := c.store.Get(ctx, key)
	if errors.Is(err, shared.ErrCredentialNotFound) {
		return StateMissing, nil
	}
	if err != nil {
		return "", err
	}
	if cred.Status == models.CredentialStale {
		return StateFailed, nil
	}
	return StateValid, nil
}

// Authorize stores the credential obtained from an initial or repeated user authorization, replacing any prior one.
func (c *Coordinator) Authorize(ctx context.Context, key models.CredentialKey, grant *services.TokenGrant, tenantKey string) (*models.Credential, error) {
	if grant == nil || grant.AccessToken == "" || grant.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token grant", shared.ErrInvalidInput)
	}

	now := c.clock.Now()
	cred := &models.Credential{
		UserID:       key.UserID,
		Provider:     key.Provider,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    now.Add(grant.ExpiresIn),
		TenantKey:    tenantKey,
		Scopes:       grant.Scopes,
		Status:       models.CredentialValid,
	}

	if existing, err := c.store.Get(ctx, key); err == nil {
		cred.ID = existing.ID
		cred.CreatedAt = existing.CreatedAt
	}

	if err := c.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	c.logger.Info("credential authorized", "key", key, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Disconnect removes the credential for key.
func (c *Coordinator) Disconnect(ctx context.Context, key models.CredentialKey) error {
	if err := c.store.Delete(ctx, key); err != nil {
		return err
	}
	c.logger.Info("credential disconnected", "key", key)
	return nil
}

func (c *Coordinator) load(ctx context.Context, key models.CredentialKey) (*models.Credential, error) {
	cred, err := c.store.Get(ctx, key)
	if errors.Is(err, shared.ErrCredentialNotFound) {
		return nil, fmt.Errorf("%w: no credential for %s", shared.ErrAuthenticationRequired, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.Status == models.CredentialStale {
		return nil, fmt.Errorf("%w: credential for %s needs re-authorization", shared.ErrTokenExpired, key)
	}
	return cred, nil
}

// refresh joins or starts the single in-flight refresh for key.
//
// The exchange runs detached from the caller's cancellation so a rotated pair is always persisted;
// a cancelled caller stops waiting but does not abandon the refresh.
func (c *Coordinator) refresh(ctx context.Context, key models.CredentialKey) (string, error) {
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), key)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, key models.CredentialKey) (string, error) {
	c.setRefreshing(key, true)
	defer c.setRefreshing(key, false)

	// A refresh that finished just before this one started has already rotated the pair.
	cred, err := c.load(ctx, key)
	if err != nil {
		return "", err
	}
	now := c.clock.Now()
	if !cred.NeedsRefresh(now, c.buffer) {
		return cred.AccessToken, nil
	}

	logger := shared.WithLogger(c.logger, "key", key)
	logger.Debug("refreshing access token", "expires_at", cred.ExpiresAt)

	grant, err := c.exchanger.ExchangeRefreshToken(ctx, cred.RefreshToken, c.client, cred.TenantKey)
	if err != nil {
		logger.Warn("token refresh failed", "err", err)
		if markErr := c.store.MarkStale(ctx, key, err.Error()); markErr != nil {
			logger.Error("failed to mark credential stale", "err", markErr)
		}
		return "", fmt.Errorf("%w: refresh failed: %v", shared.ErrTokenExpired, err)
	}

	now = c.clock.Now()
	cred.AccessToken = grant.AccessToken
	cred.RefreshToken = grant.RefreshToken
	cred.ExpiresAt = now.Add(grant.ExpiresIn)
	cred.Status = models.CredentialValid
	cred.StatusReason = ""
	cred.LastUsedAt = &now
	if len(grant.Scopes) > 0 {
		cred.Scopes = grant.Scopes
	}

	if err := c.store.Save(ctx, cred); err != nil {
		logger.Error("failed to persist refreshed credential", "err", err)
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	logger.Info("access token refreshed", "expires_at", cred.ExpiresAt)
	return cred.AccessToken, nil
}

func (c *Coordinator) setRefreshing(key models.CredentialKey, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		c.refreshing[key] = true
	} else {
		delete(c.refreshing, key)
	}
}

func (c *Coordinator) touch(ctx context.Context, key models.CredentialKey) {
	if err := c.store.Touch(ctx, key, c.clock.Now()); err != nil {
		c.logger.Debug("failed to record credential use", "key", key, "err", err)
	}
}
