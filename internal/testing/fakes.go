package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
)

// FakeClock is a [shared.Clock] that only moves when told to.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeGateway is an in-memory [services.Gateway] serving fixed datasets.
//
// Pages are cut from Data[resource] by offset and limit. Filters match the id of projects and the
// key, project key and assignee account of issues, the same way the remote query does.
type FakeGateway struct {
	mu    sync.Mutex
	Data  map[services.Resource][]services.Record
	calls []services.PageRequest

	// OnFetch runs before each page is served; call is 1-based. A non-nil error is returned as the page error.
	OnFetch func(ctx context.Context, call int, req services.PageRequest) error

	// Exchange overrides the default refresh behavior, which rotates to AT<n>/RT<n> with a one hour lifetime.
	Exchange  func(ctx context.Context, refreshToken string) (*services.TokenGrant, error)
	exchanges []string
	// ExchangeGate, when set, blocks every exchange until it is closed.
	ExchangeGate chan struct{}
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Data: map[services.Resource][]services.Record{}}
}

func (g *FakeGateway) FetchPage(ctx context.Context, req services.PageRequest) (*services.Page, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	call := len(g.calls)
	hook := g.OnFetch
	records := g.filter(req)
	g.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &shared.NetworkTransportError{Op: "fetch page", Err: err}
	}

	start := min(req.Offset, len(records))
	end := min(req.Offset+req.Limit, len(records))
	return &services.Page{Records: slices.Clone(records[start:end]), HasMore: end < len(records)}, nil
}

func (g *FakeGateway) filter(req services.PageRequest) []services.Record {
	all := g.Data[req.Resource]
	if len(req.Filters) == 0 {
		return all
	}

	var out []services.Record
	for _, r := range all {
		if matches(req.Resource, r, req.Filters) {
			out = append(out, r)
		}
	}
	return out
}

func matches(resource services.Resource, r services.Record, filters map[string]string) bool {
	switch resource {
	case services.ResourceProjects:
		if v := filters[services.FilterProject]; v != "" && fmt.Sprint(r["id"]) != v {
			return false
		}
	case services.ResourceIssues:
		fields, _ := r["fields"].(map[string]any)
		if v := filters[services.FilterKey]; v != "" && fmt.Sprint(r["key"]) != v {
			return false
		}
		if v := filters[services.FilterProject]; v != "" {
			project, _ := fields["project"].(map[string]any)
			if fmt.Sprint(project["key"]) != v && fmt.Sprint(project["id"]) != v {
				return false
			}
		}
		if v := filters[services.FilterAssignee]; v != "" {
			assignee, _ := fields["assignee"].(map[string]any)
			if fmt.Sprint(assignee["accountId"]) != v {
				return false
			}
		}
	}
	return true
}

func (g *FakeGateway) ExchangeRefreshToken(ctx context.Context, refreshToken string, _ services.ClientCredentials, _ string) (*services.TokenGrant, error) {
	if g.ExchangeGate != nil {
		<-g.ExchangeGate
	}

	g.mu.Lock()
	g.exchanges = append(g.exchanges, refreshToken)
	n := len(g.exchanges)
	exchange := g.Exchange
	g.mu.Unlock()

	if exchange != nil {
		return exchange(ctx, refreshToken)
	}
	return &services.TokenGrant{
		AccessToken:  fmt.Sprintf("AT%d", n+1),
		RefreshToken: fmt.Sprintf("RT%d", n+1),
		ExpiresIn:    time.Hour,
	}, nil
}

// Calls returns a copy of every page request served so far.
func (g *FakeGateway) Calls() []services.PageRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

// Exchanges returns the refresh tokens presented so far, in order.
func (g *FakeGateway) Exchanges() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.exchanges)
}

// MemoryCredentialStore is an in-memory credential store for coordinator tests.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[models.CredentialKey]models.Credential
	saves int
}

func NewMemoryCredentialStore(creds ...*models.Credential) *MemoryCredentialStore {
	s := &MemoryCredentialStore{creds: map[models.CredentialKey]models.Credential{}}
	for _, c := range creds {
		s.creds[c.Key()] = *c
	}
	return s
}

func (s *MemoryCredentialStore) Get(_ context.Context, key models.CredentialKey) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, key)
	}
	return &c, nil
}

func (s *MemoryCredentialStore) Save(_ context.Context, cred *models.Credential) error {
	if cred.Status == "" {
		cred.Status = models.CredentialValid
	}
	if err := cred.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cred
	if prev, ok := s.creds[cred.Key()]; ok && stored.LastUsedAt == nil {
		stored.LastUsedAt = prev.LastUsedAt
	}
	s.creds[cred.Key()] = stored
	s.saves++
	return nil
}

func (s *MemoryCredentialStore) MarkStale(_ context.Context, key models.CredentialKey, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[key]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, key)
	}
	c.Status = models.CredentialStale
	c.StatusReason = reason
	s.creds[key] = c
	return nil
}

func (s *MemoryCredentialStore) Touch(_ context.Context, key models.CredentialKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[key]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, key)
	}
	c.LastUsedAt = &at
	s.creds[key] = c
	return nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, key models.CredentialKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, key)
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemoryCredentialStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
