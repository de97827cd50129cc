// Tracker API implementation of [Gateway]
//
// Response shapes follow https://developer.atlassian.com/cloud/jira/platform/rest/v3/
package services

import (
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

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trackx/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	maxErrorBody   = 4096
	defaultTimeout = 30 * time.Second
)

// TrackerService implements [Gateway] for a Jira Cloud style REST API.
// Uses [oauth2] for token exchanges and a shared [rate.Limiter] for reads.
type TrackerService struct {
	config       *oauth2.Config
	baseURL      string
	resourcesURL string
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *log.Logger
}

// NewTrackerService creates a tracker gateway from the OAuth client registration and transport policy.
func NewTrackerService(client shared.OAuthClientConfig, tracker shared.TrackerConfig, logger *log.Logger) (*TrackerService, error) {
	if tracker.BaseURL == "" {
		return nil, fmt.Errorf("%w: tracker base_url", shared.ErrMissingConfig)
	}
	if tracker.TokenURL == "" {
		return nil, fmt.Errorf("%w: tracker token_url", shared.ErrMissingConfig)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	config := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURI,
		Scopes:       client.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   tracker.AuthURL,
			TokenURL:  tracker.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	limit := rate.Inf
	if tracker.RequestsPerSecond > 0 {
		limit = rate.Limit(tracker.RequestsPerSecond)
	}
	burst := max(tracker.Burst, 1)

	timeout := tracker.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &TrackerService{
		config:       config,
		baseURL:      strings.TrimRight(tracker.BaseURL, "/"),
		resourcesURL: tracker.ResourcesURL,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, burst),
		maxRetries:   max(tracker.MaxRetries, 0),
		initialDelay: tracker.RetryInitialDelay.Duration,
		maxDelay:     tracker.RetryMaxDelay.Duration,
		logger:       shared.WithLogger(logger, "component", "gateway"),
	}, nil
}

// SetHTTPClient replaces the HTTP client used for reads and token exchanges.
func (s *TrackerService) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

func (s *TrackerService) Name() string {
	return "Tracker"
}

// AuthCodeURL returns the authorization URL for user consent with offline access.
func (s *TrackerService) AuthCodeURL(state string) string {
	return s.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("audience", "api.atlassian.com"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for the first token pair.
func (s *TrackerService) Exchange(ctx context.Context, code string) (*TokenGrant, error) {
	token, err := s.config.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, tokenError("exchange authorization code", err)
	}
	return grantFromToken(token)
}

// ExchangeRefreshToken trades refreshToken for a new pair using the given client registration.
//
// The tenant key is not part of the token endpoint contract; it is accepted for providers that scope refreshes per site.
func (s *TrackerService) ExchangeRefreshToken(ctx context.Context, refreshToken string, client ClientCredentials, tenantKey string) (*TokenGrant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token", shared.ErrMissingCredentials)
	}

	config := *s.config
	if client.ClientID != "" {
		config.ClientID = client.ClientID
		config.ClientSecret = client.ClientSecret
	}

	s.logger.Debug("exchanging refresh token", "tenant", tenantKey)

	token, err := config.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenError("refresh token", err)
	}
	return grantFromToken(token)
}

// AccessibleResources lists the tenants the access token can reach.
func (s *TrackerService) AccessibleResources(ctx context.Context, accessToken string) ([]Site, error) {
	if s.resourcesURL == "" {
		return nil, fmt.Errorf("%w: tracker resources_url", shared.ErrMissingConfig)
	}

	var sites []Site
	if err := s.doRequest(ctx, accessToken, s.resourcesURL, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// FetchPage performs one read of req.Resource starting at req.Offset.
func (s *TrackerService) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if req.AccessToken == "" {
		return nil, shared.ErrAuthenticationRequired
	}
	if req.TenantKey == "" {
		return nil, fmt.Errorf("%w: tenant key", shared.ErrMissingArgument)
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: page limit must be positive", shared.ErrInvalidArgument)
	}

	switch req.Resource {
	case ResourceUsers:
		return s.fetchUsers(ctx, req)
	case ResourceProjects:
		if id := req.Filters[FilterProject]; id != "" {
			return s.fetchProject(ctx, req, id)
		}
		return s.fetchProjects(ctx, req)
	case ResourceIssues:
		return s.fetchIssues(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown resource %q", shared.ErrInvalidArgument, req.Resource)
	}
}

func (s *TrackerService) apiURL(tenant, endpoint string, query url.Values) string {
	u := fmt.Sprintf("%s/ex/jira/%s/rest/api/3/%s", s.baseURL, url.PathEscape(tenant), endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func pageQuery(req PageRequest) url.Values {
	q := url.Values{}
	q.Set("startAt", strconv.Itoa(req.Offset))
	q.Set("maxResults", strconv.Itoa(req.Limit))
	return q
}

func (s *TrackerService) fetchUsers(ctx context.Context, req PageRequest) (*Page, error) {
	var users []Record
	if err := s.doRequest(ctx, req.AccessToken, s.apiURL(req.TenantKey, "users/search", pageQuery(req)), &users); err != nil {
		return nil, err
	}
	return &Page{Records: users, HasMore: len(users) == req.Limit}, nil
}

type projectSearchResponse struct {
	Values []Record `json:"values"`
	IsLast bool     `json:"isLast"`
	Total  int      `json:"total"`
}

func (s *TrackerService) fetchProjects(ctx context.Context, req PageRequest) (*Page, error) {
	q := pageQuery(req)
	q.Set("expand", "description,lead")

	var response projectSearchResponse
	if err := s.doRequest(ctx, req.AccessToken, s.apiURL(req.TenantKey, "project/search", q), &response); err != nil {
		return nil, err
	}
	return &Page{Records: response.Values, HasMore: !response.IsLast}, nil
}

func (s *TrackerService) fetchProject(ctx context.Context, req PageRequest, id string) (*Page, error) {
	q := url.Values{}
	q.Set("expand", "description,lead")

	var project Record
	endpoint := "project/" + url.PathEscape(id)
	if err := s.doRequest(ctx, req.AccessToken, s.apiURL(req.TenantKey, endpoint, q), &project); err != nil {
		return nil, err
	}
	return &Page{Records: []Record{project}}, nil
}

type issueSearchResponse struct {
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Total      int      `json:"total"`
	Issues     []Record `json:"issues"`
}

func (s *TrackerService) fetchIssues(ctx context.Context, req PageRequest) (*Page, error) {
	q := pageQuery(req)
	q.Set("jql", BuildJQL(req.Filters))
	q.Set("fields", "*navigable")

	var response issueSearchResponse
	if err := s.doRequest(ctx, req.AccessToken, s.apiURL(req.TenantKey, "search", q), &response); err != nil {
		return nil, err
	}
	return &Page{
		Records: response.Issues,
		HasMore: response.StartAt+len(response.Issues) < response.Total,
	}, nil
}

// BuildJQL compiles issue filters into a JQL query with a stable order for paging.
func BuildJQL(filters map[string]string) string {
	var clauses []string
	for _, f := range []struct{ key, field string }{
		{FilterProject, "project"},
		{FilterAssignee, "assignee"},
		{FilterKey, "key"},
	} {
		if v := filters[f.key]; v != "" {
			clauses = append(clauses, fmt.Sprintf(`%s = "%s"`, f.field, escapeJQL(v)))
		}
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created ASC"
}

func escapeJQL(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

// doRequest performs an authenticated GET with rate limiting and bounded retries, decoding JSON into result.
func (s *TrackerService) doRequest(ctx context.Context, accessToken, apiURL string, result any) error {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt, lastErr)
			s.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "err", lastErr)
			if err := sleepContext(ctx, delay); err != nil {
				return &shared.NetworkTransportError{Op: "GET " + redact(apiURL), Err: err}
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return &shared.NetworkTransportError{Op: "rate limit wait", Err: err}
		}

		lastErr = s.do(ctx, accessToken, apiURL, result)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (s *TrackerService) do(ctx context.Context, accessToken, apiURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &shared.NetworkTransportError{Op: "GET " + redact(apiURL), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &shared.ExternalServiceError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
		}
	}

	return nil
}

func retryable(err error) bool {
	var netErr *shared.NetworkTransportError
	if errors.As(err, &netErr) {
		return true
	}
	var extErr *shared.ExternalServiceError
	return errors.As(err, &extErr) && extErr.Retryable()
}

// backoff returns the wait before the given retry attempt, preferring a server-provided Retry-After.
func (s *TrackerService) backoff(attempt int, lastErr error) time.Duration {
	var extErr *shared.ExternalServiceError
	if errors.As(lastErr, &extErr) && extErr.RetryAfter > 0 {
		if s.maxDelay > 0 && extErr.RetryAfter > s.maxDelay {
			return s.maxDelay
		}
		return extErr.RetryAfter
	}

	delay := s.initialDelay << (attempt - 1)
	if s.maxDelay > 0 && (delay > s.maxDelay || delay <= 0) {
		delay = s.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter reads either delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

type apiErrorBody struct {
	ErrorMessages []string `json:"errorMessages"`
	Message       string   `json:"message"`
}

func errorMessage(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.ErrorMessages) > 0 {
			return strings.Join(parsed.ErrorMessages, "; ")
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// redact drops the query string, which may carry user filters.
func redact(apiURL string) string {
	if i := strings.IndexByte(apiURL, '?'); i >= 0 {
		return apiURL[:i]
	}
	return apiURL
}

func (s *TrackerService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func tokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		msg := retrieveErr.ErrorCode
		if retrieveErr.ErrorDescription != "" {
			msg += ": " + retrieveErr.ErrorDescription
		}
		if msg == "" {
			msg = errorMessage(retrieveErr.Body)
		}
		return &shared.ExternalServiceError{StatusCode: status, Message: msg}
	}
	return &shared.NetworkTransportError{Op: op, Err: err}
}

func grantFromToken(token *oauth2.Token) (*TokenGrant, error) {
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token response missing access or refresh token", shared.ErrAuthFailed)
	}

	grant := &TokenGrant{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	switch {
	case token.ExpiresIn > 0:
		grant.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		grant.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		grant.Scopes = strings.Fields(scope)
	}

	return grant, nil
}
