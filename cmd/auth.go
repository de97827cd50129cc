package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/trackx/internal/server"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
	"github.com/desertthunder/trackx/internal/tokens"
	"github.com/desertthunder/trackx/internal/ui"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the authorization code flow through a local callback server and stores the resulting credential.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}
	if r.tracker == nil {
		return fmt.Errorf("%w: login requires the tracker service", shared.ErrNotImplemented)
	}

	state, err := shared.GenerateState()
	if err != nil {
		return fmt.Errorf("failed to generate state token: %w", err)
	}

	handler := server.NewOAuthHandler(r.tracker, state)
	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	srv := server.NewCallbackServer(addr, handler, r.logger)
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := r.tracker.AuthCodeURL(state)
	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		r.writePlain("→ Opening browser for %s authorization...\n", r.tracker.Name())
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warnf("failed to open browser automatically %v", err)
			r.writePlainln("⚠ Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)
	grant, err := handler.Wait(ctx, srv, timeout)
	if err != nil {
		return err
	}

	sites, err := r.tracker.AccessibleResources(ctx, grant.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to list accessible sites: %w", err)
	}
	site, err := pickSite(sites, cmd.String("site"))
	if err != nil {
		return err
	}

	cred, err := r.tokens.Authorize(ctx, r.credentialKey(cmd), grant, site.ID)
	if err != nil {
		return err
	}

	r.logger.Info("credential stored", "user", cred.UserID, "provider", cred.Provider, "site", site.Name)
	r.writePlain("%s Connected to %s (%s)\n", ui.Styles.OK("✓"), site.Name, site.URL)
	r.writePlain("Access token expires %s\n", cred.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// pickSite selects the site matching want by id, name or URL, or the first site when want is empty.
func pickSite(sites []services.Site, want string) (*services.Site, error) {
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: the grant has no accessible sites", shared.ErrAuthFailed)
	}
	if want == "" {
		return &sites[0], nil
	}

	names := make([]string, 0, len(sites))
	for i, s := range sites {
		if s.ID == want || strings.EqualFold(s.Name, want) || strings.EqualFold(strings.TrimSuffix(s.URL, "/"), strings.TrimSuffix(want, "/")) {
			return &sites[i], nil
		}
		names = append(names, s.Name)
	}
	return nil, fmt.Errorf("%w: site %q not accessible (have: %s)", shared.ErrInvalidArgument, want, strings.Join(names, ", "))
}

type credentialStatus struct {
	UserID     string            `json:"user_id"`
	Provider   string            `json:"provider"`
	State      tokens.TokenState `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	TenantKey  string            `json:"tenant_key"`
	Scopes     []string          `json:"scopes,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
}

// AuthStatus lists stored credentials with their coordinator state.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	creds, err := r.credentials.List(ctx)
	if err != nil {
		return err
	}

	statuses := make([]credentialStatus, 0, len(creds))
	for _, c := range creds {
		state, err := r.tokens.State(ctx, c.Key())
		if err != nil {
			return err
		}
		statuses = append(statuses, credentialStatus{
			UserID:     c.UserID,
			Provider:   c.Provider,
			State:      state,
			Reason:     c.StatusReason,
			TenantKey:  c.TenantKey,
			Scopes:     c.Scopes,
			ExpiresAt:  c.ExpiresAt,
			LastUsedAt: c.LastUsedAt,
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(statuses, true)
	}

	if len(statuses) == 0 {
		r.writePlain("No credentials stored. Run 'trackx auth login'.\n")
		return nil
	}

	for _, s := range statuses {
		r.writePlain("%s/%s: %s\n", s.UserID, s.Provider, ui.Styles.TokenState(s.State))
		r.writePlain("  Site:      %s\n", s.TenantKey)
		r.writePlain("  Expires:   %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
		if s.LastUsedAt != nil {
			r.writePlain("  Last used: %s\n", s.LastUsedAt.Local().Format(time.RFC1123))
		}
		if s.Reason != "" {
			r.writePlain("  Reason:    %s\n", ui.Styles.Err(s.Reason))
		}
	}
	return nil
}

// AuthLogout deletes the stored credential for the user.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	key := r.credentialKey(cmd)
	if err := r.tokens.Disconnect(ctx, key); err != nil {
		return err
	}
	return r.writePlain("✓ Removed credential for %s\n", key)
}
