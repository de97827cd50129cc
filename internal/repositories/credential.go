package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

// CredentialRepository persists one [models.Credential] per (user, provider).
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `
	id, user_id, provider, access_token, refresh_token, expires_at, tenant_key,
	scopes, status, status_reason, last_used_at, created_at, updated_at
`

// Get retrieves the credential for key, or [shared.ErrCredentialNotFound].
func (r *CredentialRepository) Get(ctx context.Context, key models.CredentialKey) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = ? AND provider = ?`

	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, key.UserID, key.Provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	return cred, nil
}

// Save inserts or replaces the credential for its (user, provider) in a single statement.
//
// The token triple, expiry and status are written together so readers never observe a half-rotated credential.
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	if cred.ID == "" {
		cred.ID = shared.GenerateID()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	if cred.Status == "" {
		cred.Status = models.CredentialValid
	}
	cred.UpdatedAt = now

	if err := cred.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			tenant_key = excluded.tenant_key,
			scopes = excluded.scopes,
			status = excluded.status,
			status_reason = excluded.status_reason,
			last_used_at = COALESCE(excluded.last_used_at, credentials.last_used_at),
			updated_at = excluded.updated_at
	`

	var lastUsed any
	if cred.LastUsedAt != nil {
		lastUsed = cred.LastUsedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.Provider,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt.UTC(),
		cred.TenantKey,
		cred.ScopeString(),
		string(cred.Status),
		emptyAsNull(cred.StatusReason),
		lastUsed,
		cred.CreatedAt.UTC(),
		cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}

	return nil
}

// MarkStale flags the credential as unusable until the user re-authorizes.
func (r *CredentialRepository) MarkStale(ctx context.Context, key models.CredentialKey, reason string) error {
	query := `
		UPDATE credentials
		SET status = ?, status_reason = ?, updated_at = ?
		WHERE user_id = ? AND provider = ?
	`
	return r.exec(ctx, key, "mark credential stale", query, string(models.CredentialStale), reason, time.Now().UTC(), key.UserID, key.Provider)
}

// Touch records when the credential last handed out a token.
func (r *CredentialRepository) Touch(ctx context.Context, key models.CredentialKey, at time.Time) error {
	query := `UPDATE credentials SET last_used_at = ? WHERE user_id = ? AND provider = ?`
	return r.exec(ctx, key, "touch credential", query, at.UTC(), key.UserID, key.Provider)
}

// Delete removes the credential for key (explicit disconnect).
func (r *CredentialRepository) Delete(ctx context.Context, key models.CredentialKey) error {
	query := `DELETE FROM credentials WHERE user_id = ? AND provider = ?`
	return r.exec(ctx, key, "delete credential", query, key.UserID, key.Provider)
}

// List retrieves every stored credential ordered by user and provider.
func (r *CredentialRepository) List(ctx context.Context) ([]*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials ORDER BY user_id ASC, provider ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return creds, nil
}

func (r *CredentialRepository) exec(ctx context.Context, key models.CredentialKey, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrCredentialNotFound, key)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		cred         models.Credential
		scopes       string
		status       string
		statusReason sql.NullString
		lastUsedAt   sql.NullTime
	)

	err := s.Scan(
		&cred.ID, &cred.UserID, &cred.Provider, &cred.AccessToken, &cred.RefreshToken,
		&cred.ExpiresAt, &cred.TenantKey, &scopes, &status, &statusReason, &lastUsedAt,
		&cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scopes != "" {
		cred.Scopes = strings.Fields(scopes)
	}
	cred.Status = models.CredentialStatus(status)
	cred.StatusReason = statusReason.String
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		cred.LastUsedAt = &t
	}

	return &cred, nil
}
