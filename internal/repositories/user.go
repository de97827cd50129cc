package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

// UserRepository implements [models.EntityStore] for mirrored remote [models.User] accounts.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

var userUpdatable = map[string]bool{
	"display_name": true, "email": true, "account_type": true, "active": true, "time_zone": true,
}

const userColumns = `id, remote_id, display_name, email, account_type, active, time_zone, created_at, updated_at`

// Create inserts a new user with a generated ID
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	user.ID = shared.GenerateID()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.RemoteID, user.DisplayName, nullString(user.Email), user.AccountType,
		user.Active, nullString(user.TimeZone), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// Get retrieves a user by local ID
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByRemoteID retrieves a user by remote account ID
func (r *UserRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE remote_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteID), remoteID)
}

// UpdateFields writes only the changed columns of a user
func (r *UserRepository) UpdateFields(ctx context.Context, id string, changes []models.FieldChange) error {
	return updateColumns(ctx, r.db, "users", id, userUpdatable, changes, time.Now().UTC())
}

// List retrieves all users matching the given criteria
func (r *UserRepository) List(ctx context.Context, criteria map[string]any) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1 = 1`
	args := []any{}

	if email, ok := criteria["email"].(string); ok && email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}

	if active, ok := criteria["active"].(bool); ok {
		query += " AND active = ?"
		args = append(args, active)
	}

	query += " ORDER BY display_name ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return users, nil
}

func (r *UserRepository) scanOne(row *sql.Row, ref string) (*models.User, error) {
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", shared.ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func scanUser(s scanner) (*models.User, error) {
	var (
		u        models.User
		email    sql.NullString
		timeZone sql.NullString
	)

	err := s.Scan(&u.ID, &u.RemoteID, &u.DisplayName, &email, &u.AccountType, &u.Active, &timeZone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Email = stringPtr(email)
	u.TimeZone = stringPtr(timeZone)
	return &u, nil
}
