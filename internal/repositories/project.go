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

// ProjectRepository implements [models.EntityStore] for mirrored [models.Project] rows.
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new [ProjectRepository] with the given database connection
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

var projectUpdatable = map[string]bool{
	"project_key": true, "name": true, "description": true,
	"lead_remote_id": true, "category": true, "archived": true,
}

const projectColumns = `id, remote_id, project_key, name, description, lead_remote_id, category, archived, created_at, updated_at`

// Create inserts a new project with a generated ID
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	project.ID = shared.GenerateID()
	project.CreatedAt = now
	project.UpdatedAt = now

	query := `INSERT INTO projects (` + projectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		project.ID, project.RemoteID, project.Key, project.Name, project.Description,
		nullString(project.LeadRemoteID), nullString(project.Category), project.Archived,
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	return nil
}

// Get retrieves a project by local ID
func (r *ProjectRepository) Get(ctx context.Context, id string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByRemoteID retrieves a project by its remote identifier
func (r *ProjectRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE remote_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteID), remoteID)
}

// UpdateFields writes only the changed columns of a project
func (r *ProjectRepository) UpdateFields(ctx context.Context, id string, changes []models.FieldChange) error {
	return updateColumns(ctx, r.db, "projects", id, projectUpdatable, changes, time.Now().UTC())
}

// List retrieves projects matching the given criteria ordered by key
func (r *ProjectRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1 = 1`
	args := []any{}

	if archived, ok := criteria["archived"].(bool); ok {
		query += " AND archived = ?"
		args = append(args, archived)
	}

	if key, ok := criteria["key"].(string); ok && key != "" {
		query += " AND project_key = ?"
		args = append(args, key)
	}

	query += " ORDER BY project_key ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return projects, nil
}

func (r *ProjectRepository) scanOne(row *sql.Row, ref string) (*models.Project, error) {
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", shared.ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return project, nil
}

func scanProject(s scanner) (*models.Project, error) {
	var (
		p        models.Project
		lead     sql.NullString
		category sql.NullString
	)

	err := s.Scan(&p.ID, &p.RemoteID, &p.Key, &p.Name, &p.Description, &lead, &category, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.LeadRemoteID = stringPtr(lead)
	p.Category = stringPtr(category)
	return &p, nil
}
