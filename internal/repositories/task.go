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

// TaskRepository implements [models.EntityStore] for mirrored [models.Task] rows.
//
// Tasks reference their project through a foreign key on projects.id.
type TaskRepository struct {
	db *sql.DB
}

// NewTaskRepository creates a new [TaskRepository] with the given database connection
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

var taskUpdatable = map[string]bool{
	"issue_key": true, "project_id": true, "summary": true, "description": true,
	"status": true, "priority": true, "assignee_remote_id": true, "reporter_remote_id": true,
	"story_points": true, "estimate_seconds": true, "due_date": true,
	"remote_created_at": true, "remote_updated_at": true,
}

const taskColumns = `
	id, remote_id, issue_key, project_id, summary, description, status, priority,
	assignee_remote_id, reporter_remote_id, story_points, estimate_seconds, due_date,
	remote_created_at, remote_updated_at, created_at, updated_at
`

// Create inserts a new task with a generated ID
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	task.ID = shared.GenerateID()
	task.CreatedAt = now
	task.UpdatedAt = now

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.RemoteID, task.Key, task.ProjectID, task.Summary, task.Description,
		string(task.Status), string(task.Priority),
		nullString(task.AssigneeRemoteID), nullString(task.ReporterRemoteID),
		nullFloat(task.StoryPoints), nullInt(task.EstimateSeconds), nullTime(task.DueDate),
		task.RemoteCreatedAt, task.RemoteUpdatedAt, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// Get retrieves a task by local ID
func (r *TaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id), id)
}

// GetByRemoteID retrieves a task by remote issue ID
func (r *TaskRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE remote_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteID), remoteID)
}

// UpdateFields writes only the changed columns of a task
func (r *TaskRepository) UpdateFields(ctx context.Context, id string, changes []models.FieldChange) error {
	return updateColumns(ctx, r.db, "tasks", id, taskUpdatable, changes, time.Now().UTC())
}

// List retrieves tasks matching the given criteria ordered by issue key
func (r *TaskRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1 = 1`
	args := []any{}

	if projectID, ok := criteria["project_id"].(string); ok && projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}

	if assignee, ok := criteria["assignee_remote_id"].(string); ok && assignee != "" {
		query += " AND assignee_remote_id = ?"
		args = append(args, assignee)
	}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY issue_key ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) scanOne(row *sql.Row, ref string) (*models.Task, error) {
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", shared.ErrEntityNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	return task, nil
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		t           models.Task
		status      string
		priority    string
		assignee    sql.NullString
		reporter    sql.NullString
		storyPoints sql.NullFloat64
		estimate    sql.NullInt64
		dueDate     sql.NullTime
	)

	err := s.Scan(
		&t.ID, &t.RemoteID, &t.Key, &t.ProjectID, &t.Summary, &t.Description, &status, &priority,
		&assignee, &reporter, &storyPoints, &estimate, &dueDate,
		&t.RemoteCreatedAt, &t.RemoteUpdatedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.Priority = models.Priority(priority)
	t.AssigneeRemoteID = stringPtr(assignee)
	t.ReporterRemoteID = stringPtr(reporter)
	if storyPoints.Valid {
		v := storyPoints.Float64
		t.StoryPoints = &v
	}
	if estimate.Valid {
		v := estimate.Int64
		t.EstimateSeconds = &v
	}
	if dueDate.Valid {
		v := dueDate.Time.UTC()
		t.DueDate = &v
	}
	t.RemoteCreatedAt = t.RemoteCreatedAt.UTC()
	t.RemoteUpdatedAt = t.RemoteUpdatedAt.UTC()

	return &t, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
