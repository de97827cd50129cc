package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

const (
	defaultRunPageLimit = 50
	maxRunPageLimit     = 500
)

// SyncRunRepository persists ledger entries.
//
// Rows in a terminal state are never modified: every update is guarded on the stored state.
type SyncRunRepository struct {
	db *sql.DB
}

// NewSyncRunRepository creates a new SyncRunRepository with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

const syncRunColumns = `
	id, sequence, user_id, kind, state, target_id, target_name,
	items_created, items_updated, items_failed, items_total,
	error_message, error_details, metadata, started_at, completed_at,
	duration_ms, created_at, updated_at
`

// Create inserts a new run with generated ID and sequence
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "sync_runs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := time.Now().UTC()
	run.ID = shared.GenerateID()
	run.Sequence = sequence
	run.CreatedAt = now
	run.UpdatedAt = now

	details, metadata, err := encodeRunJSON(run)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_runs (` + syncRunColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.Sequence, run.UserID, string(run.Kind), string(run.State), run.TargetID, run.TargetName,
		run.Counters.Created, run.Counters.Updated, run.Counters.Failed, run.Counters.Total,
		emptyAsNull(run.ErrorMessage), details, metadata, run.StartedAt.UTC(), completedAt(run),
		durationMS(run), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	return nil
}

// Get retrieves a run by ID
func (r *SyncRunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = ?`

	run, err := scanSyncRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync run: %w", err)
	}
	return run, nil
}

// Update writes the mutable fields of a run that has not reached a terminal state.
//
// Returns [shared.ErrRunFinalized] when the stored row is already completed or failed.
func (r *SyncRunRepository) Update(ctx context.Context, run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	details, metadata, err := encodeRunJSON(run)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `
		UPDATE sync_runs
		SET state = ?, target_name = ?, items_created = ?, items_updated = ?,
			items_failed = ?, items_total = ?, error_message = ?, error_details = ?,
			metadata = ?, completed_at = ?, duration_ms = ?, updated_at = ?
		WHERE id = ? AND state NOT IN ('completed', 'failed')
	`

	result, err := r.db.ExecContext(ctx, query,
		string(run.State), run.TargetName, run.Counters.Created, run.Counters.Updated,
		run.Counters.Failed, run.Counters.Total, emptyAsNull(run.ErrorMessage), details,
		metadata, completedAt(run), durationMS(run), now, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.Get(ctx, run.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", shared.ErrRunFinalized, run.ID)
	}

	run.UpdatedAt = now
	return nil
}

// List retrieves one page of runs matching filter, newest first
func (r *SyncRunRepository) List(ctx context.Context, filter models.RunFilter) (*models.RunPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunPageLimit
	}
	if limit > maxRunPageLimit {
		limit = maxRunPageLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE 1 = 1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}

	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY sequence DESC LIMIT ? OFFSET ?"
	args = append(args, limit+1, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	page := &models.RunPage{Offset: offset, Limit: limit}
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		page.Runs = append(page.Runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if len(page.Runs) > limit {
		page.Runs = page.Runs[:limit]
		page.HasMore = true
	}

	return page, nil
}

func encodeRunJSON(run *models.SyncRun) (details, metadata any, err error) {
	if len(run.ErrorDetails) > 0 {
		data, err := json.Marshal(run.ErrorDetails)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode error details: %w", err)
		}
		details = string(data)
	}
	if len(run.Metadata) > 0 {
		data, err := json.Marshal(run.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(data)
	}
	return details, metadata, nil
}

func completedAt(run *models.SyncRun) any {
	if run.CompletedAt == nil {
		return nil
	}
	return run.CompletedAt.UTC()
}

func durationMS(run *models.SyncRun) any {
	if run.CompletedAt == nil {
		return nil
	}
	return run.Duration.Milliseconds()
}

func scanSyncRun(s scanner) (*models.SyncRun, error) {
	var (
		run          models.SyncRun
		kind         string
		state        string
		errorMessage sql.NullString
		details      sql.NullString
		metadata     sql.NullString
		completed    sql.NullTime
		duration     sql.NullInt64
	)

	err := s.Scan(
		&run.ID, &run.Sequence, &run.UserID, &kind, &state, &run.TargetID, &run.TargetName,
		&run.Counters.Created, &run.Counters.Updated, &run.Counters.Failed, &run.Counters.Total,
		&errorMessage, &details, &metadata, &run.StartedAt, &completed,
		&duration, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Kind = models.SyncKind(kind)
	run.State = models.RunState(state)
	run.ErrorMessage = errorMessage.String
	run.StartedAt = run.StartedAt.UTC()

	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &run.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to decode error details: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time.UTC()
		run.CompletedAt = &t
	}
	if duration.Valid {
		run.Duration = time.Duration(duration.Int64) * time.Millisecond
	}

	return &run, nil
}
