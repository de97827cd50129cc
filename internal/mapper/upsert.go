package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
)

// Outcome is what an upsert did to the local store.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// MapFunc normalizes one raw record into an entity.
type MapFunc[T models.Mirrored] func(ctx context.Context, raw services.Record) (T, error)

// DiffFunc lists the columns of stored that differ from incoming.
type DiffFunc[T models.Mirrored] func(stored, incoming T) []models.FieldChange

// Upserter applies raw records to an [models.EntityStore], keyed by remote ID.
//
// A record that maps to the stored state performs no write, so re-running a sync over unchanged data is a no-op.
type Upserter[T models.Mirrored] struct {
	store  models.EntityStore[T]
	mapFn  MapFunc[T]
	diffFn DiffFunc[T]
}

// NewUpserter builds an upserter from a store, a mapping and a diff.
func NewUpserter[T models.Mirrored](store models.EntityStore[T], mapFn MapFunc[T], diffFn DiffFunc[T]) *Upserter[T] {
	return &Upserter[T]{store: store, mapFn: mapFn, diffFn: diffFn}
}

// Upsert maps raw and creates, updates or leaves the stored entity.
//
// Mapping failures are returned as [*shared.MappingError]; any other error is a storage failure.
func (u *Upserter[T]) Upsert(ctx context.Context, raw services.Record) (Outcome, error) {
	incoming, err := u.mapFn(ctx, raw)
	if err != nil {
		return Unchanged, err
	}
	if err := incoming.Validate(); err != nil {
		return Unchanged, shared.NewMappingError("record", "%v", err)
	}

	stored, err := u.store.GetByRemoteID(ctx, incoming.RemoteKey())
	if errors.Is(err, shared.ErrEntityNotFound) {
		if err := u.store.Create(ctx, incoming); err != nil {
			return Unchanged, fmt.Errorf("failed to create %s: %w", incoming.RemoteKey(), err)
		}
		return Created, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("failed to load %s: %w", incoming.RemoteKey(), err)
	}

	changes := u.diffFn(stored, incoming)
	if len(changes) == 0 {
		return Unchanged, nil
	}
	if err := u.store.UpdateFields(ctx, stored.LocalID(), changes); err != nil {
		return Unchanged, fmt.Errorf("failed to update %s: %w", incoming.RemoteKey(), err)
	}
	return Updated, nil
}

// NewProjectUpserter upserts project records.
func NewProjectUpserter(store models.EntityStore[*models.Project]) *Upserter[*models.Project] {
	return NewUpserter(store, func(_ context.Context, raw services.Record) (*models.Project, error) {
		return MapProject(raw)
	}, DiffProject)
}

// NewUserUpserter upserts user account records.
func NewUserUpserter(store models.EntityStore[*models.User]) *Upserter[*models.User] {
	return NewUpserter(store, func(_ context.Context, raw services.Record) (*models.User, error) {
		return MapUser(raw)
	}, DiffUser)
}

// NewTaskUpserter upserts issue records, resolving their project through projects.
func NewTaskUpserter(store models.EntityStore[*models.Task], projects ProjectResolver) *Upserter[*models.Task] {
	return NewUpserter(store, func(ctx context.Context, raw services.Record) (*models.Task, error) {
		return MapTask(ctx, projects, raw)
	}, DiffTask)
}

type changeSet []models.FieldChange

func (c *changeSet) str(column, stored, incoming string) {
	if stored != incoming {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming})
	}
}

func (c *changeSet) strPtr(column string, stored, incoming *string) {
	if !equalPtr(stored, incoming) {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming})
	}
}

func (c *changeSet) boolean(column string, stored, incoming bool) {
	if stored != incoming {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming})
	}
}

func (c *changeSet) float(column string, stored, incoming *float64) {
	if !equalPtr(stored, incoming) {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming})
	}
}

func (c *changeSet) integer(column string, stored, incoming *int64) {
	if !equalPtr(stored, incoming) {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming})
	}
}

func (c *changeSet) timestamp(column string, stored, incoming time.Time) {
	if !stored.Equal(incoming) {
		*c = append(*c, models.FieldChange{Column: column, Value: incoming.UTC()})
	}
}

func (c *changeSet) date(column string, stored, incoming *time.Time) {
	switch {
	case stored == nil && incoming == nil:
	case stored != nil && incoming != nil && stored.Equal(*incoming):
	default:
		var v any
		if incoming != nil {
			v = incoming.UTC()
		}
		*c = append(*c, models.FieldChange{Column: column, Value: v})
	}
}

func equalPtr[V comparable](a, b *V) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// DiffProject lists changed project columns.
func DiffProject(stored, incoming *models.Project) []models.FieldChange {
	var c changeSet
	c.str("project_key", stored.Key, incoming.Key)
	c.str("name", stored.Name, incoming.Name)
	c.str("description", stored.Description, incoming.Description)
	c.strPtr("lead_remote_id", stored.LeadRemoteID, incoming.LeadRemoteID)
	c.strPtr("category", stored.Category, incoming.Category)
	c.boolean("archived", stored.Archived, incoming.Archived)
	return c
}

// DiffUser lists changed user columns.
func DiffUser(stored, incoming *models.User) []models.FieldChange {
	var c changeSet
	c.str("display_name", stored.DisplayName, incoming.DisplayName)
	c.strPtr("email", stored.Email, incoming.Email)
	c.str("account_type", stored.AccountType, incoming.AccountType)
	c.boolean("active", stored.Active, incoming.Active)
	c.strPtr("time_zone", stored.TimeZone, incoming.TimeZone)
	return c
}

// DiffTask lists changed task columns.
func DiffTask(stored, incoming *models.Task) []models.FieldChange {
	var c changeSet
	c.str("issue_key", stored.Key, incoming.Key)
	c.str("project_id", stored.ProjectID, incoming.ProjectID)
	c.str("summary", stored.Summary, incoming.Summary)
	c.str("description", stored.Description, incoming.Description)
	c.str("status", string(stored.Status), string(incoming.Status))
	c.str("priority", string(stored.Priority), string(incoming.Priority))
	c.strPtr("assignee_remote_id", stored.AssigneeRemoteID, incoming.AssigneeRemoteID)
	c.strPtr("reporter_remote_id", stored.ReporterRemoteID, incoming.ReporterRemoteID)
	c.float("story_points", stored.StoryPoints, incoming.StoryPoints)
	c.integer("estimate_seconds", stored.EstimateSeconds, incoming.EstimateSeconds)
	c.date("due_date", stored.DueDate, incoming.DueDate)
	c.timestamp("remote_created_at", stored.RemoteCreatedAt, incoming.RemoteCreatedAt)
	c.timestamp("remote_updated_at", stored.RemoteUpdatedAt, incoming.RemoteUpdatedAt)
	return c
}
