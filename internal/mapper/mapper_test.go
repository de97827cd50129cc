package mapper

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/repositories"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func projectRecord() services.Record {
	return services.Record{
		"id":              "10000",
		"key":             "ENG",
		"name":            "Engineering",
		"lead":            map[string]any{"accountId": "acc-1"},
		"projectCategory": map[string]any{"name": "Core"},
	}
}

func issueRecord(id, key string) services.Record {
	return services.Record{
		"id":  id,
		"key": key,
		"fields": map[string]any{
			"summary":  "Fix login",
			"status":   map[string]any{"name": "In Progress"},
			"priority": map[string]any{"name": "Major"},
			"project":  map[string]any{"id": "10000", "key": "ENG"},
			"assignee": map[string]any{"accountId": "acc-1"},
			"description": map[string]any{
				"type": "doc",
				"content": []any{
					map[string]any{"type": "paragraph", "content": []any{map[string]any{"type": "text", "text": "Steps to reproduce"}}},
				},
			},
			StoryPointsField:       float64(3),
			"timeoriginalestimate": float64(3600),
			"duedate":              "2026-03-01",
			"created":              "2026-01-02T10:00:00.000+0200",
			"updated":              "2026-01-03T10:00:00Z",
		},
	}
}

func TestCoercion(t *testing.T) {
	t.Run("ParseStatus", func(t *testing.T) {
		tests := []struct {
			in   string
			want models.TaskStatus
		}{
			{"To Do", models.StatusTodo},
			{"  in   progress ", models.StatusInProgress},
			{"Code Review", models.StatusInReview},
			{"Resolved", models.StatusDone},
			{"Won't Do", models.StatusCancelled},
		}
		for _, tt := range tests {
			got, err := ParseStatus("status", tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ParseStatus(%q) = %s, %v; want %s", tt.in, got, err, tt.want)
			}
		}

		_, err := ParseStatus("fields.status.name", "Blocked-ish")
		var mapErr *shared.MappingError
		if !errors.As(err, &mapErr) || mapErr.Field != "fields.status.name" {
			t.Errorf("expected MappingError on status field, got %v", err)
		}
	})

	t.Run("ParsePriority", func(t *testing.T) {
		if p, err := ParsePriority("priority", "Blocker"); err != nil || p != models.PriorityHighest {
			t.Errorf("expected highest, got %s, %v", p, err)
		}
		if _, err := ParsePriority("priority", "urgent-ish"); err == nil {
			t.Error("expected error for unrecognized priority")
		}
	})

	t.Run("ParseTimestamp normalizes to UTC", func(t *testing.T) {
		got, err := ParseTimestamp("created", "2026-01-02T10:00:00.000+0200")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		want := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
		if !got.Equal(want) || got.Location() != time.UTC {
			t.Errorf("expected %v, got %v", want, got)
		}

		if _, err := ParseTimestamp("created", "yesterday"); err == nil {
			t.Error("expected error for unparsable timestamp")
		}
	})
}

func TestMap(t *testing.T) {
	ctx := context.Background()

	t.Run("MapProject", func(t *testing.T) {
		p, err := MapProject(projectRecord())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if p.RemoteID != "10000" || p.Key != "ENG" || *p.LeadRemoteID != "acc-1" || *p.Category != "Core" {
			t.Errorf("unexpected project %+v", p)
		}
	})

	t.Run("MapUser optional fields", func(t *testing.T) {
		u, err := MapUser(services.Record{"accountId": "acc-1", "displayName": "Ada"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if u.Email != nil || u.TimeZone != nil || !u.Active {
			t.Errorf("unexpected user %+v", u)
		}

		_, err = MapUser(services.Record{"accountId": "acc-2"})
		var mapErr *shared.MappingError
		if !errors.As(err, &mapErr) || mapErr.Field != "displayName" {
			t.Errorf("expected MappingError on displayName, got %v", err)
		}
	})

	t.Run("MapTask", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		projects := repositories.NewProjectRepository(db)
		project, _ := MapProject(projectRecord())
		if err := projects.Create(ctx, project); err != nil {
			t.Fatalf("failed to create project: %v", err)
		}

		task, err := MapTask(ctx, projects, issueRecord("20001", "ENG-1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if task.ProjectID != project.ID {
			t.Errorf("expected local project id %s, got %s", project.ID, task.ProjectID)
		}
		if task.Status != models.StatusInProgress || task.Priority != models.PriorityHigh {
			t.Errorf("unexpected status/priority %s/%s", task.Status, task.Priority)
		}
		if task.Description != "Steps to reproduce" {
			t.Errorf("unexpected description %q", task.Description)
		}
		if *task.StoryPoints != 3 || *task.EstimateSeconds != 3600 {
			t.Errorf("unexpected numerics %v/%v", *task.StoryPoints, *task.EstimateSeconds)
		}
		if task.ReporterRemoteID != nil {
			t.Errorf("expected nil reporter, got %v", *task.ReporterRemoteID)
		}

		raw := issueRecord("20002", "ENG-2")
		fields := raw["fields"].(map[string]any)
		delete(fields, StoryPointsField)
		delete(fields, "priority")
		task, err = MapTask(ctx, projects, raw)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if task.StoryPoints != nil {
			t.Errorf("expected absent story points to be nil, got %v", *task.StoryPoints)
		}
		if task.Priority != models.PriorityMedium {
			t.Errorf("expected medium priority when absent, got %s", task.Priority)
		}
	})

	t.Run("MapTask unknown project", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		_, err := MapTask(ctx, repositories.NewProjectRepository(db), issueRecord("20001", "ENG-1"))
		var mapErr *shared.MappingError
		if !errors.As(err, &mapErr) || mapErr.Field != "project" {
			t.Errorf("expected MappingError on project, got %v", err)
		}
	})

	t.Run("MapTask fractional estimate", func(t *testing.T) {
		raw := issueRecord("20001", "ENG-1")
		raw["fields"].(map[string]any)["timeoriginalestimate"] = 1.5

		_, err := MapTask(ctx, nil, raw)
		var mapErr *shared.MappingError
		if !errors.As(err, &mapErr) || mapErr.Field != "fields.timeoriginalestimate" {
			t.Errorf("expected MappingError on estimate, got %v", err)
		}
	})
}

func TestUpserter(t *testing.T) {
	ctx := context.Background()

	t.Run("Create Then Unchanged Then Updated", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		projects := repositories.NewProjectRepository(db)
		if _, err := NewProjectUpserter(projects).Upsert(ctx, projectRecord()); err != nil {
			t.Fatalf("failed to upsert project: %v", err)
		}

		tasks := NewTaskUpserter(repositories.NewTaskRepository(db), projects)
		raw := issueRecord("20001", "ENG-1")

		outcome, err := tasks.Upsert(ctx, raw)
		if err != nil || outcome != Created {
			t.Fatalf("expected created, got %s, %v", outcome, err)
		}

		outcome, err = tasks.Upsert(ctx, raw)
		if err != nil || outcome != Unchanged {
			t.Fatalf("expected unchanged on identical record, got %s, %v", outcome, err)
		}

		raw["fields"].(map[string]any)["status"] = map[string]any{"name": "Done"}
		outcome, err = tasks.Upsert(ctx, raw)
		if err != nil || outcome != Updated {
			t.Fatalf("expected updated, got %s, %v", outcome, err)
		}

		stored, err := repositories.NewTaskRepository(db).GetByRemoteID(ctx, "20001")
		if err != nil {
			t.Fatalf("failed to load task: %v", err)
		}
		if stored.Status != models.StatusDone {
			t.Errorf("expected done, got %s", stored.Status)
		}
	})

	t.Run("Mapping Failure Writes Nothing", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		users := repositories.NewUserRepository(db)
		_, err := NewUserUpserter(users).Upsert(ctx, services.Record{"accountId": "acc-1"})

		var mapErr *shared.MappingError
		if !errors.As(err, &mapErr) {
			t.Fatalf("expected MappingError, got %v", err)
		}
		if _, err := users.GetByRemoteID(ctx, "acc-1"); !errors.Is(err, shared.ErrEntityNotFound) {
			t.Errorf("expected no user row, got %v", err)
		}
	})
}

func TestDiffTask(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	points := 2.0
	base := models.Task{Key: "ENG-1", Summary: "a", Status: models.StatusTodo, Priority: models.PriorityLow, DueDate: &due, StoryPoints: &points}

	same := base
	if changes := DiffTask(&base, &same); len(changes) != 0 {
		t.Errorf("expected no changes, got %+v", changes)
	}

	changed := base
	changed.DueDate = nil
	changed.Summary = "b"
	changes := DiffTask(&base, &changed)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].Column != "summary" || changes[1].Column != "due_date" || changes[1].Value != nil {
		t.Errorf("unexpected changes %+v", changes)
	}
}
