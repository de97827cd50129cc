package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

func TestCredentialRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Save", func(t *testing.T) {
		t.Run("ValidationError", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewCredentialRepository(db)
			cred := newCredential("u1", time.Now())
			cred.RefreshToken = ""

			if err := repo.Save(ctx, cred); err == nil {
				t.Fatal("expected validation error for empty refresh token")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewCredentialRepository(db)
			_, err := repo.Get(ctx, models.CredentialKey{UserID: "nobody", Provider: "jira"})
			if !errors.Is(err, shared.ErrCredentialNotFound) {
				t.Fatalf("expected ErrCredentialNotFound, got %v", err)
			}
		})
	})

	t.Run("MarkStale", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewCredentialRepository(db)
			err := repo.MarkStale(ctx, models.CredentialKey{UserID: "nobody", Provider: "jira"}, "gone")
			if !errors.Is(err, shared.ErrCredentialNotFound) {
				t.Fatalf("expected ErrCredentialNotFound, got %v", err)
			}
		})
	})
}

func TestEntityRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Project", func(t *testing.T) {
		t.Run("DuplicateRemoteID", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewProjectRepository(db)
			createProject(t, repo, "10000", "ENG")

			dup := &models.Project{RemoteID: "10000", Key: "OPS", Name: "Ops"}
			if err := repo.Create(ctx, dup); err == nil {
				t.Fatal("expected error for duplicate remote id")
			}
		})

		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			_, err := NewProjectRepository(db).GetByRemoteID(ctx, "missing")
			if !errors.Is(err, shared.ErrEntityNotFound) {
				t.Fatalf("expected ErrEntityNotFound, got %v", err)
			}
		})

		t.Run("DisallowedColumn", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			repo := NewProjectRepository(db)
			project := createProject(t, repo, "10000", "ENG")

			err := repo.UpdateFields(ctx, project.ID, []models.FieldChange{{Column: "remote_id", Value: "x"}})
			if err == nil {
				t.Fatal("expected error when updating remote_id")
			}
		})
	})

	t.Run("User", func(t *testing.T) {
		t.Run("ValidationError", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			if err := NewUserRepository(db).Create(ctx, &models.User{RemoteID: "acc-1"}); err == nil {
				t.Fatal("expected validation error for empty display name")
			}
		})

		t.Run("UpdateNotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			err := NewUserRepository(db).UpdateFields(ctx, "missing", []models.FieldChange{{Column: "display_name", Value: "x"}})
			if err == nil {
				t.Fatal("expected error when updating nonexistent user")
			}
		})
	})

	t.Run("Task", func(t *testing.T) {
		t.Run("UnknownProject", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			task := &models.Task{
				RemoteID:        "1",
				Key:             "ENG-1",
				ProjectID:       "no-such-project",
				Summary:         "orphan",
				Status:          models.StatusTodo,
				Priority:        models.PriorityMedium,
				RemoteCreatedAt: time.Now(),
				RemoteUpdatedAt: time.Now(),
			}
			if err := NewTaskRepository(db).Create(ctx, task); err == nil {
				t.Fatal("expected foreign key error for unknown project")
			}
		})
	})
}

func TestSyncRunRepositoryErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		t.Run("InvalidKind", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			run := newRun("u1", models.SyncKind("bogus"), time.Now())
			if err := NewSyncRunRepository(db).Create(ctx, run); err == nil {
				t.Fatal("expected validation error for unknown kind")
			}
		})

		t.Run("TerminalWithoutCompletedAt", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			run := newRun("u1", models.KindUserImport, time.Now())
			run.State = models.RunCompleted
			if err := NewSyncRunRepository(db).Create(ctx, run); err == nil {
				t.Fatal("expected validation error for terminal run without completed_at")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			db := setupTestDB(t)
			defer db.Close()

			_, err := NewSyncRunRepository(db).Get(ctx, "missing")
			if !errors.Is(err, shared.ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound, got %v", err)
			}
		})
	})
}
