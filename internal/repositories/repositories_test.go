package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
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

func newCredential(userID string, expiresAt time.Time) *models.Credential {
	return &models.Credential{
		UserID:       userID,
		Provider:     "jira",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    expiresAt,
		TenantKey:    "cloud-1",
		Scopes:       []string{"read:jira-work", "offline_access"},
	}
}

func createProject(t *testing.T, repo *ProjectRepository, remoteID, key string) *models.Project {
	t.Helper()

	project := &models.Project{RemoteID: remoteID, Key: key, Name: key + " project"}
	if err := repo.Create(context.Background(), project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()
	expires := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGet", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCredentialRepository(db)
		cred := newCredential("u1", expires)

		if err := repo.Save(ctx, cred); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}
		if cred.ID == "" {
			t.Error("credential ID should be set after save")
		}

		got, err := repo.Get(ctx, cred.Key())
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}

		if got.AccessToken != "AT1" || got.RefreshToken != "RT1" {
			t.Errorf("unexpected tokens: %s / %s", got.AccessToken, got.RefreshToken)
		}
		if !got.ExpiresAt.Equal(expires) {
			t.Errorf("expected expiry %v, got %v", expires, got.ExpiresAt)
		}
		if got.Status != models.CredentialValid {
			t.Errorf("expected status valid, got %s", got.Status)
		}
		if len(got.Scopes) != 2 {
			t.Errorf("expected 2 scopes, got %v", got.Scopes)
		}
	})

	t.Run("SaveReplacesExisting", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCredentialRepository(db)
		if err := repo.Save(ctx, newCredential("u1", expires)); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		rotated := newCredential("u1", expires.Add(time.Hour))
		rotated.AccessToken = "AT2"
		rotated.RefreshToken = "RT2"
		if err := repo.Save(ctx, rotated); err != nil {
			t.Fatalf("failed to save rotated credential: %v", err)
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("failed to list credentials: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 credential per (user, provider), got %d", len(all))
		}
		if all[0].AccessToken != "AT2" || all[0].RefreshToken != "RT2" {
			t.Errorf("expected rotated tokens, got %s / %s", all[0].AccessToken, all[0].RefreshToken)
		}
	})

	t.Run("SaveKeepsLastUsed", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCredentialRepository(db)
		if err := repo.Save(ctx, newCredential("u1", expires)); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		used := expires.Add(-30 * time.Minute)
		rotated := newCredential("u1", expires.Add(time.Hour))
		rotated.AccessToken = "AT2"
		rotated.LastUsedAt = &used
		if err := repo.Save(ctx, rotated); err != nil {
			t.Fatalf("failed to save rotated credential: %v", err)
		}

		got, err := repo.Get(ctx, rotated.Key())
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
			t.Errorf("expected last_used_at %v after rotation, got %v", used, got.LastUsedAt)
		}

		reauthorized := newCredential("u1", expires.Add(2*time.Hour))
		if err := repo.Save(ctx, reauthorized); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}
		got, _ = repo.Get(ctx, reauthorized.Key())
		if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
			t.Errorf("expected last_used_at to survive a save without one, got %v", got.LastUsedAt)
		}
	})

	t.Run("MarkStaleAndTouch", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCredentialRepository(db)
		cred := newCredential("u1", expires)
		if err := repo.Save(ctx, cred); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		if err := repo.MarkStale(ctx, cred.Key(), "invalid_grant"); err != nil {
			t.Fatalf("failed to mark stale: %v", err)
		}
		if err := repo.Touch(ctx, cred.Key(), expires); err != nil {
			t.Fatalf("failed to touch: %v", err)
		}

		got, err := repo.Get(ctx, cred.Key())
		if err != nil {
			t.Fatalf("failed to get credential: %v", err)
		}
		if got.Status != models.CredentialStale || got.StatusReason != "invalid_grant" {
			t.Errorf("expected stale/invalid_grant, got %s/%s", got.Status, got.StatusReason)
		}
		if got.LastUsedAt == nil || !got.LastUsedAt.Equal(expires) {
			t.Errorf("expected last_used_at %v, got %v", expires, got.LastUsedAt)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewCredentialRepository(db)
		cred := newCredential("u1", expires)
		if err := repo.Save(ctx, cred); err != nil {
			t.Fatalf("failed to save credential: %v", err)
		}

		if err := repo.Delete(ctx, cred.Key()); err != nil {
			t.Fatalf("failed to delete credential: %v", err)
		}

		if _, err := repo.Get(ctx, cred.Key()); !errors.Is(err, shared.ErrCredentialNotFound) {
			t.Errorf("expected ErrCredentialNotFound, got %v", err)
		}
	})
}

func TestEntityRepositories(t *testing.T) {
	ctx := context.Background()

	t.Run("ProjectUpdateFields", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewProjectRepository(db)
		project := createProject(t, repo, "10000", "ENG")

		changes := []models.FieldChange{{Column: "name", Value: "Engineering"}, {Column: "archived", Value: true}}
		if err := repo.UpdateFields(ctx, project.ID, changes); err != nil {
			t.Fatalf("failed to update project: %v", err)
		}

		got, err := repo.GetByRemoteID(ctx, "10000")
		if err != nil {
			t.Fatalf("failed to get project: %v", err)
		}
		if got.Name != "Engineering" || !got.Archived {
			t.Errorf("unexpected project after update: %+v", got)
		}
		if got.Key != "ENG" {
			t.Errorf("untouched column changed: key=%s", got.Key)
		}
	})

	t.Run("UserNullableFields", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewUserRepository(db)
		user := &models.User{RemoteID: "acc-1", DisplayName: "Ada", AccountType: "atlassian", Active: true}
		if err := repo.Create(ctx, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}

		got, err := repo.Get(ctx, user.ID)
		if err != nil {
			t.Fatalf("failed to get user: %v", err)
		}
		if got.Email != nil || got.TimeZone != nil {
			t.Errorf("expected nil optional fields, got email=%v tz=%v", got.Email, got.TimeZone)
		}
		if !got.Active {
			t.Error("expected active user")
		}
	})

	t.Run("TaskRoundTripsOptionalFields", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		project := createProject(t, NewProjectRepository(db), "10000", "ENG")
		repo := NewTaskRepository(db)

		points := 3.5
		estimate := int64(7200)
		due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		assignee := "acc-1"
		created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		task := &models.Task{
			RemoteID:         "20001",
			Key:              "ENG-1",
			ProjectID:        project.ID,
			Summary:          "Fix login",
			Status:           models.StatusInProgress,
			Priority:         models.PriorityHigh,
			AssigneeRemoteID: &assignee,
			StoryPoints:      &points,
			EstimateSeconds:  &estimate,
			DueDate:          &due,
			RemoteCreatedAt:  created,
			RemoteUpdatedAt:  created,
		}
		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}

		got, err := repo.GetByRemoteID(ctx, "20001")
		if err != nil {
			t.Fatalf("failed to get task: %v", err)
		}
		if got.StoryPoints == nil || *got.StoryPoints != 3.5 {
			t.Errorf("expected story points 3.5, got %v", got.StoryPoints)
		}
		if got.EstimateSeconds == nil || *got.EstimateSeconds != 7200 {
			t.Errorf("expected estimate 7200, got %v", got.EstimateSeconds)
		}
		if got.DueDate == nil || !got.DueDate.Equal(due) {
			t.Errorf("expected due date %v, got %v", due, got.DueDate)
		}
		if got.ReporterRemoteID != nil {
			t.Errorf("expected nil reporter, got %v", *got.ReporterRemoteID)
		}
		if !got.RemoteCreatedAt.Equal(created) {
			t.Errorf("expected remote created %v, got %v", created, got.RemoteCreatedAt)
		}

		tasks, err := repo.List(ctx, map[string]any{"project_id": project.ID})
		if err != nil {
			t.Fatalf("failed to list tasks: %v", err)
		}
		if len(tasks) != 1 {
			t.Errorf("expected 1 task, got %d", len(tasks))
		}
	})
}

func newRun(userID string, kind models.SyncKind, startedAt time.Time) *models.SyncRun {
	return &models.SyncRun{UserID: userID, Kind: kind, State: models.RunStarted, StartedAt: startedAt}
}

func TestSyncRunRepository(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("CreateAssignsSequence", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		first := newRun("u1", models.KindUserImport, start)
		second := newRun("u1", models.KindProjectSync, start.Add(time.Minute))

		if err := repo.Create(ctx, first); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if err := repo.Create(ctx, second); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		if first.Sequence != 1 || second.Sequence != 2 {
			t.Errorf("expected sequences 1 and 2, got %d and %d", first.Sequence, second.Sequence)
		}
	})

	t.Run("UpdateTerminalRun", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		run := newRun("u1", models.KindProjectSync, start)
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		done := start.Add(1500 * time.Millisecond)
		run.State = models.RunCompleted
		run.CompletedAt = &done
		run.Duration = done.Sub(start)
		run.Counters = models.Counters{Created: 2, Failed: 1, Total: 3}
		run.ErrorDetails = []models.ErrorDetail{{Kind: models.DetailMapping, RemoteID: "3", Field: "status", Reason: "unknown"}}
		run.Metadata = map[string]any{"pages": 1}

		if err := repo.Update(ctx, run); err != nil {
			t.Fatalf("failed to finalize run: %v", err)
		}

		got, err := repo.Get(ctx, run.ID)
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if got.State != models.RunCompleted || got.Counters != run.Counters {
			t.Errorf("unexpected run: state=%s counters=%+v", got.State, got.Counters)
		}
		if got.Duration != 1500*time.Millisecond {
			t.Errorf("expected duration 1.5s, got %v", got.Duration)
		}
		if len(got.ErrorDetails) != 1 || got.ErrorDetails[0].Field != "status" {
			t.Errorf("unexpected error details: %+v", got.ErrorDetails)
		}

		run.State = models.RunFailed
		if err := repo.Update(ctx, run); !errors.Is(err, shared.ErrRunFinalized) {
			t.Errorf("expected ErrRunFinalized, got %v", err)
		}
	})

	t.Run("UpdateMissingRun", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		run := newRun("u1", models.KindIssueSync, start)
		run.ID = "missing"

		if err := repo.Update(ctx, run); !errors.Is(err, shared.ErrRunNotFound) {
			t.Errorf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("ListFiltersAndPages", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)
		for i := range 5 {
			if err := repo.Create(ctx, newRun("u1", models.KindProjectSync, start.Add(time.Duration(i)*time.Hour))); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}
		}
		if err := repo.Create(ctx, newRun("u2", models.KindProjectSync, start)); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		page, err := repo.List(ctx, models.RunFilter{UserID: "u1", Limit: 2})
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(page.Runs) != 2 || !page.HasMore {
			t.Fatalf("expected 2 runs with more, got %d more=%v", len(page.Runs), page.HasMore)
		}
		if page.Runs[0].Sequence < page.Runs[1].Sequence {
			t.Error("expected newest run first")
		}

		since := start.Add(3 * time.Hour)
		page, err = repo.List(ctx, models.RunFilter{UserID: "u1", Since: &since})
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(page.Runs) != 2 || page.HasMore {
			t.Errorf("expected 2 runs since %v, got %d more=%v", since, len(page.Runs), page.HasMore)
		}
	})

	t.Run("ConcurrentCreate", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSyncRunRepository(db)

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.Create(ctx, newRun("u1", models.KindUserImport, start))
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent create failed: %v", err)
			}
		}

		page, err := repo.List(ctx, models.RunFilter{Limit: 20})
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		seen := map[int]bool{}
		for _, run := range page.Runs {
			if seen[run.Sequence] {
				t.Errorf("duplicate sequence %d", run.Sequence)
			}
			seen[run.Sequence] = true
		}
		if len(seen) != 10 {
			t.Errorf("expected 10 distinct sequences, got %d", len(seen))
		}
	})
}
