package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
	"github.com/desertthunder/trackx/internal/tasks"
	"github.com/desertthunder/trackx/internal/ui"
	"github.com/urfave/cli/v3"
)

type syncFunc func(ctx context.Context, userID string, progress chan<- tasks.ProgressUpdate) (*models.SyncRun, error)

// runSync executes one engine operation, streaming progress lines and printing the run summary.
func (r *Runner) runSync(ctx context.Context, cmd *cli.Command, fn syncFunc) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range progress {
			if line := ui.Styles.Progress(u); line != "" {
				r.writePlain("%s\n", line)
			}
		}
	}()

	run, err := fn(ctx, r.userID(cmd), progress)
	close(progress)
	<-done

	if run != nil {
		r.writePlain("%s\n", ui.Styles.Summary(run))
	}
	return err
}

// SyncUsers imports every remote user.
func (r *Runner) SyncUsers(ctx context.Context, cmd *cli.Command) error {
	return r.runSync(ctx, cmd, func(ctx context.Context, userID string, p chan<- tasks.ProgressUpdate) (*models.SyncRun, error) {
		return r.engine.ImportUsers(ctx, userID, p)
	})
}

// SyncProjects syncs every project and its issues.
func (r *Runner) SyncProjects(ctx context.Context, cmd *cli.Command) error {
	return r.runSync(ctx, cmd, func(ctx context.Context, userID string, p chan<- tasks.ProgressUpdate) (*models.SyncRun, error) {
		return r.engine.SyncAllProjects(ctx, userID, p)
	})
}

// SyncProject syncs the project named by --id.
func (r *Runner) SyncProject(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	return r.runSync(ctx, cmd, func(ctx context.Context, userID string, p chan<- tasks.ProgressUpdate) (*models.SyncRun, error) {
		return r.engine.SyncProject(ctx, userID, id, p)
	})
}

// SyncUser syncs the issues assigned to the account named by --id.
func (r *Runner) SyncUser(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	return r.runSync(ctx, cmd, func(ctx context.Context, userID string, p chan<- tasks.ProgressUpdate) (*models.SyncRun, error) {
		return r.engine.SyncUserTasks(ctx, userID, id, p)
	})
}

// SyncIssue syncs the issue named by --key.
func (r *Runner) SyncIssue(ctx context.Context, cmd *cli.Command) error {
	key := cmd.String("key")
	return r.runSync(ctx, cmd, func(ctx context.Context, userID string, p chan<- tasks.ProgressUpdate) (*models.SyncRun, error) {
		return r.engine.SyncIssue(ctx, userID, key, p)
	})
}

// SyncWatch repeats a full project sync every interval until ctx is cancelled.
//
// Failed runs are logged and retried on the next tick; authorization failures stop the loop.
func (r *Runner) SyncWatch(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(cmd); err != nil {
		return err
	}

	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = r.config.Sync.Interval.Duration
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", shared.ErrInvalidArgument)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := r.SyncProjects(ctx, cmd)
		switch {
		case ctx.Err() != nil:
			return nil
		case shared.IsAuthError(err):
			return err
		case errors.Is(err, shared.ErrSyncInProgress):
			r.logger.Info("previous run still active, skipping")
		case err != nil:
			r.logger.Warn("sync run failed", "error", err, "retryable", shared.IsRetryable(err))
		}

		r.writePlain("→ next run in %s\n", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
