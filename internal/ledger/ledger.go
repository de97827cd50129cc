// package ledger records every sync run as an append-only audit entry
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

// Store persists ledger entries. [repositories.SyncRunRepository] implements it.
type Store interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Get(ctx context.Context, id string) (*models.SyncRun, error)
	Update(ctx context.Context, run *models.SyncRun) error
	List(ctx context.Context, filter models.RunFilter) (*models.RunPage, error)
}

// RunReader is the read-only view of the ledger handed to reporting code.
type RunReader interface {
	Get(ctx context.Context, runID string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, filter models.RunFilter) (*models.RunPage, error)
}

// Target names what a run mirrors. Both fields are empty for whole-collection runs.
type Target struct {
	ID   string
	Name string
}

// Outcome is the terminal summary written by [Ledger.Finalize].
type Outcome struct {
	State        models.RunState
	TargetName   string // replaces the name given at Open when set
	Counters     models.Counters
	ErrorMessage string
	ErrorDetails []models.ErrorDetail
	Metadata     map[string]any
}

// Ledger drives runs through started → in_progress → completed | failed.
//
// A terminal run is never modified again; finalizing one twice is a programming error and panics.
type Ledger struct {
	store  Store
	clock  shared.Clock
	logger *log.Logger
}

// New creates a ledger over store.
func New(store Store, clock shared.Clock, logger *log.Logger) *Ledger {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Ledger{store: store, clock: clock, logger: shared.WithLogger(logger, "component", "ledger")}
}

// Open records a new run in the started state and returns its ID.
func (l *Ledger) Open(ctx context.Context, userID string, kind models.SyncKind, target Target) (string, error) {
	run := &models.SyncRun{
		UserID:     userID,
		Kind:       kind,
		State:      models.RunStarted,
		TargetID:   target.ID,
		TargetName: target.Name,
		StartedAt:  l.clock.Now(),
	}
	if err := l.store.Create(ctx, run); err != nil {
		return "", fmt.Errorf("failed to open sync run: %w", err)
	}

	l.logger.Debug("sync run opened", "run", run.ID, "kind", kind, "target", target.ID)
	return run.ID, nil
}

// MarkInProgress moves a started run to in_progress.
func (l *Ledger) MarkInProgress(ctx context.Context, runID string) error {
	run, err := l.open(ctx, runID)
	if err != nil {
		return err
	}
	if run.State == models.RunInProgress {
		return nil
	}
	run.State = models.RunInProgress
	return l.store.Update(ctx, run)
}

// Record stores a progress snapshot of the run's counters.
func (l *Ledger) Record(ctx context.Context, runID string, counters models.Counters) error {
	run, err := l.open(ctx, runID)
	if err != nil {
		return err
	}
	run.Counters = counters
	return l.store.Update(ctx, run)
}

// Finalize closes the run with outcome, stamping completion time and duration.
//
// Panics with [shared.ErrRunFinalized] when the run is already terminal.
func (l *Ledger) Finalize(ctx context.Context, runID string, outcome Outcome) (*models.SyncRun, error) {
	if !outcome.State.Terminal() {
		return nil, fmt.Errorf("%w: cannot finalize with state %q", shared.ErrInvalidArgument, outcome.State)
	}

	run, err := l.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		panic(fmt.Errorf("%w: %s", shared.ErrRunFinalized, runID))
	}

	completed := l.clock.Now()
	run.State = outcome.State
	if outcome.TargetName != "" {
		run.TargetName = outcome.TargetName
	}
	run.Counters = outcome.Counters
	run.ErrorMessage = outcome.ErrorMessage
	run.ErrorDetails = outcome.ErrorDetails
	run.Metadata = outcome.Metadata
	run.CompletedAt = &completed
	run.Duration = max(completed.Sub(run.StartedAt), 0)

	if err := l.store.Update(ctx, run); err != nil {
		if errors.Is(err, shared.ErrRunFinalized) {
			panic(err)
		}
		return nil, fmt.Errorf("failed to finalize sync run: %w", err)
	}

	l.logger.Info("sync run finalized",
		"run", run.ID,
		"kind", run.Kind,
		"state", run.State,
		"created", run.Counters.Created,
		"updated", run.Counters.Updated,
		"failed", run.Counters.Failed,
		"total", run.Counters.Total,
		"duration", shared.FormatDuration(run.Duration),
	)
	return run, nil
}

// Get returns a single run.
func (l *Ledger) Get(ctx context.Context, runID string) (*models.SyncRun, error) {
	return l.store.Get(ctx, runID)
}

// ListRuns returns one page of runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, filter models.RunFilter) (*models.RunPage, error) {
	return l.store.List(ctx, filter)
}

func (l *Ledger) open(ctx context.Context, runID string) (*models.SyncRun, error) {
	run, err := l.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State.Terminal() {
		return nil, fmt.Errorf("%w: %s", shared.ErrRunFinalized, runID)
	}
	return run, nil
}
