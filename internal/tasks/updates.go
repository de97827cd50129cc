package tasks

import (
	"fmt"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
)

// ProgressUpdate represents a progress event during a sync run.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	RunID   string // Ledger entry the update belongs to
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, zero when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	Authorize Phase = iota
	FetchTarget
	FetchPage
	ApplyRecords
	Complete
	Abort
)

func (p Phase) String() string {
	switch p {
	case Authorize:
		return "authorize"
	case FetchTarget:
		return "fetch_target"
	case FetchPage:
		return "fetch_page"
	case ApplyRecords:
		return "apply_records"
	case Complete:
		return "complete"
	case Abort:
		return "abort"
	default:
		return ""
	}
}

func authorizeUpdate(runID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Authorize,
		RunID:   runID,
		Step:    1,
		Total:   1,
		Message: "Acquiring access token...",
	}
}

func fetchTargetUpdate(runID string, kind models.SyncKind, id string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchTarget,
		RunID:   runID,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching %s target %s...", kind, id),
	}
}

func fetchPageUpdate(runID string, resource services.Resource, page, offset int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchPage,
		RunID:   runID,
		Step:    page,
		Message: fmt.Sprintf("Fetching %s page %d (offset %d)...", resource, page, offset),
	}
}

func applyRecordsUpdate(runID string, resource services.Resource, page int, counters models.Counters) ProgressUpdate {
	return ProgressUpdate{
		Phase: ApplyRecords,
		RunID: runID,
		Step:  page,
		Message: fmt.Sprintf("[page %d] %s: %d created, %d updated, %d failed of %d",
			page, resource, counters.Created, counters.Updated, counters.Failed, counters.Total),
		Data: counters,
	}
}

func completeUpdate(run *models.SyncRun) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Complete,
		RunID:   run.ID,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✓ %s %s (%d items)", run.Kind, run.State, run.Counters.Total),
		Data:    run,
	}
}

func abortUpdate(runID string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Abort,
		RunID:   runID,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("✗ %v", err),
	}
}
