package models

import (
	"fmt"
	"time"
)

// SyncKind enumerates what a sync run mirrors.
type SyncKind string

const (
	KindUserImport      SyncKind = "user_import"
	KindProjectSync     SyncKind = "project_sync"
	KindAllProjectsSync SyncKind = "all_projects_sync"
	KindUserTasksSync   SyncKind = "user_tasks_sync"
	KindIssueSync       SyncKind = "issue_sync"
)

// Valid reports whether k is a known kind.
func (k SyncKind) Valid() bool {
	switch k {
	case KindUserImport, KindProjectSync, KindAllProjectsSync, KindUserTasksSync, KindIssueSync:
		return true
	}
	return false
}

// RunState is the lifecycle state of a sync run.
type RunState string

const (
	RunStarted    RunState = "started"
	RunInProgress RunState = "in_progress"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Counters tallies what happened to the records a run has seen.
type Counters struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Unchanged is the number of records that matched their stored state.
func (c Counters) Unchanged() int {
	return c.Total - c.Created - c.Updated - c.Failed
}

// ErrorDetail is a structured entry in a run's error log.
type ErrorDetail struct {
	Kind     string `json:"kind"` // "mapping", "cancelled", "remote", "auth", "internal"
	RemoteID string `json:"remote_id,omitempty"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason"`
	Page     int    `json:"page,omitempty"`
	Index    int    `json:"index,omitempty"`
}

const (
	DetailMapping   = "mapping"
	DetailCancelled = "cancelled"
	DetailRemote    = "remote"
	DetailAuth      = "auth"
	DetailInternal  = "internal"
)

// SyncRun is one ledger entry describing a single orchestrator invocation.
//
// Once State is terminal the row is a closed audit record.
type SyncRun struct {
	ID           string
	Sequence     int
	UserID       string
	Kind         SyncKind
	State        RunState
	TargetID     string
	TargetName   string
	Counters     Counters
	ErrorMessage string
	ErrorDetails []ErrorDetail
	Metadata     map[string]any
	StartedAt    time.Time
	CompletedAt  *time.Time
	Duration     time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks required run fields.
func (r *SyncRun) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("sync run user_id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid sync kind %q", r.Kind)
	}
	switch r.State {
	case RunStarted, RunInProgress, RunCompleted, RunFailed:
	default:
		return fmt.Errorf("invalid run state %q", r.State)
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("sync run started_at is required")
	}
	if r.State.Terminal() && r.CompletedAt == nil {
		return fmt.Errorf("terminal sync run requires completed_at")
	}
	return nil
}

// RunFilter selects ledger entries. Zero values mean "any".
type RunFilter struct {
	UserID string
	Kind   SyncKind
	State  RunState
	Since  *time.Time
	Offset int
	Limit  int
}

// RunPage is one page of ledger entries, newest first.
type RunPage struct {
	Runs    []*SyncRun
	Offset  int
	Limit   int
	HasMore bool
}
