package models

import (
	"fmt"
	"time"
)

// TaskStatus is the normalized workflow status of a mirrored task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusInReview   TaskStatus = "in_review"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// Priority is the normalized priority level of a mirrored task.
type Priority string

const (
	PriorityLowest  Priority = "lowest"
	PriorityLow     Priority = "low"
	PriorityMedium  Priority = "medium"
	PriorityHigh    Priority = "high"
	PriorityHighest Priority = "highest"
)

// Project is a mirrored remote project.
type Project struct {
	ID           string
	RemoteID     string
	Key          string
	Name         string
	Description  string
	LeadRemoteID *string
	Category     *string
	Archived     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *Project) LocalID() string   { return p.ID }
func (p *Project) RemoteKey() string { return p.RemoteID }

func (p *Project) Validate() error {
	if p.RemoteID == "" {
		return fmt.Errorf("project remote_id is required")
	}
	if p.Key == "" || p.Name == "" {
		return fmt.Errorf("project key and name are required")
	}
	return nil
}

// User is a mirrored remote user account.
type User struct {
	ID          string
	RemoteID    string
	DisplayName string
	Email       *string
	AccountType string
	Active      bool
	TimeZone    *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (u *User) LocalID() string   { return u.ID }
func (u *User) RemoteKey() string { return u.RemoteID }

func (u *User) Validate() error {
	if u.RemoteID == "" {
		return fmt.Errorf("user remote_id is required")
	}
	if u.DisplayName == "" {
		return fmt.Errorf("user display_name is required")
	}
	return nil
}

// Task is a mirrored remote issue. ProjectID references the local project row.
type Task struct {
	ID               string
	RemoteID         string
	Key              string
	ProjectID        string
	Summary          string
	Description      string
	Status           TaskStatus
	Priority         Priority
	AssigneeRemoteID *string
	ReporterRemoteID *string
	StoryPoints      *float64
	EstimateSeconds  *int64
	DueDate          *time.Time
	RemoteCreatedAt  time.Time
	RemoteUpdatedAt  time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (t *Task) LocalID() string   { return t.ID }
func (t *Task) RemoteKey() string { return t.RemoteID }

func (t *Task) Validate() error {
	if t.RemoteID == "" || t.Key == "" {
		return fmt.Errorf("task remote_id and key are required")
	}
	if t.ProjectID == "" {
		return fmt.Errorf("task project_id is required")
	}
	if t.Summary == "" {
		return fmt.Errorf("task summary is required")
	}
	if t.Status == "" || t.Priority == "" {
		return fmt.Errorf("task status and priority are required")
	}
	return nil
}
