// package mapper normalizes raw remote records into mirrored entities and applies them to the local store
package mapper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/services"
	"github.com/desertthunder/trackx/internal/shared"
)

// StoryPointsField is the custom field that carries story point estimates.
const StoryPointsField = "customfield_10016"

// MapProject normalizes a remote project record.
func MapProject(raw services.Record) (*models.Project, error) {
	f := newFields("", raw)

	id, err := f.requiredString("id")
	if err != nil {
		return nil, err
	}
	key, err := f.requiredString("key")
	if err != nil {
		return nil, err
	}
	name, err := f.requiredString("name")
	if err != nil {
		return nil, err
	}

	p := &models.Project{RemoteID: id, Key: key, Name: name}

	if p.Description, err = descriptionText(f, "description"); err != nil {
		return nil, err
	}
	if p.Archived, err = f.boolOr("archived", false); err != nil {
		return nil, err
	}

	if lead, ok, err := f.object("lead"); err != nil {
		return nil, err
	} else if ok {
		if p.LeadRemoteID, err = lead.optionalString("accountId"); err != nil {
			return nil, err
		}
	}

	if category, ok, err := f.object("projectCategory"); err != nil {
		return nil, err
	} else if ok {
		if p.Category, err = category.optionalString("name"); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// MapUser normalizes a remote user account record.
func MapUser(raw services.Record) (*models.User, error) {
	f := newFields("", raw)

	id, err := f.requiredString("accountId")
	if err != nil {
		return nil, err
	}
	name, err := f.requiredString("displayName")
	if err != nil {
		return nil, err
	}

	u := &models.User{RemoteID: id, DisplayName: name}

	if u.Email, err = f.optionalString("emailAddress"); err != nil {
		return nil, err
	}
	if u.AccountType, err = f.stringOr("accountType", ""); err != nil {
		return nil, err
	}
	if u.Active, err = f.boolOr("active", true); err != nil {
		return nil, err
	}
	if u.TimeZone, err = f.optionalString("timeZone"); err != nil {
		return nil, err
	}

	return u, nil
}

// ProjectResolver finds the local project a task belongs to.
type ProjectResolver interface {
	GetByRemoteID(ctx context.Context, remoteID string) (*models.Project, error)
}

// MapTask normalizes a remote issue record.
//
// The issue's project must already be mirrored; otherwise the record fails on field "project".
// Errors other than [shared.MappingError] come from the resolver and are not item-level.
func MapTask(ctx context.Context, projects ProjectResolver, raw services.Record) (*models.Task, error) {
	top := newFields("", raw)

	id, err := top.requiredString("id")
	if err != nil {
		return nil, err
	}
	key, err := top.requiredString("key")
	if err != nil {
		return nil, err
	}

	f, ok, err := top.object("fields")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.NewMappingError("fields", "required field is missing")
	}

	t := &models.Task{RemoteID: id, Key: key}

	if t.Summary, err = f.requiredString("summary"); err != nil {
		return nil, err
	}
	if t.Description, err = descriptionText(f, "description"); err != nil {
		return nil, err
	}

	status, ok, err := f.object("status")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.NewMappingError(f.path("status"), "required field is missing")
	}
	statusName, err := status.requiredString("name")
	if err != nil {
		return nil, err
	}
	if t.Status, err = ParseStatus(status.path("name"), statusName); err != nil {
		return nil, err
	}

	t.Priority = models.PriorityMedium
	if priority, ok, err := f.object("priority"); err != nil {
		return nil, err
	} else if ok {
		name, err := priority.requiredString("name")
		if err != nil {
			return nil, err
		}
		if t.Priority, err = ParsePriority(priority.path("name"), name); err != nil {
			return nil, err
		}
	}

	if t.AssigneeRemoteID, err = accountID(f, "assignee"); err != nil {
		return nil, err
	}
	if t.ReporterRemoteID, err = accountID(f, "reporter"); err != nil {
		return nil, err
	}
	if t.StoryPoints, err = f.optionalFloat(StoryPointsField); err != nil {
		return nil, err
	}
	if t.EstimateSeconds, err = f.optionalInt("timeoriginalestimate"); err != nil {
		return nil, err
	}
	if t.DueDate, err = f.optionalDate("duedate"); err != nil {
		return nil, err
	}
	if t.RemoteCreatedAt, err = f.timestamp("created"); err != nil {
		return nil, err
	}
	if t.RemoteUpdatedAt, err = f.timestamp("updated"); err != nil {
		return nil, err
	}

	project, ok, err := f.object("project")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, shared.NewMappingError("project", "required field is missing")
	}
	projectID, err := project.requiredString("id")
	if err != nil {
		return nil, err
	}

	local, err := projects.GetByRemoteID(ctx, projectID)
	if errors.Is(err, shared.ErrEntityNotFound) {
		return nil, shared.NewMappingError("project", "project %s is not mirrored", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %s: %w", projectID, err)
	}
	t.ProjectID = local.ID

	return t, nil
}

func accountID(f fields, key string) (*string, error) {
	obj, ok, err := f.object(key)
	if err != nil || !ok {
		return nil, err
	}
	return obj.optionalString("accountId")
}

// descriptionText accepts plain text or a rich-text document and returns its text content.
func descriptionText(f fields, key string) (string, error) {
	v, ok := f.m[key]
	if !ok || v == nil {
		return "", nil
	}
	switch d := v.(type) {
	case string:
		return d, nil
	case map[string]any:
		var b strings.Builder
		collectText(&b, d)
		return strings.TrimSpace(b.String()), nil
	}
	return "", shared.NewMappingError(f.path(key), "expected text or document, got %T", v)
}

func collectText(b *strings.Builder, node map[string]any) {
	if text, ok := node["text"].(string); ok {
		b.WriteString(text)
	}
	children, _ := node["content"].([]any)
	for _, child := range children {
		if m, ok := child.(map[string]any); ok {
			collectText(b, m)
		}
	}
	switch node["type"] {
	case "paragraph", "heading", "listItem", "codeBlock", "hardBreak":
		b.WriteString("\n")
	}
}
