package ui

import (
	"fmt"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/tasks"
	"github.com/desertthunder/trackx/internal/tokens"
)

// RunState colors a run state: green when completed, red when failed, amber while open.
func (p *Palette) RunState(s models.RunState) string {
	switch s {
	case models.RunCompleted:
		return p.OK(string(s))
	case models.RunFailed:
		return p.Err(string(s))
	default:
		return p.Warn(string(s))
	}
}

// TokenState colors a credential state.
func (p *Palette) TokenState(s tokens.TokenState) string {
	switch s {
	case tokens.StateValid:
		return p.OK(string(s))
	case tokens.StateFailed:
		return p.Err(string(s))
	case tokens.StateRefreshing:
		return p.Warn(string(s))
	default:
		return p.Help(string(s))
	}
}

// Summary renders the one-line outcome of a finished run.
func (p *Palette) Summary(run *models.SyncRun) string {
	mark := p.OK("✓")
	if run.State == models.RunFailed {
		mark = p.Err("✗")
	}
	line := fmt.Sprintf("%s %s %s: %d created, %d updated, %d unchanged, %d failed",
		mark, run.Kind, p.RunState(run.State),
		run.Counters.Created, run.Counters.Updated, run.Counters.Unchanged(), run.Counters.Failed)
	if run.Counters.Failed > 0 && run.State == models.RunCompleted {
		line += " " + p.Warn(fmt.Sprintf("(see: trackx history show %s)", run.ID))
	}
	return line
}

// Progress renders a progress update as a single line, or "" for phases not worth showing.
func (p *Palette) Progress(u tasks.ProgressUpdate) string {
	switch u.Phase {
	case tasks.Abort:
		return p.Err("→ " + u.Message)
	case tasks.Complete:
		return ""
	default:
		return p.Help("→ " + u.Message)
	}
}
