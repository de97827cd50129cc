// package formatter renders sync run history as plain text, CSV, Markdown or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
)

// Format names an export format accepted by the history command.
type Format string

const (
	FormatText     Format = "text"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat resolves a user-supplied format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
}

// Ext returns the file extension for f, including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	case FormatJSON:
		return ".json"
	default:
		return ".txt"
	}
}

const timeLayout = "2006-01-02 15:04:05"

func target(run *models.SyncRun) string {
	switch {
	case run.TargetName != "":
		return run.TargetName
	case run.TargetID != "":
		return run.TargetID
	default:
		return "-"
	}
}

func completedAt(run *models.SyncRun) string {
	if run.CompletedAt == nil {
		return ""
	}
	return run.CompletedAt.UTC().Format(time.RFC3339)
}

// ExportRuns renders runs in the given format.
func ExportRuns(runs []*models.SyncRun, format Format) ([]byte, error) {
	switch format {
	case FormatText:
		return ExportToText(runs)
	case FormatCSV:
		return ExportToCSV(runs)
	case FormatMarkdown:
		return ExportToMarkdown(runs)
	case FormatJSON:
		return ExportToJSON(runs)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
}

// ExportToCSV converts runs to CSV with one row per run.
func ExportToCSV(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"Sequence", "ID", "Kind", "State", "Target",
		"Created", "Updated", "Failed", "Total",
		"StartedAt", "CompletedAt", "DurationMS", "Error",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, run := range runs {
		record := []string{
			strconv.Itoa(run.Sequence),
			run.ID,
			string(run.Kind),
			string(run.State),
			target(run),
			strconv.Itoa(run.Counters.Created),
			strconv.Itoa(run.Counters.Updated),
			strconv.Itoa(run.Counters.Failed),
			strconv.Itoa(run.Counters.Total),
			run.StartedAt.UTC().Format(time.RFC3339),
			completedAt(run),
			strconv.FormatInt(run.Duration.Milliseconds(), 10),
			run.ErrorMessage,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts runs to a Markdown table followed by the error log of each failed run.
func ExportToMarkdown(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Sync History\n\n")
	fmt.Fprintf(&buf, "**Runs**: %d\n\n", len(runs))

	buf.WriteString("| # | Kind | Target | State | Created | Updated | Failed | Total | Started | Duration |\n")
	buf.WriteString("|---|------|--------|-------|---------|---------|--------|-------|---------|----------|\n")
	for _, run := range runs {
		fmt.Fprintf(&buf, "| %d | %s | %s | %s | %d | %d | %d | %d | %s | %s |\n",
			run.Sequence, run.Kind, escapeCell(target(run)), run.State,
			run.Counters.Created, run.Counters.Updated, run.Counters.Failed, run.Counters.Total,
			run.StartedAt.UTC().Format(timeLayout), shared.FormatDuration(run.Duration))
	}

	for _, run := range runs {
		if len(run.ErrorDetails) == 0 && run.ErrorMessage == "" {
			continue
		}
		fmt.Fprintf(&buf, "\n## Run %d (%s)\n\n", run.Sequence, run.ID)
		if run.ErrorMessage != "" {
			fmt.Fprintf(&buf, "**Error**: %s\n\n", run.ErrorMessage)
		}
		for _, d := range run.ErrorDetails {
			fmt.Fprintf(&buf, "- %s\n", detailLine(d))
		}
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ExportToText converts runs to one aligned line per run.
func ExportToText(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer

	if len(runs) == 0 {
		buf.WriteString("No sync runs recorded.\n")
		return buf.Bytes(), nil
	}

	fmt.Fprintf(&buf, "%-5s %-18s %-20s %-11s %8s %8s %7s %6s  %-19s %s\n",
		"#", "KIND", "TARGET", "STATE", "CREATED", "UPDATED", "FAILED", "TOTAL", "STARTED", "DURATION")
	for _, run := range runs {
		fmt.Fprintf(&buf, "%-5d %-18s %-20s %-11s %8d %8d %7d %6d  %-19s %s\n",
			run.Sequence, run.Kind, truncate(target(run), 20), run.State,
			run.Counters.Created, run.Counters.Updated, run.Counters.Failed, run.Counters.Total,
			run.StartedAt.UTC().Format(timeLayout), shared.FormatDuration(run.Duration))
	}

	return buf.Bytes(), nil
}

// FormatRunDetail renders a single run with its full error log.
func FormatRunDetail(run *models.SyncRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run:       %d (%s)\n", run.Sequence, run.ID)
	fmt.Fprintf(&b, "Kind:      %s\n", run.Kind)
	fmt.Fprintf(&b, "Target:    %s\n", target(run))
	fmt.Fprintf(&b, "State:     %s\n", run.State)
	fmt.Fprintf(&b, "Started:   %s\n", run.StartedAt.UTC().Format(timeLayout))
	if run.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", run.CompletedAt.UTC().Format(timeLayout))
	}
	fmt.Fprintf(&b, "Duration:  %s\n", shared.FormatDuration(run.Duration))
	fmt.Fprintf(&b, "Items:     %d created, %d updated, %d unchanged, %d failed (%d total)\n",
		run.Counters.Created, run.Counters.Updated, run.Counters.Unchanged(), run.Counters.Failed, run.Counters.Total)

	if run.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s\n", run.ErrorMessage)
	}
	if len(run.ErrorDetails) > 0 {
		b.WriteString("\nError log:\n")
		for _, d := range run.ErrorDetails {
			fmt.Fprintf(&b, "  - %s\n", detailLine(d))
		}
	}

	return b.String()
}

func detailLine(d models.ErrorDetail) string {
	var parts []string
	parts = append(parts, "["+d.Kind+"]")
	if d.RemoteID != "" {
		parts = append(parts, "record "+d.RemoteID)
	}
	if d.Field != "" {
		parts = append(parts, "field "+d.Field)
	}
	if d.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d #%d", d.Page, d.Index))
	}
	return strings.Join(parts, " ") + ": " + d.Reason
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// jsonRun is the exported shape of a run.
type jsonRun struct {
	ID           string               `json:"id"`
	Sequence     int                  `json:"sequence"`
	UserID       string               `json:"user_id"`
	Kind         models.SyncKind      `json:"kind"`
	State        models.RunState      `json:"state"`
	TargetID     string               `json:"target_id,omitempty"`
	TargetName   string               `json:"target_name,omitempty"`
	Counters     models.Counters      `json:"counters"`
	ErrorMessage string               `json:"error_message,omitempty"`
	ErrorDetails []models.ErrorDetail `json:"error_details,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
}

// ExportToJSON converts runs to an indented JSON array.
func ExportToJSON(runs []*models.SyncRun) ([]byte, error) {
	out := make([]jsonRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, jsonRun{
			ID:           run.ID,
			Sequence:     run.Sequence,
			UserID:       run.UserID,
			Kind:         run.Kind,
			State:        run.State,
			TargetID:     run.TargetID,
			TargetName:   run.TargetName,
			Counters:     run.Counters,
			ErrorMessage: run.ErrorMessage,
			ErrorDetails: run.ErrorDetails,
			Metadata:     run.Metadata,
			StartedAt:    run.StartedAt.UTC(),
			CompletedAt:  run.CompletedAt,
			DurationMS:   run.Duration.Milliseconds(),
		})
	}
	return shared.MarshalJSON(out, true)
}

// WriteExport renders runs and writes them to path.
//
// Defaults to sync_runs{ext} in the working directory when path is empty.
func WriteExport(runs []*models.SyncRun, format Format, path string) (string, error) {
	if path == "" {
		path = "sync_runs" + format.Ext()
	}

	data, err := ExportRuns(runs, format)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}
