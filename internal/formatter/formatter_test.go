package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
	th "github.com/desertthunder/trackx/internal/testing"
)

func sampleRuns() []*models.SyncRun {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(2500 * time.Millisecond)
	failedAt := started.Add(time.Hour + time.Second)

	return []*models.SyncRun{
		{
			ID:           "run-2",
			Sequence:     2,
			UserID:       "u1",
			Kind:         models.KindProjectSync,
			State:        models.RunFailed,
			TargetID:     "10000",
			TargetName:   "ENG",
			Counters:     models.Counters{Created: 2, Failed: 1, Total: 3},
			StartedAt:    started.Add(time.Hour),
			CompletedAt:  &failedAt,
			Duration:     time.Second,
			ErrorMessage: "sync aborted: context canceled",
			ErrorDetails: []models.ErrorDetail{
				{Kind: models.DetailMapping, RemoteID: "10001", Field: "fields.created", Reason: "invalid timestamp", Page: 1, Index: 1},
				{Kind: models.DetailCancelled, Reason: "sync aborted: context canceled", Page: 2},
			},
		},
		{
			ID:          "run-1",
			Sequence:    1,
			UserID:      "u1",
			Kind:        models.KindUserImport,
			State:       models.RunCompleted,
			Counters:    models.Counters{Created: 10, Updated: 1, Total: 12},
			StartedAt:   started,
			CompletedAt: &completed,
			Duration:    2500 * time.Millisecond,
			Metadata:    map[string]any{"pages": 1},
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "TXT": FormatText, "csv": FormatCSV, "md": FormatMarkdown, "json": FormatJSON}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestExporters(t *testing.T) {
	runs := sampleRuns()

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(runs)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		lines := strings.Split(strings.TrimSpace(output), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header and 2 rows, got %d lines", len(lines))
		}
		if !strings.HasPrefix(lines[0], "Sequence,ID,Kind,State,Target") {
			t.Errorf("CSV missing headers, got: %s", lines[0])
		}
		if !strings.Contains(lines[1], "2,run-2,project_sync,failed,ENG,2,0,1,3") {
			t.Errorf("unexpected failed row: %s", lines[1])
		}
		if !strings.Contains(lines[2], ",-,") {
			t.Errorf("expected placeholder target for untargeted run: %s", lines[2])
		}
		if !strings.Contains(lines[2], ",2500,") {
			t.Errorf("expected duration in ms: %s", lines[2])
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(runs)
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# Sync History",
			"**Runs**: 2",
			"| 2 | project_sync | ENG | failed | 2 | 0 | 1 | 3 |",
			"## Run 2 (run-2)",
			"- [mapping] record 10001 field fields.created page 1 #1: invalid timestamp",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
		if strings.Contains(output, "## Run 1 ") {
			t.Error("completed run without errors should not get an error section")
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(runs)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "KIND") || !strings.Contains(output, "user_import") {
			t.Errorf("unexpected text output:\n%s", output)
		}
		if !strings.Contains(output, "2.5s") {
			t.Errorf("expected rounded duration, got:\n%s", output)
		}

		empty, _ := ExportToText(nil)
		if string(empty) != "No sync runs recorded.\n" {
			t.Errorf("unexpected empty output %q", empty)
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(runs)
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded []map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(decoded))
		}
		if decoded[1]["duration_ms"].(float64) != 2500 {
			t.Errorf("expected duration_ms 2500, got %v", decoded[1]["duration_ms"])
		}
		details := decoded[0]["error_details"].([]any)
		if len(details) != 2 {
			t.Errorf("expected 2 error details, got %d", len(details))
		}
	})

	t.Run("FormatRunDetail", func(t *testing.T) {
		th.AssertContains(t, FormatRunDetail(runs[0]),
			"Run:       2 (run-2)",
			"2 created, 0 updated, 0 unchanged, 1 failed (3 total)",
			"Error log:",
			"[cancelled]",
		)
	})
}

func TestWriteExport(t *testing.T) {
	runs := sampleRuns()

	for _, format := range []Format{FormatText, FormatCSV, FormatMarkdown, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "history"+format.Ext())

			written, err := WriteExport(runs, format, path)
			if err != nil {
				t.Fatalf("WriteExport failed: %v", err)
			}
			if written != path {
				t.Errorf("expected %s, got %s", path, written)
			}

			th.AssertFileExists(t, path)
			if content := th.MustReadFile(t, path); !strings.Contains(content, "run-2") && format != FormatText {
				t.Errorf("expected run id in %s export", format)
			}
		})
	}

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := WriteExport(runs, Format("xml"), filepath.Join(t.TempDir(), "x")); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}
