package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/trackx/internal/formatter"
	"github.com/desertthunder/trackx/internal/models"
	"github.com/desertthunder/trackx/internal/shared"
	"github.com/urfave/cli/v3"
)

// HistoryList prints a page of ledger entries in the requested format.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	if err := r.openStore(cmd); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	filter := models.RunFilter{
		UserID: r.userID(cmd),
		State:  models.RunState(cmd.String("state")),
		Offset: int(cmd.Int("offset")),
		Limit:  int(cmd.Int("limit")),
	}
	if kind := cmd.String("kind"); kind != "" {
		filter.Kind = models.SyncKind(kind)
		if !filter.Kind.Valid() {
			return fmt.Errorf("%w: unknown kind %q", shared.ErrInvalidArgument, kind)
		}
	}
	if since := cmd.String("since"); since != "" {
		t, err := parseSince(since, time.Now())
		if err != nil {
			return err
		}
		filter.Since = &t
	}

	page, err := r.history().ListRuns(ctx, filter)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteExport(page.Runs, format, path)
		if err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %d runs to %s\n", len(page.Runs), written)
	}

	data, err := formatter.ExportRuns(page.Runs, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if page.HasMore && format == formatter.FormatText {
		r.writePlainln("More runs available: --offset %d", page.Offset+len(page.Runs))
	}
	return nil
}

// HistoryShow prints one run with its full error log.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: run id", shared.ErrMissingArgument)
	}
	if err := r.openStore(cmd); err != nil {
		return err
	}

	run, err := r.history().Get(ctx, id)
	if err != nil {
		return err
	}
	return r.writePlain("%s", formatter.FormatRunDetail(run))
}

// parseSince accepts a duration relative to now, an RFC3339 timestamp or a date.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: since %q is not a duration, RFC3339 time or date", shared.ErrInvalidArgument, s)
}
