package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

const runColumns = `id, type, status, phase, producer_status, consumer_status, version, cursor,
	pages_completed, collected, total, processed, succeeded, failed, filter, pause_reason, last_error,
	started_at, finished_at, updated_at`

// CreateRun implements journal.RunStore.
func (s *Store) CreateRun(ctx context.Context, run journal.CrawlRun) error {
	c := run.Counters
	_, err := s.db.Exec(ctx, `INSERT INTO crawl_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		run.ID, string(run.Type), string(run.Status), string(run.Phase),
		string(run.ProducerStatus), string(run.ConsumerStatus), run.Version, run.Cursor,
		run.PagesCompleted, c.Collected, c.Total, c.Processed, c.Succeeded, c.Failed,
		string(run.Filter), run.PauseReason, run.LastError,
		run.StartedAt, run.FinishedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun implements journal.RunStore.
func (s *Store) GetRun(ctx context.Context, id string) (journal.CrawlRun, error) {
	return scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs WHERE id = $1`, id))
}

// LatestRun implements journal.RunStore.
func (s *Store) LatestRun(ctx context.Context) (journal.CrawlRun, error) {
	return scanRun(s.db.QueryRow(ctx, `SELECT `+runColumns+` FROM crawl_runs ORDER BY started_at DESC, id DESC LIMIT 1`))
}

// UpdateRun implements journal.RunStore. Only non-nil patch fields are written.
func (s *Store) UpdateRun(ctx context.Context, id string, p journal.RunPatch, at time.Time) error {
	var (
		sets []string
		args = []any{id}
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Phase != nil {
		set("phase", string(*p.Phase))
	}
	if p.ProducerStatus != nil {
		set("producer_status", string(*p.ProducerStatus))
	}
	if p.ConsumerStatus != nil {
		set("consumer_status", string(*p.ConsumerStatus))
	}
	if p.Cursor != nil {
		set("cursor", *p.Cursor)
	}
	if p.PagesCompleted != nil {
		set("pages_completed", *p.PagesCompleted)
	}
	if p.Collected != nil {
		set("collected", *p.Collected)
	}
	if p.Total != nil {
		set("total", *p.Total)
	}
	if p.PauseReason != nil {
		set("pause_reason", *p.PauseReason)
	}
	if p.LastError != nil {
		set("last_error", *p.LastError)
	}
	set("updated_at", at)

	tag, err := s.db.Exec(ctx, `UPDATE crawl_runs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return journal.ErrNotFound
	}
	return nil
}

// IncrementCounters implements journal.RunStore.
func (s *Store) IncrementCounters(ctx context.Context, id string, d journal.RunCounters, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_runs SET
			collected = collected + $2,
			total = total + $3,
			processed = processed + $4,
			succeeded = succeeded + $5,
			failed = failed + $6,
			updated_at = $7
		WHERE id = $1`,
		id, d.Collected, d.Total, d.Processed, d.Succeeded, d.Failed, at)
	if err != nil {
		return fmt.Errorf("increment run counters %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return journal.ErrNotFound
	}
	return nil
}

// FinishRun implements journal.RunStore.
func (s *Store) FinishRun(
	ctx context.Context,
	id string,
	status journal.RunStatus,
	phase journal.Phase,
	lastError string,
	at time.Time,
) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE crawl_runs SET
			status = $2,
			phase = $3,
			last_error = CASE WHEN $4 = '' THEN last_error ELSE $4 END,
			finished_at = $5,
			updated_at = $5
		WHERE id = $1 AND status = 'running'`,
		id, string(status), string(phase), lastError, at)
	if err != nil {
		return false, fmt.Errorf("finish run %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRun(row pgx.Row) (journal.CrawlRun, error) {
	var (
		run                                    journal.CrawlRun
		typ, status, phase, producer, consumer string
		filter                                 string
	)
	err := row.Scan(
		&run.ID, &typ, &status, &phase, &producer, &consumer, &run.Version, &run.Cursor,
		&run.PagesCompleted, &run.Counters.Collected, &run.Counters.Total, &run.Counters.Processed,
		&run.Counters.Succeeded, &run.Counters.Failed, &filter, &run.PauseReason, &run.LastError,
		&run.StartedAt, &run.FinishedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journal.CrawlRun{}, journal.ErrNotFound
		}
		return journal.CrawlRun{}, fmt.Errorf("scan run: %w", err)
	}
	run.Type = journal.RunType(typ)
	run.Status = journal.RunStatus(status)
	run.Phase = journal.Phase(phase)
	run.ProducerStatus = journal.SideStatus(producer)
	run.ConsumerStatus = journal.SideStatus(consumer)
	run.Filter = journal.FetchState(filter)
	return run, nil
}
