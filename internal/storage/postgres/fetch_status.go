package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

// InitFetchStatus implements journal.FetchStatusStore.
func (s *Store) InitFetchStatus(
	ctx context.Context,
	journalID, version string,
	sources []journal.Source,
	at time.Time,
) error {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = string(src)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO fetch_status (journal_id, source, version, state, updated_at)
		SELECT $1, src, $2, 'pending', $4 FROM unnest($3::text[]) AS src
		ON CONFLICT (journal_id, source, version) DO NOTHING`,
		journalID, version, names, at)
	if err != nil {
		return fmt.Errorf("init fetch status %s: %w", journalID, err)
	}
	return nil
}

// UpsertFetchStatus implements journal.FetchStatusStore.
func (s *Store) UpsertFetchStatus(ctx context.Context, st journal.FetchStatus) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO fetch_status (journal_id, source, version, state, http_status, message, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (journal_id, source, version) DO UPDATE SET
			state = EXCLUDED.state,
			http_status = EXCLUDED.http_status,
			message = EXCLUDED.message,
			attempts = fetch_status.attempts + 1,
			updated_at = EXCLUDED.updated_at`,
		st.JournalID, string(st.Source), st.Version, string(st.State), st.HTTPStatus, st.Message, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert fetch status %s/%s: %w", st.JournalID, st.Source, err)
	}
	return nil
}

// ListFetchStatuses implements journal.FetchStatusStore.
func (s *Store) ListFetchStatuses(ctx context.Context, journalID, version string) ([]journal.FetchStatus, error) {
	rows, err := s.db.Query(ctx, `
		SELECT journal_id, source, version, state, http_status, message, attempts, updated_at
		FROM fetch_status WHERE journal_id = $1 AND version = $2`,
		journalID, version)
	if err != nil {
		return nil, fmt.Errorf("list fetch status: %w", err)
	}
	defer rows.Close()

	bySource := make(map[journal.Source]journal.FetchStatus)
	for rows.Next() {
		var (
			st            journal.FetchStatus
			source, state string
		)
		if err := rows.Scan(&st.JournalID, &source, &st.Version, &state,
			&st.HTTPStatus, &st.Message, &st.Attempts, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fetch status: %w", err)
		}
		st.Source = journal.Source(source)
		st.State = journal.FetchState(state)
		bySource[st.Source] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch status: %w", err)
	}
	var out []journal.FetchStatus
	for _, src := range journal.AllSources() {
		if st, ok := bySource[src]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// ListJournalsByState implements journal.FetchStatusStore.
func (s *Store) ListJournalsByState(
	ctx context.Context,
	version string,
	state journal.FetchState,
	after string,
	limit int,
) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT journal_id FROM fetch_status
		WHERE version = $1 AND state = $2 AND source <> 'openalex' AND journal_id > $3
		ORDER BY journal_id
		LIMIT $4`,
		version, string(state), after, limit)
	if err != nil {
		return nil, fmt.Errorf("list journals by state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan journal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal ids: %w", err)
	}
	return ids, nil
}

// SourceStats implements journal.FetchStatusStore.
func (s *Store) SourceStats(ctx context.Context, version string) ([]journal.SourceStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source, state, COUNT(*) FROM fetch_status
		WHERE version = $1
		GROUP BY source, state`, version)
	if err != nil {
		return nil, fmt.Errorf("source stats: %w", err)
	}
	defer rows.Close()

	bySource := make(map[journal.Source]*journal.SourceStats)
	for rows.Next() {
		var (
			source, state string
			n             int64
		)
		if err := rows.Scan(&source, &state, &n); err != nil {
			return nil, fmt.Errorf("scan source stats: %w", err)
		}
		agg, ok := bySource[journal.Source(source)]
		if !ok {
			agg = &journal.SourceStats{Source: journal.Source(source)}
			bySource[agg.Source] = agg
		}
		agg.Add(journal.FetchState(state), n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source stats: %w", err)
	}
	var out []journal.SourceStats
	for _, src := range journal.AllSources() {
		if agg, ok := bySource[src]; ok {
			out = append(out, *agg)
		}
	}
	return out, nil
}
