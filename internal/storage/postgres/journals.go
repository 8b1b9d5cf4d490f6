package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

const selectJournal = `
	SELECT id, version, raw, fields, provenance, created_at, updated_at
	FROM journals WHERE id = $1`

// UpdateJournal implements journal.JournalStore. The row is claimed with an
// insert that does nothing on conflict and then locked FOR UPDATE, so
// concurrent writers of the same journal apply their changes in turn.
func (s *Store) UpdateJournal(
	ctx context.Context,
	id string,
	now time.Time,
	fn func(rec *journal.JournalRecord) error,
) (created bool, err error) {
	if id == "" {
		return false, fmt.Errorf("journal id is required")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin journal update %s: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO journals (id, version, created_at, updated_at)
		VALUES ($1, '', $2, $2)
		ON CONFLICT (id) DO NOTHING`, id, now)
	if err != nil {
		return false, fmt.Errorf("claim journal %s: %w", id, err)
	}
	created = tag.RowsAffected() == 1

	rec, err := scanJournal(tx.QueryRow(ctx, selectJournal+` FOR UPDATE`, id))
	if err != nil {
		return false, fmt.Errorf("lock journal %s: %w", id, err)
	}
	if err = fn(&rec); err != nil {
		return false, err
	}

	raw, err := json.Marshal(nonNilRaw(rec.Raw))
	if err != nil {
		return false, fmt.Errorf("marshal raw: %w", err)
	}
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return false, fmt.Errorf("marshal fields: %w", err)
	}
	prov, err := json.Marshal(nonNilProvenance(rec.Provenance))
	if err != nil {
		return false, fmt.Errorf("marshal provenance: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE journals
		SET version = $2, raw = $3, fields = $4, provenance = $5, updated_at = $6
		WHERE id = $1`,
		id, rec.Version, raw, fields, prov, now)
	if err != nil {
		return false, fmt.Errorf("update journal %s: %w", id, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit journal %s: %w", id, err)
	}
	return created, nil
}

// GetJournal implements journal.JournalStore.
func (s *Store) GetJournal(ctx context.Context, id string) (journal.JournalRecord, error) {
	rec, err := scanJournal(s.db.QueryRow(ctx, selectJournal, id))
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return journal.JournalRecord{}, err
		}
		return journal.JournalRecord{}, fmt.Errorf("get journal %s: %w", id, err)
	}
	return rec, nil
}

func scanJournal(row pgx.Row) (journal.JournalRecord, error) {
	var (
		rec               journal.JournalRecord
		raw, fields, prov []byte
	)
	err := row.Scan(&rec.ID, &rec.Version, &raw, &fields, &prov, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journal.JournalRecord{}, journal.ErrNotFound
		}
		return journal.JournalRecord{}, err
	}
	if err := json.Unmarshal(raw, &rec.Raw); err != nil {
		return journal.JournalRecord{}, fmt.Errorf("decode raw: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return journal.JournalRecord{}, fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal(prov, &rec.Provenance); err != nil {
		return journal.JournalRecord{}, fmt.Errorf("decode provenance: %w", err)
	}
	return rec, nil
}

// CountJournals implements journal.JournalStore.
func (s *Store) CountJournals(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM journals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journals: %w", err)
	}
	return n, nil
}

// UpsertAlias implements journal.AliasStore.
func (s *Store) UpsertAlias(ctx context.Context, alias journal.IssnAlias) error {
	issn, err := journal.NormalizeISSN(alias.ISSN)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO issn_aliases (issn, journal_id, kind, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (issn) DO UPDATE SET
			journal_id = EXCLUDED.journal_id,
			kind = EXCLUDED.kind,
			source = EXCLUDED.source`,
		issn, alias.JournalID, string(alias.Kind), string(alias.Source))
	if err != nil {
		return fmt.Errorf("upsert alias %s: %w", issn, err)
	}
	return nil
}

// ListAliases implements journal.AliasStore.
func (s *Store) ListAliases(ctx context.Context, journalID string) ([]journal.IssnAlias, error) {
	rows, err := s.db.Query(ctx, `
		SELECT issn, journal_id, kind, source FROM issn_aliases
		WHERE journal_id = $1
		ORDER BY CASE kind WHEN 'linking' THEN 0 WHEN 'print' THEN 1 WHEN 'electronic' THEN 2 ELSE 3 END, issn`,
		journalID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []journal.IssnAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return out, nil
}

// FindByISSN implements journal.AliasStore.
func (s *Store) FindByISSN(ctx context.Context, raw string) (journal.IssnAlias, error) {
	issn, err := journal.NormalizeISSN(raw)
	if err != nil {
		return journal.IssnAlias{}, err
	}
	a, err := scanAlias(s.db.QueryRow(ctx,
		`SELECT issn, journal_id, kind, source FROM issn_aliases WHERE issn = $1`, issn))
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.IssnAlias{}, journal.ErrNotFound
	}
	return a, err
}

func scanAlias(row pgx.Row) (journal.IssnAlias, error) {
	var a journal.IssnAlias
	var kind, source string
	if err := row.Scan(&a.ISSN, &a.JournalID, &kind, &source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan alias: %w", err)
	}
	a.Kind = journal.AliasKind(kind)
	a.Source = journal.Source(source)
	return a, nil
}

func nonNilRaw(m map[journal.Source]json.RawMessage) map[journal.Source]json.RawMessage {
	if m == nil {
		return map[journal.Source]json.RawMessage{}
	}
	return m
}

func nonNilProvenance(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
