package rankings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/merge"
)

// Index answers ranking lookups for the detail fetcher.
type Index struct {
	db *sql.DB
}

// NewIndex wraps an open rankings database.
func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

const selectRanking = `SELECT year, impact_factor, COALESCE(quartile, ''), COALESCE(category, '') FROM jcr `

// Lookup returns the latest-year ranking for a journal, matching any of issns
// against ISSN or eISSN first and the title case-insensitively second.
func (ix *Index) Lookup(ctx context.Context, issns []string, title string) (merge.Ranking, bool, error) {
	var normalized []any
	for _, raw := range issns {
		if issn, err := journal.NormalizeISSN(raw); err == nil {
			normalized = append(normalized, issn)
		}
	}
	if len(normalized) > 0 {
		in := strings.TrimSuffix(strings.Repeat("?,", len(normalized)), ",")
		query := selectRanking + `WHERE issn IN (` + in + `) OR eissn IN (` + in + `) ORDER BY year DESC LIMIT 1`
		args := append(append([]any{}, normalized...), normalized...)
		rank, ok, err := ix.scan(ix.db.QueryRowContext(ctx, query, args...))
		if err != nil || ok {
			return rank, ok, err
		}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return merge.Ranking{}, false, nil
	}
	return ix.scan(ix.db.QueryRowContext(ctx,
		selectRanking+`WHERE journal = ? COLLATE NOCASE ORDER BY year DESC LIMIT 1`, title))
}

func (ix *Index) scan(row *sql.Row) (merge.Ranking, bool, error) {
	var (
		rank merge.Ranking
		impf sql.NullFloat64
	)
	if err := row.Scan(&rank.Year, &impf, &rank.Quartile, &rank.Category); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return merge.Ranking{}, false, nil
		}
		return merge.Ranking{}, false, fmt.Errorf("lookup ranking: %w", err)
	}
	if impf.Valid {
		v := impf.Float64
		rank.ImpactFactor = &v
	}
	return rank, true, nil
}
