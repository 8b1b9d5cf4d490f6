package rankings

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

var (
	fileYear       = regexp.MustCompile(`(?i)^JCR(\d{4}).*\.csv$`)
	impactColumn   = regexp.MustCompile(`(?i)^IF\s*\((\d{4})\)$`)
	quartileColumn = regexp.MustCompile(`(?i)^IF\s+Quartile\s*\((\d{4})\)$`)
)

// ErrNoJournalColumn is returned for a CSV without a Journal header.
var ErrNoJournalColumn = errors.New("csv has no Journal column")

// Importer loads yearly JCR CSV exports into the rankings database.
type Importer struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewImporter builds an Importer.
func NewImporter(db *sql.DB, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{db: db, logger: logger}
}

// Import loads every JCR<year>*.csv file in dir and returns the number of rows
// written per file name.
func (im *Importer) Import(ctx context.Context, dir string) (map[string]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rankings dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && fileYear.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	counts := make(map[string]int, len(names))
	for _, name := range names {
		n, err := im.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return counts, fmt.Errorf("import %s: %w", name, err)
		}
		counts[name] = n
		im.logger.Info("imported rankings file", zap.String("file", name), zap.Int("rows", n))
	}
	return counts, nil
}

// ImportFile loads one CSV. The year comes from the file name, falling back to
// the year in the impact factor column header.
func (im *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("read header: %w", err)
	}
	cols, year := mapColumns(header)
	if m := fileYear.FindStringSubmatch(filepath.Base(path)); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	if cols.journal < 0 {
		return 0, ErrNoJournalColumn
	}
	if year == 0 {
		return 0, fmt.Errorf("cannot determine ranking year for %s", filepath.Base(path))
	}

	tx, err := im.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO jcr
		(year, journal, issn, eissn, category, impact_factor, quartile)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	n := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read row %d: %w", n+1, err)
		}
		name := cell(record, cols.journal)
		if !name.Valid {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			year,
			name,
			issnCell(record, cols.issn),
			issnCell(record, cols.eissn),
			cell(record, cols.category),
			floatCell(record, cols.impact),
			cell(record, cols.quartile),
		); err != nil {
			return n, fmt.Errorf("insert %q: %w", name.String, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

type columns struct {
	journal, issn, eissn, category, impact, quartile int
}

func mapColumns(header []string) (columns, int) {
	cols := columns{journal: -1, issn: -1, eissn: -1, category: -1, impact: -1, quartile: -1}
	year := 0
	for i, raw := range header {
		name := strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF"))
		switch {
		case strings.EqualFold(name, "Journal"), strings.EqualFold(name, "Journal Name"):
			cols.journal = i
		case strings.EqualFold(name, "ISSN"):
			cols.issn = i
		case strings.EqualFold(name, "eISSN"):
			cols.eissn = i
		case strings.EqualFold(name, "Category"):
			cols.category = i
		case impactColumn.MatchString(name):
			cols.impact = i
			year, _ = strconv.Atoi(impactColumn.FindStringSubmatch(name)[1])
		case quartileColumn.MatchString(name):
			cols.quartile = i
		}
	}
	return cols, year
}

func cell(record []string, i int) sql.NullString {
	if i < 0 || i >= len(record) {
		return sql.NullString{}
	}
	v := strings.TrimSpace(record[i])
	return sql.NullString{String: v, Valid: v != ""}
}

func issnCell(record []string, i int) sql.NullString {
	v := cell(record, i)
	if !v.Valid {
		return v
	}
	if issn, err := journal.NormalizeISSN(v.String); err == nil {
		v.String = issn
	}
	return v
}

func floatCell(record []string, i int) sql.NullFloat64 {
	v := cell(record, i)
	if !v.Valid {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v.String, ",", ""), 64)
	if err != nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
