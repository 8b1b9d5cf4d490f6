package rankings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func openTestDB(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "jcr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	writeFile(t, dir, "JCR2020-UTF8.csv", "\uFEFFJournal ,IF (2020)\nNATURE,49.962\nEmpty Journal,\n")
	writeFile(t, dir, "JCR2022-UTF8.csv", "Journal,IF(2022),IF Quartile(2022)\nNATURE,69.504,Q1\n")
	writeFile(t, dir, "JCR2024-UTF8.csv",
		"Journal,ISSN,eISSN,Category,IF(2024),IF Quartile(2024),IF Rank(2024)\n"+
			"PLOS ONE,,1932-6203,MULTIDISCIPLINARY SCIENCES,2.6,Q2,31/135\n"+
			"NATURE,0028-0836,1476-4687,MULTIDISCIPLINARY SCIENCES,48.5,Q1,2/135\n")
	writeFile(t, dir, "README.txt", "ignored")

	counts, err := NewImporter(db, zaptest.NewLogger(t)).Import(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, map[string]int{
		"JCR2020-UTF8.csv": 2,
		"JCR2022-UTF8.csv": 1,
		"JCR2024-UTF8.csv": 2,
	}, counts)
	return NewIndex(db)
}

func TestLookupByISSNPrefersLatestYear(t *testing.T) {
	t.Parallel()
	ix := openTestDB(t)

	rank, ok, err := ix.Lookup(context.Background(), []string{"14764687"}, "")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2024, rank.Year)
	require.Equal(t, "Q1", rank.Quartile)
	require.Equal(t, "MULTIDISCIPLINARY SCIENCES", rank.Category)
	require.NotNil(t, rank.ImpactFactor)
	require.InDelta(t, 48.5, *rank.ImpactFactor, 1e-9)
}

func TestLookupFallsBackToTitle(t *testing.T) {
	t.Parallel()
	ix := openTestDB(t)

	rank, ok, err := ix.Lookup(context.Background(), []string{"9999-9999"}, "Plos One")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2024, rank.Year)

	rank, ok, err = ix.Lookup(context.Background(), nil, "empty journal")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2020, rank.Year)
	require.Nil(t, rank.ImpactFactor)

	_, ok, err = ix.Lookup(context.Background(), nil, "Unknown Quarterly")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReimportReplacesRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "jcr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "JCR2023.csv")
	writeFile(t, dir, "JCR2023.csv", "Journal,IF(2023)\nCELL,45.5\n")
	im := NewImporter(db, nil)
	_, err = im.ImportFile(ctx, path)
	require.NoError(t, err)
	writeFile(t, dir, "JCR2023.csv", "Journal,IF(2023)\nCELL,46.0\n")
	_, err = im.ImportFile(ctx, path)
	require.NoError(t, err)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jcr`).Scan(&rows))
	require.Equal(t, 1, rows)

	rank, ok, err := NewIndex(db).Lookup(ctx, nil, "cell")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 46.0, *rank.ImpactFactor, 1e-9)
}

func TestImportFileRejectsMissingJournalColumn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "jcr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	writeFile(t, dir, "JCR2021.csv", "Title,IF(2021)\nX,1\n")
	_, err = NewImporter(db, nil).ImportFile(ctx, filepath.Join(dir, "JCR2021.csv"))
	require.ErrorIs(t, err, ErrNoJournalColumn)
}
