package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-crawler/internal/app"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
)

func TestMain(m *testing.M) {
	newApp = func(ctx context.Context, e *env) (*app.App, error) {
		return app.New(ctx, e.cfg, app.Options{
			ConfigPath: e.configPath,
			Logger:     e.logger,
			Registerer: prometheus.NewRegistry(),
		})
	}
	os.Exit(m.Run())
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseRunFlags(t *testing.T) {
	t.Parallel()

	req, err := parseRunFlags("retry", "no_data")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunRequest{Type: journal.RunRetry, Filter: journal.FetchNoData}, req)

	req, err = parseRunFlags("continue", "")
	require.NoError(t, err)
	require.Equal(t, journal.RunContinue, req.Type)

	_, err = parseRunFlags("sideways", "")
	require.Error(t, err)
	_, err = parseRunFlags("full", "failed")
	require.ErrorContains(t, err, "only applies to retry")
	_, err = parseRunFlags("retry", "maybe")
	require.Error(t, err)
}

func TestStatsWithoutHistory(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\n")
	out, err := run(t, "stats", "--config", cfg)
	require.NoError(t, err)
	require.Contains(t, out, "no crawl has run yet")
}

func TestCrawlRejectsBadType(t *testing.T) {
	t.Parallel()

	_, err := run(t, "crawl", "--type", "sideways")
	require.ErrorContains(t, err, "unknown run type")
}

func TestImportJCR(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "JCR2023.csv"),
		[]byte("Journal,ISSN,IF(2023),IF Quartile(2023)\nCELL,0092-8674,45.5,Q1\nNATURE,0028-0836,50.5,Q1\n"), 0o600))
	dbPath := filepath.Join(t.TempDir(), "jcr.db")
	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\n")

	out, err := run(t, "import-jcr", "--config", cfg, "--dir", dir, "--db", dbPath)
	require.NoError(t, err)
	require.Contains(t, out, "JCR2023.csv\t2")

	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestImportJCRNeedsPaths(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "logging:\n  development: false\n  level: error\n")
	_, err := run(t, "import-jcr", "--config", cfg)
	require.ErrorContains(t, err, "required")
}
