package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setRaw(src journal.Source, body string) func(*journal.JournalRecord) error {
	return func(rec *journal.JournalRecord) error {
		if rec.Raw == nil {
			rec.Raw = make(map[journal.Source]json.RawMessage)
		}
		rec.Raw[src] = json.RawMessage(body)
		return nil
	}
}

func TestUpdateJournalStampsTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	created, err := s.UpdateJournal(ctx, "S1", t0, setRaw(journal.SourceOpenAlex, `{"id":"S1"}`))
	require.NoError(t, err)
	require.True(t, created)

	later := t0.Add(time.Hour)
	created, err = s.UpdateJournal(ctx, "S1", later, setRaw(journal.SourceNLM, `{}`))
	require.NoError(t, err)
	require.False(t, created)

	rec, err := s.GetJournal(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, t0, rec.CreatedAt)
	require.Equal(t, later, rec.UpdatedAt)
	require.Contains(t, rec.Raw, journal.SourceOpenAlex)
	require.Contains(t, rec.Raw, journal.SourceNLM)

	rec.Raw[journal.SourceNLM] = json.RawMessage(`{"mutated":true}`)
	again, err := s.GetJournal(ctx, "S1")
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(again.Raw[journal.SourceNLM]))

	_, err = s.GetJournal(ctx, "missing")
	require.ErrorIs(t, err, journal.ErrNotFound)
}

func TestUpdateJournalAbortsOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	boom := errors.New("boom")
	_, err := s.UpdateJournal(ctx, "S1", t0, func(*journal.JournalRecord) error { return boom })
	require.ErrorIs(t, err, boom)
	_, err = s.GetJournal(ctx, "S1")
	require.ErrorIs(t, err, journal.ErrNotFound)

	_, err = s.UpdateJournal(ctx, "", t0, setRaw(journal.SourceNLM, `{}`))
	require.Error(t, err)
}

func TestUpdateJournalConcurrentSourcesAllSurvive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	srcs := append([]journal.Source{journal.SourceOpenAlex}, journal.EnrichmentSources()...)
	var wg sync.WaitGroup
	errs := make([]error, len(srcs))
	for i, src := range srcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.UpdateJournal(ctx, "S1", t0, setRaw(src, `{}`))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rec, err := s.GetJournal(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, rec.Raw, len(srcs))
}

func TestAliases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.UpsertAlias(ctx, journal.IssnAlias{ISSN: "14764687", JournalID: "S1", Kind: journal.AliasElectronic}))
	require.NoError(t, s.UpsertAlias(ctx, journal.IssnAlias{ISSN: "0028-0836", JournalID: "S1", Kind: journal.AliasLinking}))
	require.Error(t, s.UpsertAlias(ctx, journal.IssnAlias{ISSN: "nope", JournalID: "S1"}))

	aliases, err := s.ListAliases(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	require.Equal(t, "0028-0836", aliases[0].ISSN)

	a, err := s.FindByISSN(ctx, "1476 4687")
	require.NoError(t, err)
	require.Equal(t, "S1", a.JournalID)
}

func TestFetchStatusLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	enrich := journal.EnrichmentSources()

	require.NoError(t, s.InitFetchStatus(ctx, "S2", "v1", enrich, t0))
	require.NoError(t, s.InitFetchStatus(ctx, "S1", "v1", enrich, t0))
	require.NoError(t, s.UpsertFetchStatus(ctx, journal.FetchStatus{
		JournalID: "S1", Source: journal.SourceCrossref, Version: "v1", State: journal.FetchFailed, UpdatedAt: t0,
	}))
	// Re-initializing must not reset finished rows.
	require.NoError(t, s.InitFetchStatus(ctx, "S1", "v1", enrich, t0))

	statuses, err := s.ListFetchStatuses(ctx, "S1", "v1")
	require.NoError(t, err)
	require.Len(t, statuses, len(enrich))
	require.Equal(t, journal.FetchFailed, statuses[0].State)
	require.Equal(t, 1, statuses[0].Attempts)

	ids, err := s.ListJournalsByState(ctx, "v1", journal.FetchPending, "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"S1", "S2"}, ids)

	ids, err = s.ListJournalsByState(ctx, "v1", journal.FetchPending, "S1", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"S2"}, ids)

	ids, err = s.ListJournalsByState(ctx, "v1", journal.FetchFailed, "", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"S1"}, ids)

	stats, err := s.SourceStats(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, stats, len(enrich))
	require.Equal(t, journal.SourceStats{Source: journal.SourceCrossref, Pending: 1, Failed: 1}, stats[0])

	require.NoError(t, s.ClearCrawlData(ctx))
	ids, err = s.ListJournalsByState(ctx, "v1", journal.FetchPending, "", 10)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	_, err := s.LatestRun(ctx)
	require.ErrorIs(t, err, journal.ErrNotFound)

	require.NoError(t, s.CreateRun(ctx, journal.CrawlRun{ID: "r1", Status: journal.RunRunning, StartedAt: t0}))
	require.Error(t, s.CreateRun(ctx, journal.CrawlRun{ID: "r1"}))

	require.NoError(t, s.UpdateRun(ctx, "r1", journal.RunPatch{
		Cursor:         journal.Ptr("abc"),
		PagesCompleted: journal.Ptr(2),
		ProducerStatus: journal.Ptr(journal.SidePaused),
	}, t0))
	require.NoError(t, s.IncrementCounters(ctx, "r1", journal.RunCounters{Processed: 3, Succeeded: 2, Failed: 1}, t0))
	require.NoError(t, s.IncrementCounters(ctx, "r1", journal.RunCounters{Processed: 1, Succeeded: 1}, t0))

	ok, err := s.FinishRun(ctx, "r1", journal.RunStopped, journal.PhaseCompleted, "", t0)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.FinishRun(ctx, "r1", journal.RunCompleted, journal.PhaseCompleted, "", t0)
	require.NoError(t, err)
	require.False(t, ok)

	run, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, journal.RunStopped, run.Status)
	require.Equal(t, "abc", run.Cursor)
	require.Equal(t, 2, run.PagesCompleted)
	require.Equal(t, journal.RunCounters{Processed: 4, Succeeded: 3, Failed: 1}, run.Counters)
	require.NotNil(t, run.FinishedAt)
}

func TestVersion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	_, err := s.CurrentVersion(ctx)
	require.ErrorIs(t, err, journal.ErrNotFound)
	require.NoError(t, s.SetCurrentVersion(ctx, "v2"))
	v, err := s.CurrentVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, "v2", v)
}
