package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/progress"
	"github.com/JakeFAU/journal-crawler/internal/progress/sinks"
	"github.com/JakeFAU/journal-crawler/internal/sources"
	"github.com/JakeFAU/journal-crawler/internal/storage/memory"
)

type runnerFixture struct {
	store  *memory.Store
	pages  *fakePages
	events *sinks.MemorySink
	runner *Runner
}

func newRunnerFixture(t *testing.T, enrichers []sources.Enricher) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		store:  memory.NewStore(),
		pages:  newFakePages(),
		events: sinks.NewMemorySink(),
	}
	ids := &seqIDs{prefix: "id"}
	f.runner = NewRunner(RunnerDeps{
		Store: f.store,
		Collector: NewCollector(CollectorDeps{
			Store: f.store, Source: f.pages, IDs: ids, Events: f.events,
		}),
		Fetcher: NewFetcher(FetcherDeps{Store: f.store, Enrichers: enrichers, Events: f.events}),
		IDs:     ids,
		Events:  f.events,
	}, RunnerConfig{
		Concurrency:   4,
		PollInterval:  5 * time.Millisecond,
		StatsInterval: 10 * time.Millisecond,
	})
	return f
}

func requireConsistentCounters(t *testing.T, run journal.CrawlRun) {
	t.Helper()
	require.Equal(t, run.Counters.Processed, run.Counters.Succeeded+run.Counters.Failed)
}

func TestRunnerFullRunCompletes(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, hits())
	f.pages.serve("*", okResult(pageBody("c2", 4, items(1, 2)...)))
	f.pages.serve("c2", okResult(pageBody("", 4, items(3, 4)...)))

	run, err := f.runner.Execute(context.Background(), RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	require.Equal(t, journal.RunCompleted, run.Status)
	require.Equal(t, journal.PhaseCompleted, run.Phase)
	require.Equal(t, journal.SideCompleted, run.ProducerStatus)
	require.Equal(t, journal.SideCompleted, run.ConsumerStatus)
	require.Equal(t, 2, run.PagesCompleted)
	require.Equal(t, int64(4), run.Counters.Collected)
	require.Equal(t, int64(4), run.Counters.Processed)
	requireConsistentCounters(t, run)
	require.NotNil(t, run.FinishedAt)

	stats, err := f.store.SourceStats(context.Background(), run.Version)
	require.NoError(t, err)
	require.Len(t, stats, len(journal.AllSources()))
	for _, s := range stats {
		require.Zero(t, s.Pending, s.Source)
		require.Equal(t, int64(4), s.Total(), s.Source)
	}

	done := f.events.ByKind(progress.KindRunDone)
	require.Len(t, done, 1)
	require.Equal(t, journal.RunCompleted, done[0].Status)
	require.NotEmpty(t, f.events.ByKind(progress.KindStats))
	for _, evt := range f.events.Events() {
		require.NoError(t, evt.Validate(), evt.Kind)
	}
	_, active := f.runner.Active()
	require.False(t, active)
}

func TestRunnerPauseThenContinue(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, hits())
	ctx := context.Background()
	f.pages.serve("*", okResult(pageBody("c2", 3, items(1, 2)...)))
	f.pages.serve("c2", statusResult(http.StatusTooManyRequests))

	paused, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	require.Equal(t, journal.RunRunning, paused.Status)
	require.Equal(t, journal.SidePaused, paused.ProducerStatus)
	require.Equal(t, journal.SideCompleted, paused.ConsumerStatus)
	require.Equal(t, ReasonRateLimited, paused.PauseReason)
	require.Equal(t, "c2", paused.Cursor)
	require.True(t, paused.Paused())
	require.Equal(t, int64(2), paused.Counters.Processed)
	require.Empty(t, f.events.ByKind(progress.KindRunDone))

	f.pages.serve("c2", okResult(pageBody("", 3, items(3, 3)...)))
	resumed, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunContinue})
	require.NoError(t, err)
	require.NotEqual(t, paused.ID, resumed.ID)
	require.Equal(t, journal.RunCompleted, resumed.Status)
	require.Equal(t, paused.Version, resumed.Version)
	require.Equal(t, 2, resumed.PagesCompleted)
	require.Equal(t, int64(3), resumed.Counters.Collected)
	require.Equal(t, int64(3), resumed.Counters.Processed)
	requireConsistentCounters(t, resumed)
	require.Equal(t, []string{"*", "c2", "c2"}, f.pages.requested())

	old, err := f.store.GetRun(ctx, paused.ID)
	require.NoError(t, err)
	require.Equal(t, journal.RunStopped, old.Status)
	require.Contains(t, old.LastError, resumed.ID)

	n, err := f.store.CountJournals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestRunnerContinueAfterCompletedCollection(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, hits())
	ctx := context.Background()
	f.pages.serve("*", okResult(pageBody("", 1, items(1, 1)...)))

	_, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	run, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunContinue})
	require.NoError(t, err)
	require.Equal(t, journal.RunCompleted, run.Status)
	require.Equal(t, journal.SideCompleted, run.ProducerStatus)
	require.Equal(t, []string{"*"}, f.pages.requested(), "collection is not restarted")
}

func TestRunnerRetryReworksFailedRows(t *testing.T) {
	t.Parallel()
	var healthy atomic.Bool
	enrichers := hits()
	enrichers[1] = &fakeEnricher{source: journal.SourceDOAJ, respond: func(sources.Key) (httpclient.Result, error) {
		if healthy.Load() {
			return okResult([]byte(`{"results":[{"bibjson":{"title":"DOAJ Title"}}]}`)), nil
		}
		return statusResult(http.StatusServiceUnavailable), nil
	}}
	f := newRunnerFixture(t, enrichers)
	ctx := context.Background()
	f.pages.serve("*", okResult(pageBody("", 2, items(1, 2)...)))

	full, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	require.Equal(t, int64(2), full.Counters.Failed)

	healthy.Store(true)
	retry, err := f.runner.Execute(ctx, RunRequest{Type: journal.RunRetry})
	require.NoError(t, err)
	require.Equal(t, journal.RunCompleted, retry.Status)
	require.Equal(t, journal.SideSkipped, retry.ProducerStatus)
	require.Equal(t, journal.FetchFailed, retry.Filter)
	require.Equal(t, full.Version, retry.Version)
	require.Equal(t, int64(2), retry.Counters.Processed)
	require.Equal(t, int64(2), retry.Counters.Succeeded)
	require.Equal(t, []string{"*"}, f.pages.requested())

	stats, err := f.store.SourceStats(ctx, full.Version)
	require.NoError(t, err)
	for _, s := range stats {
		require.Zero(t, s.Failed, s.Source)
	}
	rec, err := f.store.GetJournal(ctx, "S001")
	require.NoError(t, err)
	require.Equal(t, "DOAJ Title", rec.Fields.Title)
}

func TestRunnerStopWins(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, hits())
	ctx := context.Background()
	f.pages.serve("*", okResult(pageBody("c2", 4, items(1, 2)...)))
	f.pages.block["c2"] = true

	runID, err := f.runner.Start(ctx, RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	_, err = f.runner.Start(ctx, RunRequest{Type: journal.RunFull})
	require.ErrorIs(t, err, ErrRunActive)

	require.Eventually(t, func() bool { return len(f.pages.requested()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.runner.Stop(ctx, runID))
	require.NoError(t, f.runner.Wait(ctx))

	run, err := f.store.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, journal.RunStopped, run.Status)
	require.Empty(t, run.LastError)
	requireConsistentCounters(t, run)
	done := f.events.ByKind(progress.KindRunDone)
	require.Len(t, done, 1)
	require.Equal(t, journal.RunStopped, done[0].Status)

	require.ErrorIs(t, f.runner.Stop(ctx, runID), ErrRunNotRunning)
	require.ErrorIs(t, f.runner.Stop(ctx, "missing"), journal.ErrNotFound)
}

// failingStatusStore refuses to record enrichment outcomes.
type failingStatusStore struct {
	*memory.Store
}

func (s failingStatusStore) UpsertFetchStatus(ctx context.Context, st journal.FetchStatus) error {
	if st.Source != journal.SourceOpenAlex {
		return errors.New("db gone")
	}
	return s.Store.UpsertFetchStatus(ctx, st)
}

func TestRunnerStoreFailureMarksFailed(t *testing.T) {
	t.Parallel()
	store := failingStatusStore{Store: memory.NewStore()}
	pages := newFakePages()
	pages.serve("*", okResult(pageBody("", 2, items(1, 2)...)))
	events := sinks.NewMemorySink()
	ids := &seqIDs{prefix: "id"}
	runner := NewRunner(RunnerDeps{
		Store:     store,
		Collector: NewCollector(CollectorDeps{Store: store, Source: pages, IDs: ids, Events: events}),
		Fetcher:   NewFetcher(FetcherDeps{Store: store, Enrichers: hits(), Events: events}),
		IDs:       ids,
		Events:    events,
	}, RunnerConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond})

	run, err := runner.Execute(context.Background(), RunRequest{Type: journal.RunFull})
	require.NoError(t, err)
	require.Equal(t, journal.RunFailed, run.Status)
	require.Equal(t, journal.PhaseFailed, run.Phase)
	require.Contains(t, run.LastError, "db gone")
	require.NotNil(t, run.FinishedAt)

	done := events.ByKind(progress.KindRunDone)
	require.Len(t, done, 1)
	require.Equal(t, journal.RunFailed, done[0].Status)
	_, active := runner.Active()
	require.False(t, active)
}

func TestRunnerNeedsHistoryToResume(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, hits())
	_, err := f.runner.Execute(context.Background(), RunRequest{Type: journal.RunContinue})
	require.ErrorIs(t, err, ErrNothingToResume)
	_, err = f.runner.Execute(context.Background(), RunRequest{Type: journal.RunRetry})
	require.ErrorIs(t, err, ErrNothingToResume)
	_, err = f.runner.Execute(context.Background(), RunRequest{Type: "bogus"})
	require.Error(t, err)
	_, active := f.runner.Active()
	require.False(t, active)
}
