package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/journal-crawler/internal/extract"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/logging"
	"github.com/JakeFAU/journal-crawler/internal/metrics"
	"github.com/JakeFAU/journal-crawler/internal/progress"
	"github.com/JakeFAU/journal-crawler/internal/sources"
)

// Fetcher defaults.
const (
	DefaultConcurrency  = 30
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 500
)

const msgSourceDisabled = "source disabled"

// FetcherDeps wires a Fetcher.
type FetcherDeps struct {
	Store     journal.Store
	Enrichers []sources.Enricher
	Ranker    Ranker
	Clock     journal.Clock
	Events    progress.Emitter
	Logger    *zap.Logger
}

// FetchOptions controls one FetchDetails invocation.
type FetchOptions struct {
	Version string
	// Filter selects which fetch states are worked; defaults to pending.
	Filter      journal.FetchState
	Concurrency int
	Serial      bool
	// Pipeline keeps polling for new work until the run's producer finishes.
	Pipeline     bool
	PollInterval time.Duration
	BatchSize    int
}

// FetchResult summarizes a FetchDetails invocation.
type FetchResult struct {
	Status    journal.SideStatus
	Processed int64
	Succeeded int64
	Failed    int64
}

// Fetcher is the consumer: it enriches journals from every secondary source
// and merges what it finds into the stored record.
type Fetcher struct {
	deps      FetcherDeps
	enrichers map[journal.Source]sources.Enricher
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewFetcher builds a Fetcher.
func NewFetcher(deps FetcherDeps) *Fetcher {
	if deps.Events == nil {
		deps.Events = progress.Nop
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	enrichers := make(map[journal.Source]sources.Enricher, len(deps.Enrichers))
	for _, e := range deps.Enrichers {
		enrichers[e.Source()] = e
	}
	return &Fetcher{
		deps:      deps,
		enrichers: enrichers,
		logger:    logger.Named("fetcher"),
		tracer:    otel.Tracer(tracerName),
	}
}

// tally accumulates per-invocation counters across workers.
type tally struct {
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (t *tally) counters() journal.RunCounters {
	return journal.RunCounters{
		Processed: t.processed.Load(),
		Succeeded: t.succeeded.Load(),
		Failed:    t.failed.Load(),
	}
}

// FetchDetails works every journal with a source in opts.Filter. Upstream
// problems are recorded per source; only store failures are returned.
func (f *Fetcher) FetchDetails(ctx context.Context, runID string, opts FetchOptions) (FetchResult, error) {
	if opts.Filter == "" {
		opts.Filter = journal.FetchPending
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := logging.ForRun(f.logger, runID,
		zap.String("version", opts.Version),
		zap.String("filter", string(opts.Filter)),
	)
	logger.Info("detail fetch started", zap.Bool("pipeline", opts.Pipeline), zap.Bool("serial", opts.Serial))

	var (
		t   tally
		err error
	)
	if opts.Pipeline {
		err = f.pipeline(ctx, runID, opts, &t, logger)
	} else {
		var ids []string
		ids, err = f.snapshot(ctx, opts, nil)
		if err == nil {
			err = f.work(ctx, runID, opts, ids, &t, logger)
		}
	}

	res := FetchResult{
		Status:    journal.SideCompleted,
		Processed: t.processed.Load(),
		Succeeded: t.succeeded.Load(),
		Failed:    t.failed.Load(),
	}
	if ctx.Err() != nil {
		res.Status = journal.SideStopped
		err = nil
	}
	if err != nil {
		res.Status = journal.SideFailed
		return res, err
	}
	logger.Info("detail fetch finished",
		zap.String("status", string(res.Status)),
		zap.Int64("processed", res.Processed),
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("failed", res.Failed),
	)
	if res.Status == journal.SideCompleted {
		f.emit(progress.Event{RunID: runID, Kind: progress.KindFetchDone, Counters: t.counters()})
	}
	return res, nil
}

// pipeline re-polls the work set until it is empty and the producer has
// finished. A journal is worked at most once per invocation.
func (f *Fetcher) pipeline(ctx context.Context, runID string, opts FetchOptions, t *tally, logger *zap.Logger) error {
	seen := make(map[string]struct{})
	waiting := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := f.snapshot(ctx, opts, seen)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if waiting {
				waiting = false
				f.setConsumer(ctx, runID, journal.SideRunning, logger)
			}
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			if err := f.work(ctx, runID, opts, ids, t, logger); err != nil {
				return err
			}
			continue
		}

		run, err := f.deps.Store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("load run: %w", err)
		}
		if run.ProducerStatus.ProducerFinished() {
			// The producer may have stored a last page between the poll above
			// and the status read.
			ids, err := f.snapshot(ctx, opts, seen)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}
			continue
		}
		if !waiting {
			waiting = true
			f.setConsumer(ctx, runID, journal.SideWaiting, logger)
		}
		f.emit(progress.Event{
			RunID:    runID,
			Kind:     progress.KindFetchWaiting,
			Producer: run.ProducerStatus,
			Consumer: journal.SideWaiting,
			Counters: t.counters(),
		})
		if err := sleepCtx(ctx, opts.PollInterval); err != nil {
			return err
		}
	}
}

// snapshot lists every journal id currently in opts.Filter, skipping seen.
func (f *Fetcher) snapshot(ctx context.Context, opts FetchOptions, seen map[string]struct{}) ([]string, error) {
	var (
		out   []string
		after string
	)
	for {
		ids, err := f.deps.Store.ListJournalsByState(ctx, opts.Version, opts.Filter, after, opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("list %s journals: %w", opts.Filter, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				out = append(out, id)
			}
		}
		if len(ids) < opts.BatchSize {
			return out, nil
		}
		after = ids[len(ids)-1]
	}
}

// work processes ids serially or through a bounded worker pool.
func (f *Fetcher) work(ctx context.Context, runID string, opts FetchOptions, ids []string, t *tally, logger *zap.Logger) error {
	if opts.Serial {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f.processJournal(ctx, runID, opts, id, t, logger); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			return f.processJournal(gctx, runID, opts, id, t, logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// lookup is the classified outcome of one source for one journal.
type lookup struct {
	source journal.Source
	state  journal.FetchState
	status int
	msg    string
	body   []byte
}

// processJournal queries every outstanding source for one journal
// concurrently, records each outcome, and merges fresh data.
func (f *Fetcher) processJournal(
	ctx context.Context,
	runID string,
	opts FetchOptions,
	id string,
	t *tally,
	logger *zap.Logger,
) error {
	ctx, span := f.tracer.Start(ctx, "fetcher.journal", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("journal_id", id),
	))
	defer span.End()

	rec, err := f.deps.Store.GetJournal(ctx, id)
	if err != nil {
		return fmt.Errorf("load journal %s: %w", id, err)
	}
	statuses, err := f.deps.Store.ListFetchStatuses(ctx, id, opts.Version)
	if err != nil {
		return fmt.Errorf("load fetch status %s: %w", id, err)
	}
	var todo []journal.Source
	for _, st := range statuses {
		if st.Source != journal.SourceOpenAlex && st.State == opts.Filter {
			todo = append(todo, st.Source)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	aliases, err := f.deps.Store.ListAliases(ctx, id)
	if err != nil {
		return fmt.Errorf("load aliases %s: %w", id, err)
	}
	auth := extract.Input(rec).Authoritative
	title := auth.DisplayName
	if title == "" {
		title = rec.Fields.Title
	}
	key := sources.KeyFor(aliases, title)

	results := make([]lookup, len(todo))
	var wg sync.WaitGroup
	for i, src := range todo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.classify(ctx, src, key)
		}()
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		// Outcomes observed while stopping are not trustworthy; the rows stay
		// as they were.
		return err
	}

	now := f.now()
	ok := true
	fresh := false
	for _, r := range results {
		switch r.state {
		case journal.FetchSuccess:
			fresh = true
		case journal.FetchFailed:
			ok = false
		}
	}

	// Payloads are durable before their status reads success.
	if fresh {
		rank, err := lookupRanking(ctx, f.deps.Ranker, auth)
		if err != nil {
			logger.Warn("ranking lookup failed", zap.String("journal_id", id), zap.Error(err))
		}
		_, err = f.deps.Store.UpdateJournal(ctx, id, now, func(stored *journal.JournalRecord) error {
			if stored.Raw == nil {
				stored.Raw = make(map[journal.Source]json.RawMessage)
			}
			for _, r := range results {
				if r.state == journal.FetchSuccess {
					stored.Raw[r.source] = json.RawMessage(r.body)
				}
			}
			remerge(stored, rank)
			return nil
		})
		if err != nil {
			return fmt.Errorf("upsert journal %s: %w", id, err)
		}
	}

	for _, r := range results {
		if err := f.deps.Store.UpsertFetchStatus(ctx, journal.FetchStatus{
			JournalID:  id,
			Source:     r.source,
			Version:    opts.Version,
			State:      r.state,
			HTTPStatus: r.status,
			Message:    r.msg,
			UpdatedAt:  now,
		}); err != nil {
			return fmt.Errorf("record %s status %s: %w", r.source, id, err)
		}
		f.emit(progress.Event{
			RunID:      runID,
			Kind:       progress.KindFetchResult,
			JournalID:  id,
			Source:     r.source,
			State:      r.state,
			HTTPStatus: r.status,
			Message:    r.msg,
		})
	}

	delta := journal.RunCounters{Processed: 1}
	outcome := "succeeded"
	if ok {
		delta.Succeeded = 1
	} else {
		delta.Failed = 1
		outcome = "failed"
	}
	if err := f.deps.Store.IncrementCounters(ctx, runID, delta, f.now()); err != nil {
		return fmt.Errorf("bump counters: %w", err)
	}
	t.processed.Add(1)
	if ok {
		t.succeeded.Add(1)
	} else {
		t.failed.Add(1)
	}
	metrics.ObserveJournal(outcome)
	span.SetAttributes(attribute.Int("sources", len(todo)), attribute.String("outcome", outcome))
	f.emit(progress.Event{
		RunID:     runID,
		Kind:      progress.KindFetchProgress,
		JournalID: id,
		Counters:  t.counters(),
	})
	return nil
}

// classify maps one source's response to a fetch state.
func (f *Fetcher) classify(ctx context.Context, src journal.Source, key sources.Key) lookup {
	out := lookup{source: src}
	e, ok := f.enrichers[src]
	if !ok {
		out.state, out.msg = journal.FetchNoData, msgSourceDisabled
		return out
	}
	res, err := e.Lookup(ctx, key)
	out.status = res.Status
	switch {
	case errors.Is(err, sources.ErrNoKey):
		out.state, out.msg = journal.FetchNoData, err.Error()
		return out
	case err != nil:
		out.state, out.msg = journal.FetchFailed, err.Error()
		return out
	case res.Status == http.StatusTooManyRequests:
		out.state, out.msg = journal.FetchFailed, "rate limited"
		return out
	case res.Status == http.StatusNotFound && e.NotFoundIsNoData():
		out.state, out.msg = journal.FetchNoData, "not found"
		return out
	case !res.OK:
		out.state, out.msg = journal.FetchFailed, fmt.Sprintf("HTTP %d", res.Status)
		return out
	}
	present, err := extract.Presence(src, res.Body)
	switch {
	case err != nil:
		out.state, out.msg = journal.FetchNoData, err.Error()
	case !present:
		out.state, out.msg = journal.FetchNoData, "no matching record"
	default:
		out.state, out.body = journal.FetchSuccess, res.Body
	}
	return out
}

func (f *Fetcher) setConsumer(ctx context.Context, runID string, status journal.SideStatus, logger *zap.Logger) {
	if err := f.deps.Store.UpdateRun(ctx, runID, journal.RunPatch{ConsumerStatus: journal.Ptr(status)}, f.now()); err != nil {
		logger.Warn("update consumer status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (f *Fetcher) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = f.now()
	}
	f.deps.Events.Emit(evt)
}

func (f *Fetcher) now() time.Time {
	if f.deps.Clock != nil {
		return f.deps.Clock.Now()
	}
	return time.Now()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
