package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/extract"
	"github.com/JakeFAU/journal-crawler/internal/httpclient"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/logging"
	"github.com/JakeFAU/journal-crawler/internal/metrics"
	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// Pause reasons recorded on the run.
const (
	ReasonRateLimited = "rate limited"
	ReasonPageLimit   = "page limit reached"
)

// PageSource lists the authoritative source one cursor page at a time.
type PageSource interface {
	ListPage(ctx context.Context, cursor string) (httpclient.Result, error)
}

// CollectorDeps wires a Collector.
type CollectorDeps struct {
	Store  journal.Store
	Source PageSource
	// Enrichment lists the sources that get a pending fetch status for every
	// discovered journal. Defaults to journal.EnrichmentSources().
	Enrichment []journal.Source
	// Archive, when set, receives every raw page.
	Archive journal.BlobStore
	Hasher  journal.Hasher
	Ranker  Ranker
	IDs     journal.IDGenerator
	Clock   journal.Clock
	Events  progress.Emitter
	Logger  *zap.Logger
}

// CollectOptions controls one Collect invocation.
type CollectOptions struct {
	// StartCursor resumes from a persisted cursor; empty starts at the beginning.
	StartCursor string
	// MaxPages bounds the pages fetched by this invocation; <= 0 is unbounded.
	MaxPages int
	// Version reuses an existing generation stamp; empty mints a new one.
	Version string
	// ExistingCollected and ExistingPages carry totals from earlier runs.
	ExistingCollected int64
	ExistingPages     int
}

// CollectResult summarizes a Collect invocation.
type CollectResult struct {
	Status      journal.SideStatus
	Collected   int64
	Pages       int
	Cursor      string
	Version     string
	PauseReason string
}

// Collector is the producer: it walks the authoritative listing in strict
// cursor order and records every journal it finds.
type Collector struct {
	deps   CollectorDeps
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCollector builds a Collector.
func NewCollector(deps CollectorDeps) *Collector {
	if deps.Events == nil {
		deps.Events = progress.Nop
	}
	if len(deps.Enrichment) == 0 {
		deps.Enrichment = journal.EnrichmentSources()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		deps:   deps,
		logger: logger.Named("collector"),
		tracer: otel.Tracer(tracerName),
	}
}

// Collect fetches pages until the listing is exhausted, the page limit is
// reached, the upstream refuses a page, or ctx is canceled. Upstream problems
// pause the collection; only store failures are returned as errors.
func (c *Collector) Collect(ctx context.Context, runID string, opts CollectOptions) (CollectResult, error) {
	res := CollectResult{
		Cursor:    opts.StartCursor,
		Version:   opts.Version,
		Collected: opts.ExistingCollected,
		Pages:     opts.ExistingPages,
	}
	if res.Version == "" {
		version, err := c.deps.IDs.NewID()
		if err != nil {
			return res, fmt.Errorf("mint version: %w", err)
		}
		if err := c.deps.Store.SetCurrentVersion(ctx, version); err != nil {
			return res, fmt.Errorf("set current version: %w", err)
		}
		res.Version = version
	}
	logger := logging.ForRun(c.logger, runID, zap.String("version", res.Version))
	logger.Info("collection started", zap.String("cursor", res.Cursor), zap.Int("pages", res.Pages))

	fetched := 0
	for {
		if ctx.Err() != nil {
			res.Status = journal.SideStopped
			break
		}
		if opts.MaxPages > 0 && fetched >= opts.MaxPages {
			c.pause(runID, &res, ReasonPageLimit)
			break
		}
		done, reason, err := c.collectPage(ctx, runID, &res, logger)
		if err != nil {
			if ctx.Err() != nil {
				res.Status = journal.SideStopped
				break
			}
			return res, err
		}
		if reason != "" {
			if ctx.Err() != nil {
				res.Status = journal.SideStopped
				break
			}
			c.pause(runID, &res, reason)
			break
		}
		fetched++
		if done {
			res.Status = journal.SideCompleted
			break
		}
	}

	logger.Info("collection finished",
		zap.String("status", string(res.Status)),
		zap.Int("pages", res.Pages),
		zap.Int64("collected", res.Collected),
		zap.String("reason", res.PauseReason),
	)
	if res.Status == journal.SideCompleted {
		c.emit(progress.Event{
			RunID:    runID,
			Kind:     progress.KindCollectDone,
			Page:     res.Pages,
			Counters: journal.RunCounters{Collected: res.Collected},
		})
	}
	return res, nil
}

// collectPage fetches and stores the page at res.Cursor. A non-empty reason
// means the upstream refused the page and nothing was written.
func (c *Collector) collectPage(
	ctx context.Context,
	runID string,
	res *CollectResult,
	logger *zap.Logger,
) (done bool, reason string, err error) {
	ctx, span := c.tracer.Start(ctx, "collector.page", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("page", res.Pages+1),
	))
	defer span.End()

	cursor := res.Cursor
	if cursor == "" {
		cursor = "*"
	}
	resp, err := c.deps.Source.ListPage(ctx, cursor)
	switch {
	case err != nil:
		span.RecordError(err)
		return false, fmt.Sprintf("authoritative page request failed: %v", err), nil
	case resp.Status == http.StatusTooManyRequests:
		return false, ReasonRateLimited, nil
	case !resp.OK:
		return false, fmt.Sprintf("authoritative page returned HTTP %d", resp.Status), nil
	}
	page, err := extract.OpenAlexPage(resp.Body)
	if err != nil {
		return false, fmt.Sprintf("authoritative page unreadable: %v", err), nil
	}
	pageNo := res.Pages + 1
	c.archive(ctx, runID, res.Version, pageNo, resp.Body, logger)

	now := c.now()
	var fresh int
	for _, item := range page.Items {
		isNew, err := c.storeItem(ctx, res.Version, item, resp.Status, now, logger)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return false, "", err
		}
		if isNew {
			fresh++
		}
	}

	res.Pages = pageNo
	res.Collected += int64(len(page.Items))
	res.Cursor = page.NextCursor
	patch := journal.RunPatch{
		Cursor:         journal.Ptr(res.Cursor),
		PagesCompleted: journal.Ptr(res.Pages),
		Collected:      journal.Ptr(res.Collected),
	}
	if page.Count > 0 {
		patch.Total = journal.Ptr(page.Count)
	}
	if err := c.deps.Store.UpdateRun(ctx, runID, patch, c.now()); err != nil {
		return false, "", fmt.Errorf("persist cursor: %w", err)
	}
	metrics.ObservePage()
	span.SetAttributes(attribute.Int("items", len(page.Items)), attribute.Int("new", fresh))
	logger.Debug("page stored",
		zap.Int("page", pageNo),
		zap.Int("items", len(page.Items)),
		zap.Int("new", fresh),
		zap.String("next_cursor", res.Cursor),
	)
	c.emit(progress.Event{
		RunID:    runID,
		Kind:     progress.KindCollectProgress,
		Page:     pageNo,
		Cursor:   res.Cursor,
		Counters: journal.RunCounters{Collected: res.Collected, Total: page.Count},
	})
	return res.Cursor == "", "", nil
}

// storeItem upserts one journal and its aliases and opens its fetch status
// rows. Only the authoritative payload is replaced; enrichment stored on the
// record survives, even when a fetcher writes it concurrently.
func (c *Collector) storeItem(
	ctx context.Context,
	version string,
	item extract.Item,
	httpStatus int,
	now time.Time,
	logger *zap.Logger,
) (bool, error) {
	rank, err := lookupRanking(ctx, c.deps.Ranker, item.Authoritative)
	if err != nil {
		logger.Warn("ranking lookup failed", zap.String("journal_id", item.ID), zap.Error(err))
	}
	isNew, err := c.deps.Store.UpdateJournal(ctx, item.ID, now, func(rec *journal.JournalRecord) error {
		if rec.Raw == nil {
			rec.Raw = make(map[journal.Source]json.RawMessage)
		}
		rec.Raw[journal.SourceOpenAlex] = item.Raw
		rec.Version = version
		remerge(rec, rank)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert journal %s: %w", item.ID, err)
	}
	if err := c.deps.Store.UpsertFetchStatus(ctx, journal.FetchStatus{
		JournalID:  item.ID,
		Source:     journal.SourceOpenAlex,
		Version:    version,
		State:      journal.FetchSuccess,
		HTTPStatus: httpStatus,
		UpdatedAt:  now,
	}); err != nil {
		return false, fmt.Errorf("record authoritative status %s: %w", item.ID, err)
	}
	if err := c.deps.Store.InitFetchStatus(ctx, item.ID, version, c.deps.Enrichment, now); err != nil {
		return false, fmt.Errorf("init fetch status %s: %w", item.ID, err)
	}
	for _, alias := range item.Aliases {
		if err := c.deps.Store.UpsertAlias(ctx, alias); err != nil {
			return false, fmt.Errorf("upsert alias %s: %w", alias.ISSN, err)
		}
	}
	return isNew, nil
}

func (c *Collector) archive(ctx context.Context, runID, version string, page int, body []byte, logger *zap.Logger) {
	if c.deps.Archive == nil {
		return
	}
	path := fmt.Sprintf("pages/%s/%06d.json", version, page)
	uri, err := c.deps.Archive.PutObject(ctx, path, "application/json", body)
	if err != nil {
		logger.Warn("archive page failed", zap.Int("page", page), zap.Error(err))
		c.emit(progress.Event{
			RunID:   runID,
			Kind:    progress.KindCollectLog,
			Page:    page,
			Message: fmt.Sprintf("archive page %d: %v", page, err),
		})
		return
	}
	fields := []zap.Field{zap.Int("page", page), zap.String("uri", uri)}
	if c.deps.Hasher != nil {
		if sum, err := c.deps.Hasher.Hash(body); err == nil {
			fields = append(fields, zap.String("sha256", sum))
		}
	}
	logger.Debug("page archived", fields...)
}

func (c *Collector) pause(runID string, res *CollectResult, reason string) {
	res.Status = journal.SidePaused
	res.PauseReason = reason
	c.emit(progress.Event{
		RunID:    runID,
		Kind:     progress.KindCollectPaused,
		Page:     res.Pages,
		Cursor:   res.Cursor,
		Counters: journal.RunCounters{Collected: res.Collected},
		Message:  reason,
	})
}

func (c *Collector) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = c.now()
	}
	c.deps.Events.Emit(evt)
}

func (c *Collector) now() time.Time {
	if c.deps.Clock != nil {
		return c.deps.Clock.Now()
	}
	return time.Now()
}
