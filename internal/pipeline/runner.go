package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/logging"
	"github.com/JakeFAU/journal-crawler/internal/progress"
)

var (
	// ErrRunActive is returned when a run is started while another is active.
	ErrRunActive = errors.New("a crawl run is already active")
	// ErrNothingToResume is returned by continue and retry runs when no crawl
	// has been started yet.
	ErrNothingToResume = errors.New("no previous crawl to resume")
	// ErrRunNotRunning is returned when stopping a run that already finished.
	ErrRunNotRunning = errors.New("run is not running")
)

// RunRequest asks the Runner for a run.
type RunRequest struct {
	Type journal.RunType `json:"type"`
	// Filter is the fetch state a retry run works; defaults to failed.
	Filter journal.FetchState `json:"filter,omitempty"`
}

// RunnerConfig tunes the pipeline.
type RunnerConfig struct {
	Concurrency   int
	Serial        bool
	Warmup        time.Duration
	PollInterval  time.Duration
	MaxPages      int
	StatsInterval time.Duration
	BatchSize     int
}

// RunnerDeps wires a Runner.
type RunnerDeps struct {
	Store     journal.Store
	Collector *Collector
	Fetcher   *Fetcher
	IDs       journal.IDGenerator
	Clock     journal.Clock
	Events    progress.Emitter
	Logger    *zap.Logger
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner orchestrates full, continue and retry runs. At most one run is
// active per Runner.
type Runner struct {
	deps   RunnerDeps
	cfg    RunnerConfig
	logger *zap.Logger

	mu     sync.Mutex
	active *activeRun
}

// NewRunner builds a Runner.
func NewRunner(deps RunnerDeps, cfg RunnerConfig) *Runner {
	if deps.Events == nil {
		deps.Events = progress.Nop
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("runner")}
}

// plan is a prepared run plus what it has to do.
type plan struct {
	run     journal.CrawlRun
	collect bool
	// pipeline selects the fetcher submode; retry runs use batch.
	pipeline bool
}

// Start prepares a run and executes it in the background. It returns once
// the run row exists.
func (r *Runner) Start(ctx context.Context, req RunRequest) (string, error) {
	p, runCtx, err := r.begin(ctx, req)
	if err != nil {
		return "", err
	}
	go r.execute(runCtx, p)
	return p.run.ID, nil
}

// Execute prepares a run and blocks until it ends, returning the final row.
func (r *Runner) Execute(ctx context.Context, req RunRequest) (journal.CrawlRun, error) {
	p, runCtx, err := r.begin(ctx, req)
	if err != nil {
		return journal.CrawlRun{}, err
	}
	r.execute(runCtx, p)
	run, err := r.deps.Store.GetRun(context.WithoutCancel(ctx), p.run.ID)
	if err != nil {
		return journal.CrawlRun{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// Stop marks a running run stopped and cancels it. The stopped status is
// written first so no later status write can replace it.
func (r *Runner) Stop(ctx context.Context, runID string) error {
	run, err := r.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != journal.RunRunning {
		return ErrRunNotRunning
	}
	if _, err := r.deps.Store.FinishRun(ctx, runID, journal.RunStopped, run.Phase, "", r.now()); err != nil {
		return fmt.Errorf("stop run: %w", err)
	}
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active != nil && active.id == runID {
		active.cancel()
	}
	r.logger.Info("run stopped", zap.String("run_id", runID))
	return nil
}

// Active returns the id of the active run, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.id, true
}

// Wait blocks until the active run, if any, has finished or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return nil
	}
	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin claims the active slot and persists the run row.
func (r *Runner) begin(ctx context.Context, req RunRequest) (plan, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return plan{}, nil, ErrRunActive
	}
	p, err := r.prepare(ctx, req)
	if err != nil {
		return plan{}, nil, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.active = &activeRun{id: p.run.ID, cancel: cancel, done: make(chan struct{})}
	return p, runCtx, nil
}

func (r *Runner) prepare(ctx context.Context, req RunRequest) (plan, error) {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		return plan{}, fmt.Errorf("mint run id: %w", err)
	}
	now := r.now()
	run := journal.CrawlRun{
		ID:        id,
		Type:      req.Type,
		Status:    journal.RunRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
	var p plan

	switch req.Type {
	case journal.RunFull:
		if err := r.supersede(ctx, id); err != nil {
			return plan{}, err
		}
		if err := r.deps.Store.ClearCrawlData(ctx); err != nil {
			return plan{}, fmt.Errorf("clear crawl data: %w", err)
		}
		version, err := r.deps.IDs.NewID()
		if err != nil {
			return plan{}, fmt.Errorf("mint version: %w", err)
		}
		if err := r.deps.Store.SetCurrentVersion(ctx, version); err != nil {
			return plan{}, fmt.Errorf("set current version: %w", err)
		}
		run.Version = version
		run.Phase = journal.PhaseCollecting
		run.ProducerStatus = journal.SideRunning
		p.collect, p.pipeline = true, true

	case journal.RunContinue:
		last, err := r.deps.Store.LatestRun(ctx)
		if errors.Is(err, journal.ErrNotFound) {
			return plan{}, ErrNothingToResume
		}
		if err != nil {
			return plan{}, fmt.Errorf("load latest run: %w", err)
		}
		if err := r.supersede(ctx, id); err != nil {
			return plan{}, err
		}
		run.Version = last.Version
		run.Cursor = last.Cursor
		run.PagesCompleted = last.PagesCompleted
		run.Counters = last.Counters
		if collectionFinished(last) {
			run.Phase = journal.PhaseFetching
			run.ProducerStatus = journal.SideCompleted
		} else {
			run.Phase = journal.PhaseCollecting
			run.ProducerStatus = journal.SideRunning
			p.collect = true
		}
		p.pipeline = true

	case journal.RunRetry:
		version, err := r.deps.Store.CurrentVersion(ctx)
		if errors.Is(err, journal.ErrNotFound) {
			return plan{}, ErrNothingToResume
		}
		if err != nil {
			return plan{}, fmt.Errorf("load current version: %w", err)
		}
		if last, err := r.deps.Store.LatestRun(ctx); err == nil {
			if err := r.supersede(ctx, id); err != nil {
				return plan{}, err
			}
			run.Cursor = last.Cursor
			run.PagesCompleted = last.PagesCompleted
			run.Counters.Collected = last.Counters.Collected
			run.Counters.Total = last.Counters.Total
		}
		run.Version = version
		run.Phase = journal.PhaseFetching
		run.ProducerStatus = journal.SideSkipped
		run.Filter = req.Filter
		if run.Filter == "" {
			run.Filter = journal.FetchFailed
		}

	default:
		return plan{}, fmt.Errorf("unknown run type %q", req.Type)
	}

	if run.Version == "" {
		if run.Version, err = r.deps.Store.CurrentVersion(ctx); err != nil {
			return plan{}, fmt.Errorf("load current version: %w", err)
		}
	}
	if err := r.deps.Store.CreateRun(ctx, run); err != nil {
		return plan{}, fmt.Errorf("create run: %w", err)
	}
	p.run = run
	return p, nil
}

// collectionFinished reports whether the authoritative listing was walked to
// its end. A producer left running by a crashed process counts as paused.
func collectionFinished(run journal.CrawlRun) bool {
	if run.ProducerStatus == journal.SideCompleted {
		return true
	}
	return run.Cursor == "" && run.PagesCompleted > 0
}

// supersede ends a previous run that is still marked running, which is the
// case for paused runs and runs abandoned by a crashed process.
func (r *Runner) supersede(ctx context.Context, nextID string) error {
	last, err := r.deps.Store.LatestRun(ctx)
	if errors.Is(err, journal.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}
	if last.Status != journal.RunRunning {
		return nil
	}
	if _, err := r.deps.Store.FinishRun(ctx, last.ID, journal.RunStopped, last.Phase,
		"superseded by run "+nextID, r.now()); err != nil {
		return fmt.Errorf("supersede run %s: %w", last.ID, err)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, p plan) {
	run := p.run
	logger := logging.ForRun(r.logger, run.ID, zap.String("type", string(run.Type)))
	start := r.now()
	defer func() {
		r.mu.Lock()
		active := r.active
		r.active = nil
		r.mu.Unlock()
		if active != nil {
			active.cancel()
			close(active.done)
		}
	}()

	logger.Info("run started", zap.String("version", run.Version), zap.Bool("collect", p.collect))
	r.emit(progress.Event{
		RunID:    run.ID,
		Kind:     progress.KindPhaseChange,
		Phase:    run.Phase,
		Producer: run.ProducerStatus,
		Consumer: run.ConsumerStatus,
		Message:  "started",
	})

	statsDone := make(chan struct{})
	statsStopped := make(chan struct{})
	go func() {
		defer close(statsStopped)
		r.reportStats(ctx, run.ID, run.Version, statsDone)
	}()

	collected, err := r.drive(ctx, p, logger)
	close(statsDone)
	<-statsStopped

	bg := context.WithoutCancel(ctx)
	switch {
	case ctx.Err() != nil:
		r.finish(bg, run.ID, journal.RunStopped, r.phaseOf(bg, run.ID), "", logger)
	case err != nil:
		logger.Error("run failed", zap.Error(err))
		r.finish(bg, run.ID, journal.RunFailed, journal.PhaseFailed, err.Error(), logger)
	case p.collect && collected.Status == journal.SidePaused:
		logger.Info("run paused", zap.String("reason", collected.PauseReason))
		r.emitStatus(bg, run.ID, "paused: "+collected.PauseReason)
	default:
		r.finish(bg, run.ID, journal.RunCompleted, journal.PhaseCompleted, "", logger)
	}
	r.emitStats(bg, run.ID, run.Version)

	final, err := r.deps.Store.GetRun(bg, run.ID)
	if err != nil {
		logger.Error("load finished run failed", zap.Error(err))
		return
	}
	if final.Status.Terminal() {
		r.emit(progress.Event{
			RunID:    run.ID,
			Kind:     progress.KindRunDone,
			Status:   final.Status,
			Phase:    final.Phase,
			Counters: final.Counters,
			Message:  final.LastError,
			Dur:      r.now().Sub(start),
		})
	}
	logger.Info("run ended",
		zap.String("status", string(final.Status)),
		zap.Int64("processed", final.Counters.Processed),
		zap.Duration("dur", r.now().Sub(start)),
	)
}

// drive runs the collector and the fetcher for p and records side statuses.
func (r *Runner) drive(ctx context.Context, p plan, logger *zap.Logger) (CollectResult, error) {
	run := p.run
	var collected CollectResult
	g, gctx := errgroup.WithContext(ctx)

	if p.collect {
		g.Go(func() error {
			res, err := r.deps.Collector.Collect(gctx, run.ID, CollectOptions{
				StartCursor:       run.Cursor,
				MaxPages:          r.cfg.MaxPages,
				Version:           run.Version,
				ExistingCollected: run.Counters.Collected,
				ExistingPages:     run.PagesCompleted,
			})
			if err != nil {
				return fmt.Errorf("collect: %w", err)
			}
			collected = res
			patch := journal.RunPatch{
				ProducerStatus: journal.Ptr(res.Status),
				Phase:          journal.Ptr(journal.PhaseFetching),
			}
			if res.PauseReason != "" {
				patch.PauseReason = journal.Ptr(res.PauseReason)
			}
			if err := r.deps.Store.UpdateRun(context.WithoutCancel(gctx), run.ID, patch, r.now()); err != nil {
				return fmt.Errorf("record producer status: %w", err)
			}
			r.emitStatus(gctx, run.ID, "collector "+string(res.Status))
			return nil
		})
	}

	g.Go(func() error {
		if p.collect && r.cfg.Warmup > 0 {
			if err := sleepCtx(gctx, r.cfg.Warmup); err != nil {
				return nil
			}
		}
		if err := r.deps.Store.UpdateRun(gctx, run.ID, journal.RunPatch{
			ConsumerStatus: journal.Ptr(journal.SideRunning),
		}, r.now()); err != nil {
			return fmt.Errorf("record consumer status: %w", err)
		}
		res, err := r.deps.Fetcher.FetchDetails(gctx, run.ID, FetchOptions{
			Version:      run.Version,
			Filter:       r.filterFor(run),
			Concurrency:  r.cfg.Concurrency,
			Serial:       r.cfg.Serial,
			Pipeline:     p.pipeline,
			PollInterval: r.cfg.PollInterval,
			BatchSize:    r.cfg.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("fetch details: %w", err)
		}
		if err := r.deps.Store.UpdateRun(context.WithoutCancel(gctx), run.ID, journal.RunPatch{
			ConsumerStatus: journal.Ptr(res.Status),
		}, r.now()); err != nil {
			return fmt.Errorf("record consumer status: %w", err)
		}
		logger.Debug("consumer finished", zap.String("status", string(res.Status)), zap.Int64("processed", res.Processed))
		r.emitStatus(gctx, run.ID, "fetcher "+string(res.Status))
		return nil
	})

	err := g.Wait()
	return collected, err
}

func (r *Runner) filterFor(run journal.CrawlRun) journal.FetchState {
	if run.Type == journal.RunRetry {
		return run.Filter
	}
	return journal.FetchPending
}

func (r *Runner) finish(
	ctx context.Context,
	runID string,
	status journal.RunStatus,
	phase journal.Phase,
	lastError string,
	logger *zap.Logger,
) {
	written, err := r.deps.Store.FinishRun(ctx, runID, status, phase, lastError, r.now())
	if err != nil {
		logger.Error("finish run failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !written {
		logger.Debug("run already finished", zap.String("status", string(status)))
	}
}

func (r *Runner) phaseOf(ctx context.Context, runID string) journal.Phase {
	run, err := r.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return journal.PhaseFailed
	}
	return run.Phase
}

func (r *Runner) reportStats(ctx context.Context, runID, version string, done <-chan struct{}) {
	if r.cfg.StatsInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.emitStats(ctx, runID, version)
		}
	}
}

// emitStats publishes per-source fetch state counts and the run counters.
func (r *Runner) emitStats(ctx context.Context, runID, version string) {
	stats, err := r.deps.Store.SourceStats(ctx, version)
	if err != nil {
		r.logger.Warn("load source stats failed", zap.String("run_id", runID), zap.Error(err))
		return
	}
	evt := progress.Event{RunID: runID, Kind: progress.KindStats, Stats: stats}
	if run, err := r.deps.Store.GetRun(ctx, runID); err == nil {
		evt.Counters = run.Counters
	}
	r.emit(evt)
}

// emitStatus publishes the combined producer and consumer status.
func (r *Runner) emitStatus(ctx context.Context, runID, msg string) {
	run, err := r.deps.Store.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		return
	}
	r.emit(progress.Event{
		RunID:    runID,
		Kind:     progress.KindPipelineStatus,
		Phase:    run.Phase,
		Producer: run.ProducerStatus,
		Consumer: run.ConsumerStatus,
		Counters: run.Counters,
		Message:  msg,
	})
}

func (r *Runner) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.deps.Events.Emit(evt)
}

func (r *Runner) now() time.Time {
	if r.deps.Clock != nil {
		return r.deps.Clock.Now()
	}
	return time.Now()
}
