// Package memory provides in-process implementations of the persistence
// collaborators for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

type statusKey struct {
	journalID string
	source    journal.Source
	version   string
}

// Store is a mutex-guarded journal.Store.
type Store struct {
	mu       sync.RWMutex
	journals map[string]journal.JournalRecord
	aliases  map[string]journal.IssnAlias
	statuses map[statusKey]journal.FetchStatus
	runs     map[string]journal.CrawlRun
	runOrder []string
	version  string
}

var _ journal.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{runs: make(map[string]journal.CrawlRun)}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.journals = make(map[string]journal.JournalRecord)
	s.aliases = make(map[string]journal.IssnAlias)
	s.statuses = make(map[statusKey]journal.FetchStatus)
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// UpdateJournal implements journal.JournalStore. fn runs under the store lock.
func (s *Store) UpdateJournal(
	_ context.Context,
	id string,
	now time.Time,
	fn func(rec *journal.JournalRecord) error,
) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("journal id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.journals[id]
	rec := journal.JournalRecord{ID: id}
	if exists {
		rec = prev.Clone()
	}
	if err := fn(&rec); err != nil {
		return false, err
	}
	rec.ID = id
	rec.CreatedAt = now
	if exists {
		rec.CreatedAt = prev.CreatedAt
	}
	rec.UpdatedAt = now
	s.journals[id] = rec.Clone()
	return !exists, nil
}

// GetJournal implements journal.JournalStore.
func (s *Store) GetJournal(_ context.Context, id string) (journal.JournalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.journals[id]
	if !ok {
		return journal.JournalRecord{}, journal.ErrNotFound
	}
	return rec.Clone(), nil
}

// CountJournals implements journal.JournalStore.
func (s *Store) CountJournals(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.journals)), nil
}

// UpsertAlias implements journal.AliasStore.
func (s *Store) UpsertAlias(_ context.Context, alias journal.IssnAlias) error {
	issn, err := journal.NormalizeISSN(alias.ISSN)
	if err != nil {
		return err
	}
	alias.ISSN = issn
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[issn] = alias
	return nil
}

// ListAliases implements journal.AliasStore.
func (s *Store) ListAliases(_ context.Context, journalID string) ([]journal.IssnAlias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []journal.IssnAlias
	for _, a := range s.aliases {
		if a.JournalID == journalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind.Rank() != out[j].Kind.Rank() {
			return out[i].Kind.Rank() < out[j].Kind.Rank()
		}
		return out[i].ISSN < out[j].ISSN
	})
	return out, nil
}

// FindByISSN implements journal.AliasStore.
func (s *Store) FindByISSN(_ context.Context, raw string) (journal.IssnAlias, error) {
	issn, err := journal.NormalizeISSN(raw)
	if err != nil {
		return journal.IssnAlias{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.aliases[issn]
	if !ok {
		return journal.IssnAlias{}, journal.ErrNotFound
	}
	return a, nil
}

// InitFetchStatus implements journal.FetchStatusStore.
func (s *Store) InitFetchStatus(_ context.Context, journalID, version string, sources []journal.Source, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		k := statusKey{journalID, src, version}
		if _, ok := s.statuses[k]; ok {
			continue
		}
		s.statuses[k] = journal.FetchStatus{
			JournalID: journalID,
			Source:    src,
			Version:   version,
			State:     journal.FetchPending,
			UpdatedAt: at,
		}
	}
	return nil
}

// UpsertFetchStatus implements journal.FetchStatusStore.
func (s *Store) UpsertFetchStatus(_ context.Context, st journal.FetchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := statusKey{st.JournalID, st.Source, st.Version}
	st.Attempts = s.statuses[k].Attempts + 1
	s.statuses[k] = st
	return nil
}

// ListFetchStatuses implements journal.FetchStatusStore.
func (s *Store) ListFetchStatuses(_ context.Context, journalID, version string) ([]journal.FetchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []journal.FetchStatus
	for _, src := range journal.AllSources() {
		if st, ok := s.statuses[statusKey{journalID, src, version}]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// ListJournalsByState implements journal.FetchStatusStore.
func (s *Store) ListJournalsByState(
	_ context.Context,
	version string,
	state journal.FetchState,
	after string,
	limit int,
) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k, st := range s.statuses {
		if k.version != version || k.source == journal.SourceOpenAlex || st.State != state || k.journalID <= after {
			continue
		}
		seen[k.journalID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// SourceStats implements journal.FetchStatusStore.
func (s *Store) SourceStats(_ context.Context, version string) ([]journal.SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySource := make(map[journal.Source]*journal.SourceStats)
	for k, st := range s.statuses {
		if k.version != version {
			continue
		}
		agg, ok := bySource[k.source]
		if !ok {
			agg = &journal.SourceStats{Source: k.source}
			bySource[k.source] = agg
		}
		agg.Add(st.State, 1)
	}
	var out []journal.SourceStats
	for _, src := range journal.AllSources() {
		if agg, ok := bySource[src]; ok {
			out = append(out, *agg)
		}
	}
	return out, nil
}

// CreateRun implements journal.RunStore.
func (s *Store) CreateRun(_ context.Context, run journal.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

// GetRun implements journal.RunStore.
func (s *Store) GetRun(_ context.Context, id string) (journal.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return journal.CrawlRun{}, journal.ErrNotFound
	}
	return run, nil
}

// LatestRun implements journal.RunStore.
func (s *Store) LatestRun(context.Context) (journal.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runOrder) == 0 {
		return journal.CrawlRun{}, journal.ErrNotFound
	}
	return s.runs[s.runOrder[len(s.runOrder)-1]], nil
}

// UpdateRun implements journal.RunStore.
func (s *Store) UpdateRun(_ context.Context, id string, p journal.RunPatch, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return journal.ErrNotFound
	}
	if p.Phase != nil {
		run.Phase = *p.Phase
	}
	if p.ProducerStatus != nil {
		run.ProducerStatus = *p.ProducerStatus
	}
	if p.ConsumerStatus != nil {
		run.ConsumerStatus = *p.ConsumerStatus
	}
	if p.Cursor != nil {
		run.Cursor = *p.Cursor
	}
	if p.PagesCompleted != nil {
		run.PagesCompleted = *p.PagesCompleted
	}
	if p.Collected != nil {
		run.Counters.Collected = *p.Collected
	}
	if p.Total != nil {
		run.Counters.Total = *p.Total
	}
	if p.PauseReason != nil {
		run.PauseReason = *p.PauseReason
	}
	if p.LastError != nil {
		run.LastError = *p.LastError
	}
	run.UpdatedAt = at
	s.runs[id] = run
	return nil
}

// IncrementCounters implements journal.RunStore.
func (s *Store) IncrementCounters(_ context.Context, id string, d journal.RunCounters, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return journal.ErrNotFound
	}
	run.Counters.Collected += d.Collected
	run.Counters.Total += d.Total
	run.Counters.Processed += d.Processed
	run.Counters.Succeeded += d.Succeeded
	run.Counters.Failed += d.Failed
	run.UpdatedAt = at
	s.runs[id] = run
	return nil
}

// FinishRun implements journal.RunStore.
func (s *Store) FinishRun(
	_ context.Context,
	id string,
	status journal.RunStatus,
	phase journal.Phase,
	lastError string,
	at time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, journal.ErrNotFound
	}
	if run.Status != journal.RunRunning {
		return false, nil
	}
	run.Status = status
	run.Phase = phase
	if lastError != "" {
		run.LastError = lastError
	}
	run.FinishedAt = &at
	run.UpdatedAt = at
	s.runs[id] = run
	return true, nil
}

// CurrentVersion implements journal.VersionStore.
func (s *Store) CurrentVersion(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.version == "" {
		return "", journal.ErrNotFound
	}
	return s.version, nil
}

// SetCurrentVersion implements journal.VersionStore.
func (s *Store) SetCurrentVersion(_ context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	return nil
}

// ClearCrawlData drops journals, aliases and fetch statuses. Run history is
// kept.
func (s *Store) ClearCrawlData(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
