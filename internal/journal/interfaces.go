package journal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// JournalStore persists canonical journal records.
type JournalStore interface {
	// UpdateJournal applies fn to the stored record, or to a fresh one holding
	// only the id, and writes the result back. Updates of the same id are
	// serialized. CreatedAt is stamped on insert and UpdatedAt on every write.
	// fn must not call back into the store. Reports whether the record was new.
	UpdateJournal(ctx context.Context, id string, now time.Time, fn func(rec *JournalRecord) error) (bool, error)
	GetJournal(ctx context.Context, id string) (JournalRecord, error)
	CountJournals(ctx context.Context) (int64, error)
}

// AliasStore persists ISSN aliases.
type AliasStore interface {
	UpsertAlias(ctx context.Context, alias IssnAlias) error
	ListAliases(ctx context.Context, journalID string) ([]IssnAlias, error)
	FindByISSN(ctx context.Context, issn string) (IssnAlias, error)
}

// FetchStatusStore persists per-(journal, source, version) fetch outcomes.
type FetchStatusStore interface {
	// InitFetchStatus creates pending rows for sources that have none yet in
	// version; existing rows are left untouched.
	InitFetchStatus(ctx context.Context, journalID, version string, sources []Source, at time.Time) error
	// UpsertFetchStatus writes an outcome and bumps the attempt counter.
	UpsertFetchStatus(ctx context.Context, st FetchStatus) error
	ListFetchStatuses(ctx context.Context, journalID, version string) ([]FetchStatus, error)
	// ListJournalsByState returns up to limit journal ids, ordered by id and
	// strictly greater than after, that have at least one enrichment source in
	// state for version.
	ListJournalsByState(ctx context.Context, version string, state FetchState, after string, limit int) ([]string, error)
	SourceStats(ctx context.Context, version string) ([]SourceStats, error)
}

// RunStore persists crawl runs.
type RunStore interface {
	CreateRun(ctx context.Context, run CrawlRun) error
	GetRun(ctx context.Context, id string) (CrawlRun, error)
	LatestRun(ctx context.Context) (CrawlRun, error)
	UpdateRun(ctx context.Context, id string, patch RunPatch, at time.Time) error
	// IncrementCounters atomically adds delta to the run's counters.
	IncrementCounters(ctx context.Context, id string, delta RunCounters, at time.Time) error
	// FinishRun sets a terminal status only while the run is still running and
	// reports whether the write happened.
	FinishRun(ctx context.Context, id string, status RunStatus, phase Phase, lastError string, at time.Time) (bool, error)
}

// VersionStore holds the current generation stamp.
type VersionStore interface {
	CurrentVersion(ctx context.Context) (string, error)
	SetCurrentVersion(ctx context.Context, version string) error
}

// Resetter clears crawl data ahead of a new full crawl.
type Resetter interface {
	ClearCrawlData(ctx context.Context) error
}

// Store aggregates every persistence capability the pipeline needs.
type Store interface {
	JournalStore
	AliasStore
	FetchStatusStore
	RunStore
	VersionStore
	Resetter
	Ping(ctx context.Context) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints unique ids for runs and versions.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests for archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}
