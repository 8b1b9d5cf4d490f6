package journal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source names an upstream API.
type Source string

// Upstream sources queried by the pipeline.
const (
	SourceOpenAlex  Source = "openalex"
	SourceCrossref  Source = "crossref"
	SourceDOAJ      Source = "doaj"
	SourceNLM       Source = "nlm"
	SourceWikidata  Source = "wikidata"
	SourceWikipedia Source = "wikipedia"
)

// ProvenanceJCR tags fields that came from the local rankings database.
const ProvenanceJCR = "jcr"

// EnrichmentSources returns the secondary sources in their query order.
func EnrichmentSources() []Source {
	return []Source{SourceCrossref, SourceDOAJ, SourceNLM, SourceWikidata, SourceWikipedia}
}

// AllSources returns the authoritative source followed by the enrichment sources.
func AllSources() []Source {
	return append([]Source{SourceOpenAlex}, EnrichmentSources()...)
}

// ParseSource validates a source key.
func ParseSource(s string) (Source, error) {
	for _, src := range AllSources() {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// FetchState is the outcome of one (journal, source, version) lookup.
type FetchState string

// Fetch states.
const (
	FetchPending FetchState = "pending"
	FetchSuccess FetchState = "success"
	FetchNoData  FetchState = "no_data"
	FetchFailed  FetchState = "failed"
)

// Terminal reports whether the state no longer needs work.
func (s FetchState) Terminal() bool {
	return s == FetchSuccess || s == FetchNoData || s == FetchFailed
}

// ParseFetchState validates a fetch state string.
func ParseFetchState(s string) (FetchState, error) {
	switch st := FetchState(s); st {
	case FetchPending, FetchSuccess, FetchNoData, FetchFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown fetch state %q", s)
	}
}

// AliasKind classifies an ISSN relative to its journal.
type AliasKind string

// Alias kinds in lookup preference order.
const (
	AliasLinking    AliasKind = "linking"
	AliasPrint      AliasKind = "print"
	AliasElectronic AliasKind = "electronic"
	AliasUnknown    AliasKind = "unknown"
)

// Rank orders alias kinds; lower ranks are preferred for lookups.
func (k AliasKind) Rank() int {
	switch k {
	case AliasLinking:
		return 0
	case AliasPrint:
		return 1
	case AliasElectronic:
		return 2
	default:
		return 3
	}
}

// IssnAlias maps a normalized ISSN to a journal.
type IssnAlias struct {
	ISSN      string    `json:"issn"`
	JournalID string    `json:"journal_id"`
	Kind      AliasKind `json:"kind"`
	Source    Source    `json:"source"`
}

// AggregatedFields holds the merged, canonical view of a journal.
type AggregatedFields struct {
	Title            string   `json:"title,omitempty"`
	Publisher        string   `json:"publisher,omitempty"`
	Country          string   `json:"country,omitempty"`
	Homepage         string   `json:"homepage,omitempty"`
	OpenAccess       *bool    `json:"open_access,omitempty"`
	Languages        []string `json:"languages,omitempty"`
	Subjects         []string `json:"subjects,omitempty"`
	InNLM            bool     `json:"in_nlm"`
	NLMIDs           []string `json:"nlm_ids,omitempty"`
	InWikidata       bool     `json:"in_wikidata"`
	WikidataID       string   `json:"wikidata_id,omitempty"`
	InWikipedia      bool     `json:"in_wikipedia"`
	WikipediaURL     string   `json:"wikipedia_url,omitempty"`
	WikipediaExtract string   `json:"wikipedia_extract,omitempty"`
	ImpactFactor     *float64 `json:"impact_factor,omitempty"`
	JCRQuartile      string   `json:"jcr_quartile,omitempty"`
	JCRYear          int      `json:"jcr_year,omitempty"`
}

// JournalRecord is the canonical entity keyed by the authoritative id.
type JournalRecord struct {
	ID         string                     `json:"id"`
	Version    string                     `json:"version"`
	Raw        map[Source]json.RawMessage `json:"raw,omitempty"`
	Fields     AggregatedFields           `json:"fields"`
	Provenance map[string]string          `json:"provenance,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without sharing maps.
func (r JournalRecord) Clone() JournalRecord {
	out := r
	if r.Raw != nil {
		out.Raw = make(map[Source]json.RawMessage, len(r.Raw))
		for k, v := range r.Raw {
			out.Raw[k] = append(json.RawMessage(nil), v...)
		}
	}
	if r.Provenance != nil {
		out.Provenance = make(map[string]string, len(r.Provenance))
		for k, v := range r.Provenance {
			out.Provenance[k] = v
		}
	}
	out.Fields.Languages = append([]string(nil), r.Fields.Languages...)
	out.Fields.Subjects = append([]string(nil), r.Fields.Subjects...)
	out.Fields.NLMIDs = append([]string(nil), r.Fields.NLMIDs...)
	return out
}

// FetchStatus is the per-(journal, source, version) enrichment outcome.
type FetchStatus struct {
	JournalID  string     `json:"journal_id"`
	Source     Source     `json:"source"`
	Version    string     `json:"version"`
	State      FetchState `json:"state"`
	HTTPStatus int        `json:"http_status,omitempty"`
	Message    string     `json:"message,omitempty"`
	Attempts   int        `json:"attempts"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// SourceStats counts fetch states for one source within a version.
type SourceStats struct {
	Source  Source `json:"source"`
	Pending int64  `json:"pending"`
	Success int64  `json:"success"`
	NoData  int64  `json:"no_data"`
	Failed  int64  `json:"failed"`
}

// Total returns the number of rows counted.
func (s SourceStats) Total() int64 {
	return s.Pending + s.Success + s.NoData + s.Failed
}

// Add increments the bucket for state.
func (s *SourceStats) Add(state FetchState, n int64) {
	switch state {
	case FetchPending:
		s.Pending += n
	case FetchSuccess:
		s.Success += n
	case FetchNoData:
		s.NoData += n
	case FetchFailed:
		s.Failed += n
	}
}

// RunType selects what a crawl run does.
type RunType string

// Run types.
const (
	RunFull     RunType = "full"
	RunContinue RunType = "continue"
	RunRetry    RunType = "retry"
)

// ParseRunType validates a run type string.
func ParseRunType(s string) (RunType, error) {
	switch rt := RunType(s); rt {
	case RunFull, RunContinue, RunRetry:
		return rt, nil
	default:
		return "", fmt.Errorf("unknown run type %q", s)
	}
}

// RunStatus is the overall status of a crawl run.
type RunStatus string

// Run statuses.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further writes are expected.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunStopped || s == RunFailed
}

// Phase describes what a running crawl is doing.
type Phase string

// Run phases.
const (
	PhaseCollecting Phase = "collecting"
	PhaseFetching   Phase = "fetching"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// SideStatus is the independent status of the producer or consumer.
type SideStatus string

// Producer and consumer statuses.
const (
	SideIdle      SideStatus = ""
	SideRunning   SideStatus = "running"
	SidePaused    SideStatus = "paused"
	SideWaiting   SideStatus = "waiting"
	SideCompleted SideStatus = "completed"
	SideStopped   SideStatus = "stopped"
	SideFailed    SideStatus = "failed"
	SideSkipped   SideStatus = "skipped"
)

// ProducerFinished reports whether a producer status means no more journals
// will be discovered by this run.
func (s SideStatus) ProducerFinished() bool {
	switch s {
	case SideCompleted, SidePaused, SideStopped, SideFailed, SideSkipped:
		return true
	default:
		return false
	}
}

// RunCounters are the cumulative counters of a crawl run.
type RunCounters struct {
	Collected int64 `json:"collected"`
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// CrawlRun is one invocation of the pipeline.
type CrawlRun struct {
	ID             string      `json:"id"`
	Type           RunType     `json:"type"`
	Status         RunStatus   `json:"status"`
	Phase          Phase       `json:"phase"`
	ProducerStatus SideStatus  `json:"producer_status"`
	ConsumerStatus SideStatus  `json:"consumer_status"`
	Version        string      `json:"version"`
	Cursor         string      `json:"cursor"`
	PagesCompleted int         `json:"pages_completed"`
	Counters       RunCounters `json:"counters"`
	Filter         FetchState  `json:"filter,omitempty"`
	PauseReason    string      `json:"pause_reason,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Paused reports the non-terminal condition where the producer stopped early
// and the consumer has drained what it produced.
func (r CrawlRun) Paused() bool {
	return r.Status == RunRunning && r.ProducerStatus == SidePaused &&
		(r.ConsumerStatus == SideCompleted || r.ConsumerStatus == SideIdle)
}

// RunPatch carries optional field updates for a run. Nil fields are left
// untouched.
type RunPatch struct {
	Phase          *Phase
	ProducerStatus *SideStatus
	ConsumerStatus *SideStatus
	Cursor         *string
	PagesCompleted *int
	Collected      *int64
	Total          *int64
	PauseReason    *string
	LastError      *string
}

// Ptr returns a pointer to v; handy for building RunPatch values.
func Ptr[T any](v T) *T {
	return &v
}
