package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

// Kind names an event type.
type Kind string

// Event kinds.
const (
	KindCollectProgress Kind = "collect.progress"
	KindCollectLog      Kind = "collect.log"
	KindCollectDone     Kind = "collect.done"
	KindCollectPaused   Kind = "collect.paused"
	KindFetchResult     Kind = "fetch.result"
	KindFetchProgress   Kind = "fetch.progress"
	KindFetchLog        Kind = "fetch.log"
	KindFetchWaiting    Kind = "fetch.waiting"
	KindFetchDone       Kind = "fetch.done"
	KindPhaseChange     Kind = "phase.change"
	KindPipelineStatus  Kind = "pipeline.status"
	KindStats           Kind = "stats"
	KindRunDone         Kind = "run.done"
)

// Event is one pipeline notification. Which fields are populated depends on
// Kind.
type Event struct {
	RunID string    `json:"run_id"`
	TS    time.Time `json:"ts"`
	Kind  Kind      `json:"kind"`

	Phase    journal.Phase      `json:"phase,omitempty"`
	Producer journal.SideStatus `json:"producer,omitempty"`
	Consumer journal.SideStatus `json:"consumer,omitempty"`
	Status   journal.RunStatus  `json:"status,omitempty"`

	// Collector fields.
	Page   int    `json:"page,omitempty"`
	Cursor string `json:"cursor,omitempty"`

	// Per-journal fetch fields.
	JournalID  string             `json:"journal_id,omitempty"`
	Source     journal.Source     `json:"source,omitempty"`
	State      journal.FetchState `json:"state,omitempty"`
	HTTPStatus int                `json:"http_status,omitempty"`

	Counters journal.RunCounters   `json:"counters"`
	Stats    []journal.SourceStats `json:"stats,omitempty"`
	Message  string                `json:"message,omitempty"`
	Dur      time.Duration         `json:"dur,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindCollectProgress, KindCollectLog, KindCollectDone, KindCollectPaused,
		KindFetchProgress, KindFetchLog, KindFetchWaiting, KindFetchDone,
		KindPipelineStatus, KindStats:
	case KindFetchResult:
		if e.JournalID == "" || e.Source == "" {
			return errors.New("fetch result requires journal id and source")
		}
		if !e.State.Terminal() {
			return fmt.Errorf("fetch result has non-terminal state %q", e.State)
		}
	case KindPhaseChange:
		if e.Phase == "" {
			return errors.New("phase change requires phase")
		}
	case KindRunDone:
		if !e.Status.Terminal() {
			return fmt.Errorf("run done has non-terminal status %q", e.Status)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
