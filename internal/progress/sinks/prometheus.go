package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// PrometheusSink derives run-level metrics from the event stream.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsActive    prometheus.Gauge
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	fetchResults  *prometheus.CounterVec
	pages         prometheus.Gauge
	sourceStates  *prometheus.GaugeVec
	pauses        *prometheus.CounterVec

	mu   sync.Mutex
	seen map[string]bool
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "journals_runs_started_total",
			Help: "Crawl runs observed on the event stream.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journals_runs_active",
			Help: "Crawl runs that have emitted events but not finished.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journals_runs_finished_total",
			Help: "Crawl runs that reached a terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journals_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400, 43200},
		}, []string{"status"}),
		fetchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journals_fetch_results_total",
			Help: "Enrichment lookups partitioned by source and terminal state.",
		}, []string{"source", "state"}),
		pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "journals_collector_pages",
			Help: "Pages completed by the collector in the latest run.",
		}),
		sourceStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "journals_fetch_status",
			Help: "Fetch status rows in the current version, by source and state.",
		}, []string{"source", "state"}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "journals_collector_pauses_total",
			Help: "Collector pauses, by reason.",
		}, []string{"reason"}),
		seen: make(map[string]bool),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsActive, s.runsCompleted, s.runDuration, s.fetchResults, s.pages, s.sourceStates, s.pauses,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.track(evt)
		switch evt.Kind {
		case progress.KindFetchResult:
			s.fetchResults.WithLabelValues(string(evt.Source), string(evt.State)).Inc()
		case progress.KindCollectProgress, progress.KindCollectDone:
			s.pages.Set(float64(evt.Page))
		case progress.KindCollectPaused:
			s.pauses.WithLabelValues(pauseReason(evt.Message)).Inc()
		case progress.KindStats:
			for _, st := range evt.Stats {
				src := string(st.Source)
				s.sourceStates.WithLabelValues(src, "pending").Set(float64(st.Pending))
				s.sourceStates.WithLabelValues(src, "success").Set(float64(st.Success))
				s.sourceStates.WithLabelValues(src, "no_data").Set(float64(st.NoData))
				s.sourceStates.WithLabelValues(src, "failed").Set(float64(st.Failed))
			}
		case progress.KindRunDone:
			s.runsCompleted.WithLabelValues(string(evt.Status)).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(string(evt.Status)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track counts a run the first time it is seen and retires it on run.done.
func (s *PrometheusSink) track(evt progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, known := s.seen[evt.RunID]
	if !known {
		s.seen[evt.RunID] = true
		s.runsStarted.Inc()
		s.runsActive.Inc()
		active = true
	}
	if evt.Kind == progress.KindRunDone && active {
		s.seen[evt.RunID] = false
		s.runsActive.Dec()
	}
}

func pauseReason(msg string) string {
	switch msg {
	case "rate limited", "page limit reached":
		return msg
	default:
		return "error"
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
