package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/prodscout/internal/progress"
)

// PrometheusSink exports run lifecycle metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	reposPerRun   prometheus.Histogram
	repoOutcomes  *prometheus.CounterVec
	searchResults prometheus.Histogram

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prodscout_runs_started_total",
			Help: "Pipeline runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscout_runs_finished_total",
			Help: "Pipeline runs finished, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prodscout_runs_running",
			Help: "Pipeline runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prodscout_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"result"}),
		reposPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prodscout_run_repositories",
			Help:    "Distinct repositories discovered per run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		repoOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prodscout_run_repository_outcomes_total",
			Help: "Per-repository terminal outcomes reported by runs.",
		}, []string{"outcome"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prodscout_run_candidates",
			Help:    "Candidate pages or repositories found by the search phase.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsFinished, s.runsRunning, s.runDuration,
		s.reposPerRun, s.repoOutcomes, s.searchResults,
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
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageSearchDone:
			s.searchResults.Observe(float64(evt.Total))
		case progress.StageRepoDone:
			s.repoOutcomes.WithLabelValues(evt.Outcome).Inc()
		case progress.StageRunDone, progress.StageRunError, progress.StageRunCancelled:
			result := resultLabel(evt.Stage)
			s.runsFinished.WithLabelValues(result).Inc()
			// Terminal events carry the number of distinct repositories in Total.
			s.reposPerRun.Observe(float64(evt.Total))
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageRunError:
		return "failed"
	case progress.StageRunCancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

// track records a run starting or stopping and reports whether the set changed.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
