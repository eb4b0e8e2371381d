package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/watch-wrapped/internal/progress"
)

// PrometheusSink exports pipeline progress via Prometheus. It owns collectors
// for runs started, finished and in flight plus per-outcome resolution counts.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	resolutions   *prometheus.CounterVec
	fetchDuration prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wrapped_runs_started_total",
			Help: "Total pipeline runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrapped_runs_finished_total",
			Help: "Total pipeline runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wrapped_runs_active",
			Help: "Current number of pipeline runs in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wrapped_run_duration_seconds",
			Help:    "Wall time per finished pipeline run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrapped_resolutions_total",
			Help: "Metadata resolutions partitioned by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wrapped_resolution_fetch_seconds",
			Help:    "Latency of catalog fetches made while resolving metadata.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.resolutions,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch {
		case evt.Stage.IsResolution():
			s.resolutions.WithLabelValues(outcomeLabel(evt.Stage)).Inc()
			if evt.Stage != progress.StageCacheHit && evt.Dur > 0 {
				s.fetchDuration.Observe(evt.Dur.Seconds())
			}
		default:
			s.handleRunEvent(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	var result string
	switch evt.Stage {
	case progress.StageJobStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.runsActive.Inc()
		}
		return
	case progress.StageJobDone:
		result = "success"
	case progress.StageJobError:
		result = "error"
	default:
		return
	}
	s.runsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.runsActive.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func outcomeLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageCacheHit:
		return "cache_hit"
	case progress.StageFetchDone:
		return "fetched"
	case progress.StageFetchMissing:
		return "not_found"
	default:
		return "error"
	}
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
