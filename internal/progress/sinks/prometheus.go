package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/site-harvester/internal/progress"
)

// PrometheusSink exports job lifecycle collectors built from progress events.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pages         *prometheus.CounterVec
	units         *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_progress_jobs_started_total",
			Help: "Jobs that emitted a start event.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_jobs_completed_total",
			Help: "Jobs that finished, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_progress_jobs_running",
			Help: "Jobs started but not yet finished.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvester_progress_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_pages_total",
			Help: "Harvested pages, partitioned by site and result.",
		}, []string{"site", "result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_units_total",
			Help: "Units folded into company snapshots, partitioned by result.",
		}, []string{"result"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.pages, s.units,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case evt.Stage.Terminal():
			result := resultLabel(evt.Stage)
			s.jobsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.track(evt.JobID, false) {
				s.jobsRunning.Dec()
			}
		case evt.Stage == progress.StagePageFetched:
			site := evt.Site
			if site == "" {
				site = "unknown"
			}
			s.pages.WithLabelValues(site, outcome(evt.Success)).Inc()
		case evt.Stage == progress.StageUnitExtracted:
			s.units.WithLabelValues(outcome(evt.Success)).Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// track records a job as running (start) or finished and reports whether the
// running set changed.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageJobCanceled:
		return "canceled"
	case progress.StageJobError:
		return "error"
	default:
		return "success"
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
