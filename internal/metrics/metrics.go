// Package metrics records pipeline counters in a Prometheus registry and
// can dump them in the node_exporter textfile format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the counters for one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	reg *prometheus.Registry

	eventsRead     prometheus.Counter
	eventsSkipped  prometheus.Counter
	entriesAdded   *prometheus.CounterVec
	entriesDropped *prometheus.CounterVec
	weightSum      prometheus.Gauge
	runDuration    prometheus.Histogram
}

// New creates a recorder backed by a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		eventsRead: f.NewCounter(prometheus.CounterOpts{
			Name: "quicksim_events_read_total",
			Help: "Total events read from the event source",
		}),
		eventsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "quicksim_events_skipped_total",
			Help: "Total events skipped because they could not be decoded",
		}),
		entriesAdded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicksim_entries_added_total",
			Help: "Total entries accumulated into a bin, by scheme",
		}, []string{"scheme"}),
		entriesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quicksim_entries_dropped_total",
			Help: "Total entries outside every bin, by scheme",
		}, []string{"scheme"}),
		weightSum: f.NewGauge(prometheus.GaugeOpts{
			Name: "quicksim_weight_sum",
			Help: "Sum of event weights applied in the current run",
		}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "quicksim_run_duration_seconds",
			Help:    "Binning run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
	}
}

// Registry exposes the underlying registry as a Gatherer.
func (r *Recorder) Registry() prometheus.Gatherer {
	return r.reg
}

// EventRead counts one event and its weight.
func (r *Recorder) EventRead(weight float64) {
	if r == nil {
		return
	}
	r.eventsRead.Inc()
	r.weightSum.Add(weight)
}

// EventSkipped counts one undecodable event.
func (r *Recorder) EventSkipped() {
	if r == nil {
		return
	}
	r.eventsSkipped.Inc()
}

// Entry counts one entry as added or dropped under scheme.
func (r *Recorder) Entry(scheme string, added bool) {
	if r == nil {
		return
	}
	if added {
		r.entriesAdded.WithLabelValues(scheme).Inc()
		return
	}
	r.entriesDropped.WithLabelValues(scheme).Inc()
}

// ObserveRun records the wall time of a run in seconds.
func (r *Recorder) ObserveRun(seconds float64) {
	if r == nil {
		return
	}
	r.runDuration.Observe(seconds)
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
