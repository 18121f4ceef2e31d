// Package metrics exposes ingestion counters through a Prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mdspull"

// Record outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

// Collector groups the ingestion metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	pages       *prometheus.CounterVec
	records     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// New creates a Collector registered on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Provider pages fetched",
		}, []string{"provider", "kind"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Provider records processed by outcome",
		}, []string{"provider", "kind", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by status",
		}, []string{"provider", "kind", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one ingestion run",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider", "kind"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run",
		}, []string{"provider", "kind"}),
	}

	c.registry.MustRegister(c.pages, c.records, c.runs, c.runDuration, c.lastSuccess)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Page counts one fetched page.
func (c *Collector) Page(provider, kind string) {
	if c == nil {
		return
	}
	c.pages.WithLabelValues(provider, kind).Inc()
}

// Record counts one processed record.
func (c *Collector) Record(provider, kind, outcome string) {
	if c == nil {
		return
	}
	c.records.WithLabelValues(provider, kind, outcome).Inc()
}

// Run records a finished run. err == nil marks it successful.
func (c *Collector) Run(provider, kind string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.runs.WithLabelValues(provider, kind, status).Inc()
	c.runDuration.WithLabelValues(provider, kind).Observe(d.Seconds())
	if err == nil {
		c.lastSuccess.WithLabelValues(provider, kind).SetToCurrentTime()
	}
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format to path.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
