package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics holds the per-run collectors. Each run builds its own
// registry so consecutive runs in one process never mix samples.
type RunMetrics struct {
	records        prometheus.Counter
	missingValues  prometheus.Counter
	invalidValues  prometheus.Counter
	stageDuration  *prometheus.GaugeVec
	chartsRendered prometheus.Counter
	runInfo        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRunMetrics creates the collectors and registers them on a fresh
// registry.
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kapstat_records_total",
			Help: "Number of survey records analyzed in this run",
		}),
		missingValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kapstat_missing_values_total",
			Help: "Missing cells found by the data quality stage",
		}),
		invalidValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kapstat_invalid_values_total",
			Help: "Out-of-range and disallowed values found by the data quality stage",
		}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kapstat_stage_duration_seconds",
			Help: "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
		chartsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kapstat_charts_rendered_total",
			Help: "Charts successfully rendered in this run",
		}),
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kapstat_run_info",
			Help: "Constant 1 labelled with the run identity",
		}, []string{"run_id", "version"}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.records,
		m.missingValues,
		m.invalidValues,
		m.stageDuration,
		m.chartsRendered,
		m.runInfo,
	)
	return m
}

// SetRunInfo records the run identity labels.
func (m *RunMetrics) SetRunInfo(runID, version string) {
	m.runInfo.WithLabelValues(runID, version).Set(1)
}

// AddRecords counts analyzed survey records.
func (m *RunMetrics) AddRecords(n int) {
	m.records.Add(float64(n))
}

// AddMissingValues counts missing cells.
func (m *RunMetrics) AddMissingValues(n int) {
	m.missingValues.Add(float64(n))
}

// AddInvalidValues counts invalid cells.
func (m *RunMetrics) AddInvalidValues(n int) {
	m.invalidValues.Add(float64(n))
}

// AddChartsRendered counts charts written to disk.
func (m *RunMetrics) AddChartsRendered(n int) {
	m.chartsRendered.Add(float64(n))
}

// ObserveStage records how long a pipeline stage took.
func (m *RunMetrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Registry exposes the gatherer, for tests and alternative exporters.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile gathers the run's samples into path in the Prometheus
// textfile-collector format.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
