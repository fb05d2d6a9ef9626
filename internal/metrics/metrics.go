// Package metrics defines the Prometheus collectors shared by the pipeline
// worker and the prediction API. Collectors are registered on a caller
// supplied Registerer; a nil *Metrics is a valid no-op.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics
type Metrics struct {
	rowsTotal          *prometheus.CounterVec
	partitionRecords   *prometheus.GaugeVec
	labelUniverse      prometheus.Gauge
	unknownLabelsTotal *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	webhooksReceived   *prometheus.CounterVec
	publishCommits     *prometheus.CounterVec
	predictionsTotal   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_rows_total",
				Help: "Data rows read, by repair action",
			},
			[]string{"action"},
		),
		partitionRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dataset_partition_records",
				Help: "Records in each partition of the last successful run",
			},
			[]string{"split"},
		),
		labelUniverse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dataset_label_universe_size",
				Help: "Distinct labels fitted on the training partition of the last run",
			},
		),
		unknownLabelsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_unknown_labels_dropped_total",
				Help: "Label ids dropped during encoding because they were not fitted",
			},
			[]string{"split"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dataset_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_runs_total",
				Help: "Pipeline runs by outcome and error code",
			},
			[]string{"status", "code"},
		),
		webhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_webhooks_received_total",
				Help: "Run requests received by the worker",
			},
			[]string{"status"},
		),
		publishCommits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dataset_publish_commits_total",
				Help: "Dataset repo commit attempts",
			},
			[]string{"repo", "status"},
		),
		predictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_requests_total",
				Help: "Prediction requests by modality and status",
			},
			[]string{"modality", "status"},
		),
	}

	reg.MustRegister(
		m.rowsTotal,
		m.partitionRecords,
		m.labelUniverse,
		m.unknownLabelsTotal,
		m.stageDuration,
		m.runsTotal,
		m.webhooksReceived,
		m.publishCommits,
		m.predictionsTotal,
	)

	return m
}

// AddRows counts n rows handled with the given repair action.
func (m *Metrics) AddRows(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsTotal.WithLabelValues(action).Add(float64(n))
}

// SetPartitions records the size of each split.
func (m *Metrics) SetPartitions(train, validation, test int) {
	if m == nil {
		return
	}
	m.partitionRecords.WithLabelValues("train").Set(float64(train))
	m.partitionRecords.WithLabelValues("validation").Set(float64(validation))
	m.partitionRecords.WithLabelValues("test").Set(float64(test))
}

// SetUniverse records the fitted label universe size.
func (m *Metrics) SetUniverse(n int) {
	if m == nil {
		return
	}
	m.labelUniverse.Set(float64(n))
}

// AddUnknownLabels counts ids dropped while encoding split.
func (m *Metrics) AddUnknownLabels(split string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unknownLabelsTotal.WithLabelValues(split).Add(float64(n))
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished counts a run outcome. code is empty for successful runs.
func (m *Metrics) RunFinished(status, code string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status, code).Inc()
}

// WebhookReceived counts a run request by handling status.
func (m *Metrics) WebhookReceived(status string) {
	if m == nil {
		return
	}
	m.webhooksReceived.WithLabelValues(status).Inc()
}

// PublishCommit counts a dataset repo commit attempt.
func (m *Metrics) PublishCommit(repo, status string) {
	if m == nil {
		return
	}
	m.publishCommits.WithLabelValues(repo, status).Inc()
}

// Prediction counts a prediction request.
func (m *Metrics) Prediction(modality, status string) {
	if m == nil {
		return
	}
	m.predictionsTotal.WithLabelValues(modality, status).Inc()
}
