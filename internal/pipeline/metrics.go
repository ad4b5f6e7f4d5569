package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cellsRecognized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invocr_cells_recognized_total",
			Help: "Cells recognized, by the tier whose text was kept",
		},
		[]string{"tier"}, // none, fast, slow
	)

	cellEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invocr_cell_escalations_total",
			Help: "Cells sent to the slow recognizer tier",
		},
	)

	cellFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invocr_cell_failures_total",
			Help: "Cells that could not be recognized by any tier",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invocr_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)

	issuesFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invocr_issues_total",
			Help: "Data-quality issues recorded",
		},
		[]string{"kind", "auto_fixed"},
	)

	fallbackActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invocr_fallback_activations_total",
			Help: "Invoices processed through the whole-image path",
		},
		[]string{"reason"}, // not_found, error
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invocr_invoice_processing_duration_seconds",
			Help:    "Invoice processing duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"path"}, // table, fallback, cached
	)
)
