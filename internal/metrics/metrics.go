// Package metrics provides Prometheus metrics for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dental_insights"

type Metrics struct {
	AnalysesTotal     prometheus.Counter
	AnalysesSucceeded prometheus.Counter
	AnalysesFailed    *prometheus.CounterVec
	AnalysisDuration  prometheus.Histogram
	RecordsSaved      prometheus.Counter
}

// Default is the global metrics instance, registered once at init.
var Default = New()

func New() *Metrics {
	return &Metrics{
		AnalysesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of analysis invocations",
		}),
		AnalysesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_succeeded_total",
			Help:      "Total number of analyses that produced a report",
		}),
		AnalysesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_failed_total",
			Help:      "Total number of failed analyses by pipeline stage",
		}, []string{"stage"}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end duration of one analysis",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		RecordsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_saved_total",
			Help:      "Total number of consultation records appended to the store",
		}),
	}
}
