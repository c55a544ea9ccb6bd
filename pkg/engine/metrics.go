package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_engine_responses_total",
		Help: "Total responses served by strategy and outcome",
	}, []string{"strategy", "outcome"})

	handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cachegate_engine_handle_duration_seconds",
		Help:    "Time spent in Handle by strategy",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	}, []string{"strategy"})

	revalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_engine_revalidations_total",
		Help: "Background revalidations by result",
	}, []string{"result"}) // "ok", "error", "skipped"
)
