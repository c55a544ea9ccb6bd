package retryqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cachegate_retryqueue_depth",
		Help: "Current number of queued requests",
	})

	itemsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_retryqueue_delivered_total",
		Help: "Total queued requests delivered to the origin",
	})

	itemsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_retryqueue_requeued_total",
		Help: "Total redrive failures that were requeued",
	})

	itemsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cachegate_retryqueue_dropped_total",
		Help: "Total queued requests given up on by reason",
	}, []string{"reason"}) // "expired", "rejected"

	persistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cachegate_retryqueue_persist_errors_total",
		Help: "Total failed queue persistence operations",
	})
)
