package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "devicehub",
		Name:      "actions_total",
		Help:      "Dispatched actions by name and result code.",
	}, []string{"action", "code"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "devicehub",
		Name:      "action_duration_seconds",
		Help:      "Time spent handling an action.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})
)

func observe(action, code string, seconds float64) {
	actionsTotal.WithLabelValues(action, code).Inc()
	actionDuration.WithLabelValues(action).Observe(seconds)
}
