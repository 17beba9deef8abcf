package sensor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sensorsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentflow_sensor_registered",
			Help: "Number of sensors currently registered with the kernel",
		},
	)

	sensorFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_sensor_fired_total",
			Help: "Total events that passed debounce, dedup, and rate limiting and triggered a workflow",
		},
		[]string{"sensor"},
	)

	sensorDebounced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_sensor_debounced_total",
			Help: "Total events discarded for arriving inside a sensor's debounce window",
		},
		[]string{"sensor"},
	)

	sensorDeduped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_sensor_deduped_total",
			Help: "Total events discarded as duplicate fingerprints",
		},
		[]string{"sensor"},
	)

	sensorRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_sensor_rate_limited_total",
			Help: "Total events discarded by a sensor's rate limiter",
		},
		[]string{"sensor"},
	)
)

func recordFired(sensor string)       { sensorFired.WithLabelValues(sensor).Inc() }
func recordDebounced(sensor string)   { sensorDebounced.WithLabelValues(sensor).Inc() }
func recordDeduped(sensor string)     { sensorDeduped.WithLabelValues(sensor).Inc() }
func recordRateLimited(sensor string) { sensorRateLimited.WithLabelValues(sensor).Inc() }
