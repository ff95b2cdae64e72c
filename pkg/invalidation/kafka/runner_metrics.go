package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	events  *prometheus.CounterVec
	entries *prometheus.CounterVec
	apply   *prometheus.HistogramVec
	lag     prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trip_invalidation_events_total",
				Help: "Trip-data invalidation events consumed, by result.",
			},
			[]string{"result"},
		),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trip_invalidation_entries_total",
				Help: "Cached trip-data entries acted on while applying events.",
			},
			[]string{"action"},
		),
		apply: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trip_invalidation_apply_seconds",
				Help:    "Time to apply one invalidation event across its paths.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op"},
		),
		lag: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trip_invalidation_lag_seconds",
				Help: "Consumer lag estimated from the event timestamp.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.events, m.entries, m.apply, m.lag)
	}
	return m
}
