package simmodel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventrec_model_build_duration_seconds",
		Help:    "Wall time of similarity model builds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	modelEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventrec_model_events",
		Help: "Number of events in the most recently built or loaded similarity model.",
	})

	modelReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrec_model_reloads_total",
		Help: "Similarity model reload attempts by outcome.",
	}, []string{"outcome"})
)
