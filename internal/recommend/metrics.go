package recommend

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrec_recommendations_total",
		Help: "Recommendation responses by tier.",
	}, []string{"tier"})

	recommendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventrec_recommend_duration_seconds",
		Help:    "Time spent ranking recommendations, by tier.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})

	providerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrec_provider_failures_total",
		Help: "Catalog and interaction provider calls that failed and were degraded.",
	}, []string{"provider"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventrec_recommend_cache_lookups_total",
		Help: "Recommendation cache lookups by result.",
	}, []string{"result"})
)

func observe(tier Tier, started time.Time) {
	recommendationsTotal.WithLabelValues(string(tier)).Inc()
	recommendDuration.WithLabelValues(string(tier)).Observe(time.Since(started).Seconds())
}
