package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MetricAnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ipreputation", Name: "analyses_total", Help: "Number of IP analyses by terminal status"},
		[]string{"status"},
	)
	MetricBlacklistHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "ipreputation", Name: "blacklist_hits_total", Help: "Number of blacklist short-circuits"},
	)
	MetricGeoLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipreputation",
			Name:      "geo_lookup_duration_seconds",
			Help:      "Latency of geo provider lookups in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	MetricHttpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipreputation",
			Name:      "http_duration_seconds",
			Help:      "Latency of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
	MetricRedisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipreputation",
			Name:      "redis_op_duration_seconds",
			Help:      "Latency of Redis operations in seconds",
			Buckets:   []float64{.001, .002, .005, .01, .02, .05, .1},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(MetricAnalysesTotal)
	prometheus.MustRegister(MetricBlacklistHitsTotal)
	prometheus.MustRegister(MetricGeoLookupDuration)
	prometheus.MustRegister(MetricHttpDuration)
	prometheus.MustRegister(MetricRedisDuration)
}
