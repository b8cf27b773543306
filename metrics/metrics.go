// Package metrics provides Prometheus metrics for folder resolution.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_resolutions_total",
			Help: "Total number of participant folder resolutions",
		},
		[]string{"method", "found"},
	)

	resolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certdesk_resolve_duration_seconds",
			Help:    "Participant folder resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	remoteListCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_remote_list_calls_total",
			Help: "Total number of complete child-folder listings fetched from the drive",
		},
		[]string{"status"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_cache_lookups_total",
			Help: "Folder cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_cache_evictions_total",
			Help: "Folder cache evictions by tier and reason",
		},
		[]string{"tier", "reason"},
	)

	preloadFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certdesk_preload_folders",
			Help: "Number of folders loaded by the last preload",
		},
	)
)

// RecordResolution records one completed resolution.
func RecordResolution(method string, found bool, d time.Duration) {
	resolutionsTotal.WithLabelValues(method, strconv.FormatBool(found)).Inc()
	resolveDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordRemoteList records one complete (all pages) listing attempt.
func RecordRemoteList(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	remoteListCalls.WithLabelValues(status).Inc()
}

// RecordCacheLookup records a hit or miss on a cache tier.
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordCacheEviction records an entry leaving a cache tier.
func RecordCacheEviction(tier, reason string) {
	cacheEvictions.WithLabelValues(tier, reason).Inc()
}

// SetPreloadFolders sets the folder count of the last preload.
func SetPreloadFolders(n int) {
	preloadFolders.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
