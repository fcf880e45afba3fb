// Package metrics holds the Prometheus counters of deltascan.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScansCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltascan_scans_created",
		Help: "Counter for remote scans created, by delta tag (origin, delta or plain).",
	}, []string{"tag"})
	ScansReused = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_scans_reused",
		Help: "Counter for packages answered by an existing finished remote scan.",
	})
	ScansFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_failed_scans",
		Help: "Counter for remote scans the backend reported as failed or interrupted.",
	})
	ScansTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_timed_out_scans",
		Help: "Counter for remote scans that did not finish within the configured timeout.",
	})
	RetentionDeletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_retention_deletions",
		Help: "Counter for delta scans deleted by the retention policy.",
	})
	CleanupDeletions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_cleanup_deletions",
		Help: "Counter for scans deleted after a failed package scan.",
	})
	FilesMarkedIdentified = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_files_marked_identified",
		Help: "Counter for files marked as identified by snippet choices.",
	})
	StaleChoices = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deltascan_stale_snippet_choices",
		Help: "Counter for snippet choices that matched no current finding.",
	})
	PackageScans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deltascan_package_scans",
		Help: "Counter for package scans, by outcome (finished, pending or failed).",
	}, []string{"outcome"})
)

var registerOnce sync.Once

// Register adds all counters to the given registerer. Only the first call has
// an effect.
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			ScansCreated,
			ScansReused,
			ScansFailed,
			ScansTimedOut,
			RetentionDeletions,
			CleanupDeletions,
			FilesMarkedIdentified,
			StaleChoices,
			PackageScans,
		)
	})
}
