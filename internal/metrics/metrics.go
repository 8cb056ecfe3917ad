package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	FixesReceived  atomic.Int64
	FixesInvalid   atomic.Int64
	FixesUnmatched atomic.Int64
	FixesDropped   atomic.Int64
	FixPanics      atomic.Int64

	AlertsFired      atomic.Int64
	AlertsSuppressed atomic.Int64
	AlertWriteOK     atomic.Int64
	AlertWriteFailed atomic.Int64
	NotifyFailures   atomic.Int64
	TripUpdateFailed atomic.Int64
	OutboxOverflow   atomic.Int64

	ScoreFlushOK       atomic.Int64
	ScoreFlushFailed   atomic.Int64
	SnapshotFailures   atomic.Int64
	ViolationsRecorded atomic.Int64

	CacheRefreshFailures atomic.Int64
	GeocodeMisses        atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "monitor_fixes_received_total %d\n", FixesReceived.Load())
	fmt.Fprintf(w, "monitor_fixes_invalid_total %d\n", FixesInvalid.Load())
	fmt.Fprintf(w, "monitor_fixes_unmatched_total %d\n", FixesUnmatched.Load())
	fmt.Fprintf(w, "monitor_fixes_dropped_total %d\n", FixesDropped.Load())
	fmt.Fprintf(w, "monitor_fix_panics_total %d\n", FixPanics.Load())
	fmt.Fprintf(w, "monitor_alerts_fired_total %d\n", AlertsFired.Load())
	fmt.Fprintf(w, "monitor_alerts_suppressed_total %d\n", AlertsSuppressed.Load())
	fmt.Fprintf(w, "monitor_alert_write_success_total %d\n", AlertWriteOK.Load())
	fmt.Fprintf(w, "monitor_alert_write_failures_total %d\n", AlertWriteFailed.Load())
	fmt.Fprintf(w, "monitor_notify_failures_total %d\n", NotifyFailures.Load())
	fmt.Fprintf(w, "monitor_trip_update_failures_total %d\n", TripUpdateFailed.Load())
	fmt.Fprintf(w, "monitor_score_flush_success_total %d\n", ScoreFlushOK.Load())
	fmt.Fprintf(w, "monitor_score_flush_failures_total %d\n", ScoreFlushFailed.Load())
	fmt.Fprintf(w, "monitor_snapshot_failures_total %d\n", SnapshotFailures.Load())
	fmt.Fprintf(w, "monitor_violations_recorded_total %d\n", ViolationsRecorded.Load())
	fmt.Fprintf(w, "monitor_outbox_overflow_total %d\n", OutboxOverflow.Load())
	fmt.Fprintf(w, "monitor_cache_refresh_failures_total %d\n", CacheRefreshFailures.Load())
	fmt.Fprintf(w, "monitor_geocode_misses_total %d\n", GeocodeMisses.Load())
}
