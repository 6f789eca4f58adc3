package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		stats := metrics.stats()
		writeMetric(w, "skyport_runs_started_total", "counter", "Migration runs started.", stats.RunsStarted)
		writeMetric(w, "skyport_runs_succeeded_total", "counter", "Migration runs that completed.", stats.RunsSucceeded)
		writeMetric(w, "skyport_runs_failed_total", "counter", "Migration runs that failed or were cancelled.", stats.RunsFailed)
		writeMetric(w, "skyport_warnings_total", "counter", "Warnings reported by the migration tool.", stats.Warnings)
		writeMetric(w, "skyport_output_lines_total", "counter", "Output lines read from the migration tool.", stats.OutputLines)

		var running int64
		if deps.Migration != nil && deps.Migration.Active() != nil {
			running = 1
		}
		writeMetric(w, "skyport_run_active", "gauge", "Whether a migration is running.", running)

		writeMetric(w, "skyport_uptime_seconds", "gauge", "Seconds since the bridge started.", int64(time.Since(startTime).Seconds()))
		writeMetric(w, "skyport_goroutines", "gauge", "Number of goroutines.", int64(runtime.NumGoroutine()))

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		writeMetric(w, "skyport_memory_alloc_bytes", "gauge", "Bytes of allocated heap objects.", int64(m.Alloc))
	}
}

func writeMetric(w io.Writer, name, typ, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
