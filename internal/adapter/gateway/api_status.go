package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"skyport/internal/domain"
)

// Version is reported by the status endpoint; set at build time.
var Version = "dev"

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Clients       int          `json:"clients"`
	Migration     RunStatus    `json:"migration"`
	Counters      CounterStats `json:"counters"`
}

// RunStatus describes the current run, if any.
type RunStatus struct {
	Running bool         `json:"running"`
	RunID   string       `json:"run_id,omitempty"`
	Phase   domain.Phase `json:"phase"`
	Posts   int          `json:"posts_created"`
}

// CounterStats mirrors Metrics for JSON output.
type CounterStats struct {
	RunsStarted   int64 `json:"runs_started"`
	RunsSucceeded int64 `json:"runs_succeeded"`
	RunsFailed    int64 `json:"runs_failed"`
	Warnings      int64 `json:"warnings"`
	OutputLines   int64 `json:"output_lines"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	RunsStarted   atomic.Int64
	RunsSucceeded atomic.Int64
	RunsFailed    atomic.Int64
	Warnings      atomic.Int64
	OutputLines   atomic.Int64
}

func (m *Metrics) stats() CounterStats {
	return CounterStats{
		RunsStarted:   m.RunsStarted.Load(),
		RunsSucceeded: m.RunsSucceeded.Load(),
		RunsFailed:    m.RunsFailed.Load(),
		Warnings:      m.Warnings.Load(),
		OutputLines:   m.OutputLines.Load(),
	}
}

// RegisterRESTHandlers registers HTTP endpoints on the bridge. /healthz is
// open; status and metrics need the same token as the websocket.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventMigrationStarted, func(_ context.Context, _ domain.Event) {
			metrics.RunsStarted.Add(1)
		})
		deps.Bus.Subscribe(domain.EventMigrationWarning, func(_ context.Context, _ domain.Event) {
			metrics.Warnings.Add(1)
		})
		deps.Bus.Subscribe(domain.EventProcessOutput, func(_ context.Context, _ domain.Event) {
			metrics.OutputLines.Add(1)
		})
		deps.Bus.Subscribe(domain.EventMigrationFinished, func(_ context.Context, e domain.Event) {
			if finishedOK(e) {
				metrics.RunsSucceeded.Add(1)
			} else {
				metrics.RunsFailed.Add(1)
			}
		})
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if _, err := s.auth.Authenticate(token, r.RemoteAddr); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/healthz", healthHandler)
	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(s, deps, startTime, metrics)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, metrics)))

	return metrics
}

// finishedOK reports whether a migration.finished event carries a completed
// run. Failed launches publish a bare state instead of a record.
func finishedOK(e domain.Event) bool {
	var rec domain.RunRecord
	if err := json.Unmarshal(e.Payload, &rec); err == nil && rec.ID != "" {
		return rec.Final.Phase == domain.PhaseComplete
	}
	var st domain.AggregateState
	if err := json.Unmarshal(e.Payload, &st); err == nil {
		return st.Phase == domain.PhaseComplete
	}
	return false
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(s *Server, deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Version:       Version,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Clients:       s.ClientCount(),
			Counters:      metrics.stats(),
		}
		if deps.Migration != nil {
			st := deps.Migration.State()
			resp.Migration.Phase = st.Phase
			resp.Migration.Posts = st.PostsCreated
			if run := deps.Migration.Active(); run != nil {
				resp.Migration.Running = true
				resp.Migration.RunID = run.ID
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
