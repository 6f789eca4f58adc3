package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyport/internal/domain"
	"skyport/internal/infra/logger"
	"skyport/internal/usecase/eventbus"
	"skyport/internal/usecase/migration"
)

func newStatusServer(t *testing.T) (*Server, *eventbus.Bus, *Metrics, *fakeMigration) {
	t.Helper()
	bus := eventbus.New(logger.Discard())
	t.Cleanup(bus.Close)

	m := &fakeMigration{state: domain.AggregateState{Phase: domain.PhaseMigrating, PostsCreated: 12}}
	srv := NewServer(bus, newTestAuth(), "127.0.0.1:0", logger.Discard())
	metrics := RegisterRESTHandlers(srv, HandlerDeps{Migration: m, Bus: bus, Logger: logger.Discard()})
	return srv, bus, metrics, m
}

func TestHealthzOpen(t *testing.T) {
	srv, _, _, _ := newStatusServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusRequiresToken(t *testing.T) {
	srv, _, _, _ := newStatusServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusCountsRuns(t *testing.T) {
	srv, bus, metrics, m := newStatusServer(t)
	m.active = &migration.Run{ID: "run-9"}

	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventMigrationStarted, "p1", domain.RunSettings{Username: "a"}))
	bus.Publish(ctx, domain.NewEvent(domain.EventMigrationWarning, "p1", domain.MigrationWarning{Message: "skipped"}))
	bus.Publish(ctx, domain.NewEvent(domain.EventMigrationFinished, "p1",
		domain.RunRecord{ID: "run-8", Final: domain.AggregateState{Phase: domain.PhaseComplete}}))
	bus.Publish(ctx, domain.NewEvent(domain.EventMigrationFinished, "",
		domain.AggregateState{Phase: domain.PhaseError, Message: "Could not start"}))

	require.Eventually(t, func() bool {
		return metrics.RunsStarted.Load() == 1 && metrics.RunsFailed.Load() == 1 &&
			metrics.RunsSucceeded.Load() == 1 && metrics.Warnings.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status?token=test-token", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Migration.Running)
	assert.Equal(t, "run-9", resp.Migration.RunID)
	assert.Equal(t, domain.PhaseMigrating, resp.Migration.Phase)
	assert.Equal(t, 12, resp.Migration.Posts)
	assert.Equal(t, int64(1), resp.Counters.RunsStarted)
	assert.Equal(t, int64(1), resp.Counters.RunsSucceeded)
	assert.Equal(t, int64(1), resp.Counters.RunsFailed)
}

func TestStatusMethodNotAllowed(t *testing.T) {
	srv, _, _, _ := newStatusServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/status?token=test-token", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, metrics, _ := newStatusServer(t)
	metrics.OutputLines.Add(42)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics?token=test-token", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, body, "skyport_output_lines_total 42")
	assert.Contains(t, body, "# TYPE skyport_run_active gauge")
	assert.Contains(t, body, "skyport_run_active 0")
}
