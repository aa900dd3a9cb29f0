package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/metrics"
	"github.com/fyrsmithlabs/voxelops/internal/orchestrator"
	"github.com/fyrsmithlabs/voxelops/internal/procedures"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(procedures.DefaultRegistry(), NewTracker(0), logging.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server := setupTestServer(t)
		assert.Equal(t, "127.0.0.1:9464", server.config.Addr)
		assert.NotNil(t, server.Tracker())
	})

	t.Run("creates tracker when nil", func(t *testing.T) {
		server, err := NewServer(procedures.DefaultRegistry(), nil, logging.NewNop(), &Config{Addr: "127.0.0.1:0"})
		require.NoError(t, err)
		assert.NotNil(t, server.Tracker())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(procedures.DefaultRegistry(), nil, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := get(t, setupTestServer(t), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	metrics.NewMetrics().RecordRun("qsiprep", "success", 12)

	rec := get(t, setupTestServer(t), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voxelops_procedure_runs_total")
}

func TestHandleProcedures(t *testing.T) {
	rec := get(t, setupTestServer(t), "/api/v1/procedures")
	require.Equal(t, http.StatusOK, rec.Code)

	var procs []ProcedureInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &procs))

	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name
	}
	assert.Equal(t, procedures.DefaultRegistry().Names(), names)

	for _, p := range procs {
		assert.NotEmpty(t, p.PreRules, p.Name)
		for _, r := range p.PreRules {
			assert.NotEmpty(t, r.Name)
			assert.Contains(t, []string{"error", "warning"}, r.Severity)
		}
	}
}

func TestHandleRuns(t *testing.T) {
	server := setupTestServer(t)
	tracker := server.Tracker()

	tracker.Progress(orchestrator.Progress{RunID: "run-a", Procedure: "qsiprep", Event: audit.EventProcedureStart, Message: "procedure started"})
	tracker.Progress(orchestrator.Progress{RunID: "run-a", Procedure: "qsiprep", Event: audit.EventExecutionStart, Message: "execution started"})

	t.Run("lists runs", func(t *testing.T) {
		rec := get(t, server, "/api/v1/runs")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, "run-a", resp.Runs[0].RunID)
		assert.Equal(t, audit.EventExecutionStart, resp.Runs[0].LastEvent)
		assert.Equal(t, 2, resp.Runs[0].EventCount)
		assert.False(t, resp.Runs[0].Finished)
	})

	t.Run("returns finished run with result", func(t *testing.T) {
		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		tracker.Complete(&orchestrator.ProcedureResult{
			RunID:       "run-a",
			Procedure:   "qsiprep",
			Participant: "01",
			Status:      orchestrator.StatusSuccess,
			StartTime:   start,
			EndTime:     start.Add(time.Minute),
			Duration:    time.Minute,
		})

		rec := get(t, server, "/api/v1/runs/run-a")
		require.Equal(t, http.StatusOK, rec.Code)

		var run RunStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.True(t, run.Finished)
		assert.Equal(t, "success", run.Status)
		assert.Equal(t, "run-a", run.Result["run_id"])
		assert.Equal(t, true, run.Result["success"])
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		rec := get(t, server, "/api/v1/runs/missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
