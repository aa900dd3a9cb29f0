// Package http serves the status endpoints of a running voxelops process:
// liveness, Prometheus metrics, the procedure catalogue and the progress of
// in-flight and finished runs.
//
// # Endpoints
//
//	GET /health                  liveness
//	GET /metrics                 Prometheus exposition
//	GET /api/v1/procedures       registered procedures with their rules
//	GET /api/v1/runs             tracked runs, most recent first
//	GET /api/v1/runs/:run_id     one run, with its flat record once finished
//
// The server is read-only. Runs are fed to it through Tracker, whose
// Progress method is a valid orchestrator.ProgressCallback.
package http
