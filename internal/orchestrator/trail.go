package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/logging"
	"github.com/fyrsmithlabs/voxelops/internal/metrics"
)

// trail writes audit events for one run. Write failures are reported on the
// diagnostic logger and never returned.
type trail struct {
	log       *audit.Logger
	runID     string
	procedure string
	logger    *logging.Logger
	metrics   *metrics.Metrics
	progress  ProgressCallback
	written   int
}

func (t *trail) path() string {
	if t.log == nil {
		return ""
	}
	return t.log.Path()
}

// auditLogFile is the sink path, or empty when none of the run's events
// reached it.
func (t *trail) auditLogFile() string {
	if t.written == 0 {
		return ""
	}
	return t.path()
}

func (t *trail) record(ctx context.Context, eventType audit.EventType, data map[string]any) {
	if t.progress != nil {
		t.progress(Progress{
			RunID:     t.runID,
			Procedure: t.procedure,
			Event:     eventType,
			Message:   progressMessage(eventType, data),
		})
	}
	if t.log == nil {
		t.failed(ctx, eventType, errNoSink)
		return
	}
	if _, err := t.log.LogEvent(ctx, eventType, data); err != nil {
		t.failed(ctx, eventType, err)
		return
	}
	t.written++
}

func (t *trail) failed(ctx context.Context, eventType audit.EventType, err error) {
	if t.metrics != nil {
		t.metrics.RecordAuditFailure(t.procedure)
	}
	t.logger.Warn(ctx, "audit event not written",
		zap.String("event_type", string(eventType)),
		zap.String("sink", t.path()),
		zap.Error(err),
	)
}

func progressMessage(eventType audit.EventType, data map[string]any) string {
	switch eventType {
	case audit.EventProcedureStart:
		return "procedure started"
	case audit.EventPreValidation:
		return validationMessage("pre-validation", data)
	case audit.EventExecutionStart:
		return "execution started"
	case audit.EventExecutionSuccess:
		return "execution succeeded"
	case audit.EventExecutionFailed:
		return "execution failed"
	case audit.EventPostValidation:
		return validationMessage("post-validation", data)
	case audit.EventProcedureComplete:
		if status, ok := data["status"].(string); ok {
			return "procedure complete: " + status
		}
	}
	return string(eventType)
}

func validationMessage(phase string, data map[string]any) string {
	if passed, ok := data["passed"].(bool); ok && passed {
		return phase + " passed"
	}
	return phase + " failed"
}
