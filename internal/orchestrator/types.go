package orchestrator

import (
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/audit"
	"github.com/fyrsmithlabs/voxelops/internal/execution"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusPreValidationFailed  Status = "pre_validation_failed"
	StatusExecutionFailed      Status = "execution_failed"
	StatusPostValidationFailed Status = "post_validation_failed"
	StatusSuccess              Status = "success"
)

// AllStatuses returns every terminal status in state machine order.
func AllStatuses() []Status {
	return []Status{StatusPreValidationFailed, StatusExecutionFailed, StatusPostValidationFailed, StatusSuccess}
}

// Valid reports whether s is one of the terminal statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Request describes one run.
type Request struct {
	// Procedure selects the registered validator.
	Procedure string

	// Participant and Session default to the "participant" and "session"
	// attributes of Inputs.
	Participant string
	Session     string

	Inputs attrs.Attributes
	Config attrs.Attributes

	// ExpectedOutputs is used for post-validation when the execution record
	// does not carry its own.
	ExpectedOutputs attrs.Attributes

	// Command is passed through to the executor untouched.
	Command []string

	// LogDir overrides the audit directory for this run.
	LogDir string
}

// Progress is reported to a ProgressCallback after every transition.
type Progress struct {
	RunID     string
	Procedure string
	Event     audit.EventType
	Message   string
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)

// ProcedureResult is the terminal record of one run. It is not modified
// after Run returns.
type ProcedureResult struct {
	RunID       string
	Procedure   string
	Participant string
	Session     string
	Status      Status

	PreValidation  *validation.Report
	PostValidation *validation.Report
	Execution      *execution.Record

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// AuditLogFile is empty when none of the run's events reached the sink.
	AuditLogFile string
}

// Success is true iff the run reached StatusSuccess.
func (r *ProcedureResult) Success() bool {
	return r.Status == StatusSuccess
}

// DurationSeconds returns Duration in seconds.
func (r *ProcedureResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}
