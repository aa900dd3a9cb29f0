package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// ErrInvalidRecord is returned by ParseFlatRecord for records that are not
// self-consistent.
var ErrInvalidRecord = errors.New("invalid procedure result record")

// FailureReason explains a failed run. Validation failures join the failing
// report's error messages with "; ". Execution failures return the error
// captured in the execution record. It is "" for a successful run.
func (r *ProcedureResult) FailureReason() string {
	switch r.Status {
	case StatusSuccess:
		return ""
	case StatusPreValidationFailed:
		if r.PreValidation != nil {
			return strings.Join(r.PreValidation.ErrorMessages(), "; ")
		}
	case StatusPostValidationFailed:
		if r.PostValidation != nil {
			return strings.Join(r.PostValidation.ErrorMessages(), "; ")
		}
	case StatusExecutionFailed:
		if r.Execution != nil && r.Execution.Error != "" {
			return r.Execution.Error
		}
		return "execution failed"
	}
	return "failed with status " + string(r.Status)
}

// FlatRecord renders the result as nested maps, slices and primitives only,
// suitable for any document or relational store.
func (r *ProcedureResult) FlatRecord() map[string]any {
	rec := map[string]any{
		"run_id":           r.RunID,
		"procedure":        r.Procedure,
		"participant":      r.Participant,
		"session":          nilIfEmpty(r.Session),
		"status":           string(r.Status),
		"success":          r.Success(),
		"start_time":       formatTime(r.StartTime),
		"end_time":         formatTime(r.EndTime),
		"duration_seconds": r.DurationSeconds(),
		"pre_validation":   nil,
		"post_validation":  nil,
		"execution":        nil,
		"audit_log_file":   nilIfEmpty(r.AuditLogFile),
		"failure_reason":   nilIfEmpty(r.FailureReason()),
	}
	if r.PreValidation != nil {
		rec["pre_validation"] = r.PreValidation.Map()
	}
	if r.PostValidation != nil {
		rec["post_validation"] = r.PostValidation.Map()
	}
	if r.Execution != nil {
		rec["execution"] = r.Execution.Map()
	}
	return rec
}

// ReportView is the stored form of a validation report.
type ReportView struct {
	Phase        validation.Phase `json:"phase"`
	Passed       bool             `json:"passed"`
	TotalChecks  int              `json:"total_checks"`
	ErrorCount   int              `json:"error_count"`
	WarningCount int              `json:"warning_count"`
	PassedCount  int              `json:"passed_count"`
	Errors       []string         `json:"errors"`
	Warnings     []string         `json:"warnings"`
}

// ResultView is a procedure result read back from its flat record.
type ResultView struct {
	RunID           string         `json:"run_id"`
	Procedure       string         `json:"procedure"`
	Participant     string         `json:"participant"`
	Session         string         `json:"session"`
	Status          Status         `json:"status"`
	Success         bool           `json:"success"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	DurationSeconds float64        `json:"duration_seconds"`
	PreValidation   *ReportView    `json:"pre_validation"`
	PostValidation  *ReportView    `json:"post_validation"`
	Execution       map[string]any `json:"execution"`
	AuditLogFile    string         `json:"audit_log_file"`
	FailureReason   string         `json:"failure_reason"`
}

// ParseFlatRecord decodes a JSON-encoded flat record and checks that its
// status is known and agrees with its success flag.
func ParseFlatRecord(data []byte) (*ResultView, error) {
	var v ResultView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if !v.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, v.Status)
	}
	if v.Success != (v.Status == StatusSuccess) {
		return nil, fmt.Errorf("%w: success=%t contradicts status %q", ErrInvalidRecord, v.Success, v.Status)
	}
	if v.RunID == "" {
		return nil, fmt.Errorf("%w: missing run_id", ErrInvalidRecord)
	}
	return &v, nil
}

// Errors returns the error messages of the report that decided the status.
func (v *ResultView) Errors() []string {
	switch v.Status {
	case StatusPreValidationFailed:
		if v.PreValidation != nil {
			return v.PreValidation.Errors
		}
	case StatusPostValidationFailed:
		if v.PostValidation != nil {
			return v.PostValidation.Errors
		}
	}
	return nil
}

// Warnings returns the warnings of both reports, pre first.
func (v *ResultView) Warnings() []string {
	var out []string
	if v.PreValidation != nil {
		out = append(out, v.PreValidation.Warnings...)
	}
	if v.PostValidation != nil {
		out = append(out, v.PostValidation.Warnings...)
	}
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
