// Package execution defines the boundary to the external collaborator that
// actually performs a procedure's side effects, usually a containerized tool.
package execution

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
)

// Spec is the opaque description handed to an Executor.
type Spec struct {
	Procedure   string
	Participant string
	Session     string
	Inputs      attrs.Attributes
	Config      attrs.Attributes
	// Command is the fully built command line, if the caller has one.
	Command []string
}

// Record is the execution record returned by an Executor.
type Record struct {
	Tool            string    `json:"tool"`
	Participant     string    `json:"participant"`
	Command         []string  `json:"command,omitempty"`
	ExitCode        int       `json:"exit_code"`
	Stdout          string    `json:"stdout,omitempty"`
	Stderr          string    `json:"stderr,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`

	// ExpectedOutputs describes what the tool should have produced. It feeds
	// post-validation.
	ExpectedOutputs attrs.Attributes `json:"-"`
}

// Map renders the record as plain values.
func (r *Record) Map() map[string]any {
	if r == nil {
		return nil
	}
	m := map[string]any{
		"tool":             r.Tool,
		"participant":      r.Participant,
		"exit_code":        r.ExitCode,
		"stdout":           r.Stdout,
		"stderr":           r.Stderr,
		"duration_seconds": r.DurationSeconds,
		"success":          r.Success,
		"error":            r.Error,
	}
	if !r.StartTime.IsZero() {
		m["start_time"] = r.StartTime.Format(time.RFC3339Nano)
	}
	if !r.EndTime.IsZero() {
		m["end_time"] = r.EndTime.Format(time.RFC3339Nano)
	}
	cmd := make([]any, len(r.Command))
	for i, c := range r.Command {
		cmd[i] = c
	}
	m["command"] = cmd
	if r.ExpectedOutputs != nil {
		m["expected_outputs"] = attrs.Snapshot(r.ExpectedOutputs)
	}
	return m
}

// Executor runs one procedure invocation. A returned error means the
// collaborator could not launch or complete the work at all; a Record with
// Success=false means it ran and failed.
type Executor interface {
	Execute(ctx context.Context, spec Spec) (*Record, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec Spec) (*Record, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, spec Spec) (*Record, error) {
	return f(ctx, spec)
}
