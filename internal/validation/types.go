package validation

import (
	"context"
	"time"
)

// Severity decides whether a failed check blocks a procedure
type Severity string

const (
	// SeverityError blocks the procedure when the check fails
	SeverityError Severity = "error"

	// SeverityWarning is reported but never affects Report.Passed
	SeverityWarning Severity = "warning"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarning
}

// Phase is the point in a procedure at which a rule runs
type Phase string

const (
	// PhasePre runs before the external tool is invoked
	PhasePre Phase = "pre"

	// PhasePost runs after the external tool succeeded
	PhasePost Phase = "post"
)

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p == PhasePre || p == PhasePost
}

// Rule is a single named check.
//
// Check must not mutate the context or cause side effects beyond read-only
// filesystem inspection. Expected absence of files is reported as a failed
// Result; a returned error is reserved for conditions the rule cannot
// classify and is converted into a failed Result by the Validator.
type Rule interface {
	Name() string
	Description() string
	Severity() Severity
	Phase() Phase
	Check(ctx context.Context, vc Context) (Result, error)
}

// Result is the outcome of one rule check
type Result struct {
	RuleName        string         `json:"rule_name"`
	RuleDescription string         `json:"rule_description"`
	Passed          bool           `json:"passed"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Blocking reports whether the result is a failed error-severity check.
func (r Result) Blocking() bool {
	return !r.Passed && r.Severity == SeverityError
}

// Map renders the result as plain values.
func (r Result) Map() map[string]any {
	details := make(map[string]any, len(r.Details))
	for k, v := range r.Details {
		details[k] = v
	}
	return map[string]any{
		"rule_name":        r.RuleName,
		"rule_description": r.RuleDescription,
		"passed":           r.Passed,
		"severity":         string(r.Severity),
		"message":          r.Message,
		"details":          details,
		"timestamp":        r.Timestamp.Format(time.RFC3339Nano),
	}
}
