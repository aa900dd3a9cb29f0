package validation

import (
	"fmt"
	"strings"
	"time"
)

// Report aggregates the results of one validator phase
type Report struct {
	Phase       Phase     `json:"phase"`
	Procedure   string    `json:"procedure"`
	Participant string    `json:"participant"`
	Session     string    `json:"session,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Results     []Result  `json:"results"`
}

// Passed is true iff every error-severity result passed
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if res.Blocking() {
			return false
		}
	}
	return true
}

// Errors returns the failed error-severity results
func (r *Report) Errors() []Result {
	return r.filter(func(res Result) bool { return res.Blocking() })
}

// Warnings returns the failed warning-severity results
func (r *Report) Warnings() []Result {
	return r.filter(func(res Result) bool { return !res.Passed && res.Severity == SeverityWarning })
}

// PassedChecks returns every passing result
func (r *Report) PassedChecks() []Result {
	return r.filter(func(res Result) bool { return res.Passed })
}

// ErrorMessages returns the messages of Errors, in result order
func (r *Report) ErrorMessages() []string {
	return messages(r.Errors())
}

// WarningMessages returns the messages of Warnings, in result order
func (r *Report) WarningMessages() []string {
	return messages(r.Warnings())
}

// Summary returns a one-line description such as
// "PRE validation FAILED: 2 passed, 1 errors, 0 warnings".
func (r *Report) Summary() string {
	status := "PASSED"
	if !r.Passed() {
		status = "FAILED"
	}
	return fmt.Sprintf("%s validation %s: %d passed, %d errors, %d warnings",
		strings.ToUpper(string(r.Phase)), status,
		len(r.PassedChecks()), len(r.Errors()), len(r.Warnings()))
}

// Map flattens the report into plain values for storage.
func (r *Report) Map() map[string]any {
	if r == nil {
		return nil
	}
	results := make([]any, len(r.Results))
	for i, res := range r.Results {
		results[i] = res.Map()
	}
	var session any
	if r.Session != "" {
		session = r.Session
	}
	return map[string]any{
		"phase":         string(r.Phase),
		"procedure":     r.Procedure,
		"participant":   r.Participant,
		"session":       session,
		"timestamp":     r.Timestamp.Format(time.RFC3339Nano),
		"passed":        r.Passed(),
		"total_checks":  len(r.Results),
		"error_count":   len(r.Errors()),
		"warning_count": len(r.Warnings()),
		"passed_count":  len(r.PassedChecks()),
		"errors":        stringsToAny(r.ErrorMessages()),
		"warnings":      stringsToAny(r.WarningMessages()),
		"results":       results,
	}
}

func (r *Report) filter(keep func(Result) bool) []Result {
	out := []Result{}
	for _, res := range r.Results {
		if keep(res) {
			out = append(out, res)
		}
	}
	return out
}

func messages(results []Result) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Message
	}
	return out
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
