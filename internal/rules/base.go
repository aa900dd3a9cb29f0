package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// baseRule carries rule identity and the result helpers shared by every rule.
type baseRule struct {
	name        string
	description string
	severity    validation.Severity
	phase       validation.Phase
}

func (r baseRule) Name() string                  { return r.name }
func (r baseRule) Description() string           { return r.description }
func (r baseRule) Severity() validation.Severity { return r.severity }
func (r baseRule) Phase() validation.Phase       { return r.phase }

func (r baseRule) result(passed bool, msg string, details map[string]any) validation.Result {
	if details == nil {
		details = map[string]any{}
	}
	return validation.Result{
		RuleName:        r.name,
		RuleDescription: r.description,
		Passed:          passed,
		Severity:        r.severity,
		Message:         msg,
		Details:         details,
		Timestamp:       time.Now(),
	}
}

func (r baseRule) pass(msg string, details map[string]any) (validation.Result, error) {
	return r.result(true, msg, details), nil
}

func (r baseRule) fail(msg string, details map[string]any) (validation.Result, error) {
	return r.result(false, msg, details), nil
}

// Option customises a library rule.
type Option func(*options)

type options struct {
	severity   validation.Severity
	prefix     string
	baseAttrs  []string
	fromConfig bool
}

func newOptions(opts []Option) options {
	o := options{severity: validation.SeverityError, prefix: "sub-"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSeverity sets the severity of the rule. The default is error.
func WithSeverity(s validation.Severity) Option {
	return func(o *options) { o.severity = s }
}

// WithPrefix sets the participant directory prefix. The default is "sub-".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithBaseAttr restricts input base directory resolution to the given
// attributes instead of validation.InputDirAttrs.
func WithBaseAttr(names ...string) Option {
	return func(o *options) { o.baseAttrs = append([]string(nil), names...) }
}

// FromConfig makes FileExists read its attribute from config instead of inputs.
func FromConfig() Option {
	return func(o *options) { o.fromConfig = true }
}

// stat reports whether path exists. Not-exist is not an error.
func stat(path string) (fs.FileInfo, bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	return nil, false, err
}

// lookupPath reads name off a and coerces it to a path.
// present is false when the attribute exists but holds nil or "".
func lookupPath(a attrs.Attributes, name string) (path string, found, present bool, err error) {
	if a == nil {
		return "", false, false, nil
	}
	v, ok := a.Get(name)
	if !ok {
		return "", false, false, nil
	}
	p, present, err := attrs.Path(v)
	if err != nil {
		return "", true, false, fmt.Errorf("attribute %q: %w", name, err)
	}
	return p, true, present, nil
}
