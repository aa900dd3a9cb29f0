package rules

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

type directoryExists struct {
	baseRule
	attr  string
	label string
}

// DirectoryExists checks that the input attribute attr names an existing
// directory. An attribute holding nil or "" passes as optional; a missing
// attribute fails.
func DirectoryExists(attr, label string, opts ...Option) validation.Rule {
	o := newOptions(opts)
	return &directoryExists{
		baseRule: baseRule{
			name:        attr + "_exists",
			description: fmt.Sprintf("Verify %s exists", label),
			severity:    o.severity,
			phase:       validation.PhasePre,
		},
		attr:  attr,
		label: label,
	}
}

func (r *directoryExists) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	if vc.Inputs() == nil {
		return r.fail("No inputs provided", map[string]any{"path_attr": r.attr})
	}
	path, found, present, err := lookupPath(vc.Inputs(), r.attr)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s is not a path: %v", r.label, err),
			map[string]any{"path_attr": r.attr, "error": err.Error()})
	case !found:
		return r.fail(fmt.Sprintf("Inputs missing '%s' attribute", r.attr), map[string]any{"path_attr": r.attr})
	case !present:
		return r.pass(fmt.Sprintf("%s not specified (optional)", r.label),
			map[string]any{"path_attr": r.attr, "value": nil})
	}

	info, exists, err := stat(path)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s could not be checked: %s", r.label, path),
			map[string]any{"path": path, "error": err.Error()})
	case !exists:
		return r.fail(fmt.Sprintf("%s not found: %s", r.label, path), map[string]any{"path": path, "exists": false})
	case !info.IsDir():
		return r.fail(fmt.Sprintf("%s path is not a directory: %s", r.label, path), map[string]any{"path": path, "is_dir": false})
	}
	return r.pass(fmt.Sprintf("%s exists: %s", r.label, path), map[string]any{"path": path, "exists": true})
}

type fileExists struct {
	baseRule
	attr       string
	label      string
	fromConfig bool
}

// FileExists checks that attr names an existing regular file. The attribute
// is read from inputs, or from config with FromConfig.
func FileExists(attr, label string, opts ...Option) validation.Rule {
	o := newOptions(opts)
	return &fileExists{
		baseRule: baseRule{
			name:        attr + "_exists",
			description: fmt.Sprintf("Verify %s exists", label),
			severity:    o.severity,
			phase:       validation.PhasePre,
		},
		attr:       attr,
		label:      label,
		fromConfig: o.fromConfig,
	}
}

func (r *fileExists) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	source, sourceName, title := vc.Inputs(), "inputs", "Inputs"
	if r.fromConfig {
		source, sourceName, title = vc.Config(), "config", "Config"
	}
	if source == nil {
		return r.fail(fmt.Sprintf("No %s provided", sourceName), map[string]any{"path_attr": r.attr})
	}

	path, found, present, err := lookupPath(source, r.attr)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s is not a path: %v", r.label, err),
			map[string]any{"path_attr": r.attr, "error": err.Error()})
	case !found:
		return r.fail(fmt.Sprintf("%s missing '%s' attribute", title, r.attr),
			map[string]any{"path_attr": r.attr})
	case !present:
		return r.pass(fmt.Sprintf("%s not specified (optional)", r.label),
			map[string]any{"path_attr": r.attr, "value": nil})
	}

	info, exists, err := stat(path)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s could not be checked: %s", r.label, path),
			map[string]any{"path": path, "error": err.Error()})
	case !exists:
		return r.fail(fmt.Sprintf("%s not found: %s", r.label, path), map[string]any{"path": path, "exists": false})
	case !info.Mode().IsRegular():
		return r.fail(fmt.Sprintf("%s path is not a file: %s", r.label, path), map[string]any{"path": path, "is_file": false})
	}
	return r.pass(fmt.Sprintf("%s exists: %s", r.label, path), map[string]any{"path": path, "exists": true})
}

type participantExists struct {
	baseRule
	prefix    string
	baseAttrs []string
}

// ParticipantExists checks that prefix+participant exists under the input
// base directory.
func ParticipantExists(opts ...Option) validation.Rule {
	o := newOptions(opts)
	return &participantExists{
		baseRule: baseRule{
			name:        "participant_exists",
			description: "Verify participant exists in input directory",
			severity:    o.severity,
			phase:       validation.PhasePre,
		},
		prefix:    o.prefix,
		baseAttrs: o.baseAttrs,
	}
}

func (r *participantExists) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	base, ok := vc.InputDir(r.baseAttrs...)
	if !ok {
		return r.fail("Cannot determine input directory", map[string]any{"participant": vc.Participant()})
	}

	dir := filepath.Join(base, r.prefix+vc.Participant())
	_, exists, err := stat(dir)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("Participant directory could not be checked: %s", dir),
			map[string]any{"participant": vc.Participant(), "expected_path": dir, "error": err.Error()})
	case !exists:
		return r.fail(fmt.Sprintf("Participant not found: %s", dir),
			map[string]any{"participant": vc.Participant(), "expected_path": dir, "exists": false})
	}
	return r.pass(fmt.Sprintf("Participant found: %s", dir),
		map[string]any{"participant": vc.Participant(), "path": dir, "exists": true})
}

