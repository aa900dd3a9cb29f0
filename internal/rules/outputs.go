package rules

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

type outputDirectoryExists struct {
	baseRule
	attr  string
	label string
}

// OutputDirectoryExists checks that the expected output attr was created.
func OutputDirectoryExists(attr, label string) validation.Rule {
	return &outputDirectoryExists{
		baseRule: baseRule{
			name:        attr + "_created",
			description: fmt.Sprintf("Verify %s was created", label),
			severity:    validation.SeverityError,
			phase:       validation.PhasePost,
		},
		attr:  attr,
		label: label,
	}
}

func (r *outputDirectoryExists) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	outputs := vc.ExpectedOutputs()
	if outputs == nil {
		return r.fail("No expected outputs defined", map[string]any{"output_attr": r.attr})
	}

	path, found, present, err := lookupPath(outputs, r.attr)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s is not a path: %v", r.label, err),
			map[string]any{"output_attr": r.attr, "error": err.Error()})
	case !found:
		return r.fail(fmt.Sprintf("Expected outputs missing '%s'", r.attr), map[string]any{"output_attr": r.attr})
	case !present:
		return r.fail(fmt.Sprintf("%s path not defined", r.label), map[string]any{"output_attr": r.attr})
	}

	_, exists, err := stat(path)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s could not be checked: %s", r.label, path),
			map[string]any{"path": path, "error": err.Error()})
	case !exists:
		return r.fail(fmt.Sprintf("%s not created: %s", r.label, path), map[string]any{"path": path, "exists": false})
	}
	return r.pass(fmt.Sprintf("%s created: %s", r.label, path), map[string]any{"path": path, "exists": true})
}

// OutputShape is the structure of an expected output attribute.
type OutputShape int

const (
	// OutputSingle is a single path.
	OutputSingle OutputShape = iota
	// OutputFlat is a key→path mapping.
	OutputFlat
	// OutputNested is a key→(key→path) mapping, e.g. workflow→session→path.
	OutputNested
)

func (s OutputShape) String() string {
	switch s {
	case OutputSingle:
		return "single"
	case OutputFlat:
		return "flat"
	case OutputNested:
		return "nested"
	}
	return fmt.Sprintf("OutputShape(%d)", int(s))
}

type expectedOutputsExist struct {
	baseRule
	attr  string
	label string
	shape OutputShape
}

// ExpectedOutputsExist checks that every path held by the expected output
// attr exists. shape fixes how the attribute is read.
func ExpectedOutputsExist(attr, label string, shape OutputShape, opts ...Option) validation.Rule {
	o := newOptions(opts)
	return &expectedOutputsExist{
		baseRule: baseRule{
			name:        attr + "_exist",
			description: fmt.Sprintf("Check %s exist", label),
			severity:    o.severity,
			phase:       validation.PhasePost,
		},
		attr:  attr,
		label: label,
		shape: shape,
	}
}

// item is one expected path with its report label.
type item struct {
	label string
	path  string
}

func (r *expectedOutputsExist) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	outputs := vc.ExpectedOutputs()
	if outputs == nil {
		return r.fail("No expected outputs available", nil)
	}
	raw, ok := outputs.Get(r.attr)
	if !ok {
		return r.fail(fmt.Sprintf("Expected outputs missing attribute: %s", r.attr), nil)
	}

	if r.shape == OutputSingle {
		return r.checkSingle(raw)
	}

	items, err := r.items(raw)
	if err != nil {
		return r.fail(fmt.Sprintf("%s has an unexpected shape: %v", r.label, err),
			map[string]any{"shape": r.shape.String(), "error": err.Error()})
	}

	missing, found, errs := []string{}, []string{}, []string{}
	for _, it := range items {
		if it.path == "" {
			missing = append(missing, fmt.Sprintf("%s (path not defined)", it.label))
			continue
		}
		_, exists, err := stat(it.path)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", it.label, err))
		}
		if exists {
			found = append(found, it.label)
		} else {
			missing = append(missing, fmt.Sprintf("%s (%s)", it.label, it.path))
		}
	}

	details := map[string]any{"found": found}
	if len(errs) > 0 {
		details["errors"] = errs
	}
	if len(missing) > 0 {
		details["missing"] = missing
		return r.fail(fmt.Sprintf("Missing %d %s", len(missing), r.label), details)
	}
	return r.pass(fmt.Sprintf("All %d %s exist", len(found), r.label), details)
}

func (r *expectedOutputsExist) checkSingle(raw any) (validation.Result, error) {
	path, present, err := attrs.Path(raw)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s is not a path: %v", r.label, err),
			map[string]any{"shape": r.shape.String(), "error": err.Error()})
	case !present:
		return r.fail(fmt.Sprintf("%s path not defined", r.label), map[string]any{r.attr: nil})
	}

	_, exists, err := stat(path)
	switch {
	case err != nil:
		return r.fail(fmt.Sprintf("%s could not be checked: %s", r.label, path),
			map[string]any{r.attr: path, "error": err.Error()})
	case !exists:
		return r.fail(fmt.Sprintf("%s not found: %s", r.label, path), map[string]any{r.attr: path})
	}
	return r.pass(fmt.Sprintf("%s exists: %s", r.label, path), map[string]any{r.attr: path})
}

// items lists the expected paths in a deterministic order.
func (r *expectedOutputsExist) items(raw any) ([]item, error) {
	var out []item
	switch r.shape {
	case OutputFlat:
		m, err := attrs.PathMap(raw)
		if err != nil {
			return nil, err
		}
		for _, k := range attrs.SortedKeys(m) {
			out = append(out, item{label: k, path: m[k]})
		}
	case OutputNested:
		m, err := attrs.NestedPathMap(raw)
		if err != nil {
			return nil, err
		}
		for _, k1 := range attrs.SortedKeys(m) {
			for _, k2 := range attrs.SortedKeys(m[k1]) {
				inner := k2
				if inner == "" {
					inner = "no-session"
				}
				out = append(out, item{label: k1 + "/" + inner, path: m[k1][k2]})
			}
		}
	default:
		return nil, fmt.Errorf("unsupported shape %s", r.shape)
	}
	return out, nil
}
