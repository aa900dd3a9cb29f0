package rules

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fyrsmithlabs/voxelops/internal/attrs"
	"github.com/fyrsmithlabs/voxelops/internal/sanitize"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

// GlobSpec configures a GlobFilesExist rule.
type GlobSpec struct {
	// BaseAttr names the directory attribute to search under. In the pre
	// phase it is read from inputs, falling back to the input base directory;
	// in the post phase from expected outputs, falling back to inputs.
	BaseAttr string
	// Pattern is relative to the search directory; "**" spans directories.
	Pattern string
	// MinCount defaults to 1.
	MinCount int
	// Label is the human-readable file kind, e.g. "DWI files". The rule name
	// is derived from it.
	Label string
	// Phase defaults to pre.
	Phase validation.Phase
	// ParticipantLevel descends into sub-<participant>[/ses-<session>].
	ParticipantLevel bool
	// Severity defaults to error.
	Severity validation.Severity
}

type globFilesExist struct {
	baseRule
	spec GlobSpec
}

// NewGlobFilesExist builds a rule counting files matching spec.Pattern.
func NewGlobFilesExist(spec GlobSpec) (validation.Rule, error) {
	if spec.Label == "" {
		return nil, errors.New("glob rule: label is required")
	}
	if spec.BaseAttr == "" && spec.Phase == validation.PhasePost {
		return nil, fmt.Errorf("glob rule %q: base attribute is required in the post phase", spec.Label)
	}
	if err := sanitize.ValidateGlobPattern(spec.Pattern); err != nil {
		return nil, fmt.Errorf("glob rule %q: %w", spec.Label, err)
	}
	if spec.MinCount < 0 {
		return nil, fmt.Errorf("glob rule %q: min count must be >= 0, got %d", spec.Label, spec.MinCount)
	}
	if spec.MinCount == 0 {
		spec.MinCount = 1
	}
	if spec.Phase == "" {
		spec.Phase = validation.PhasePre
	}
	if !spec.Phase.Valid() {
		return nil, fmt.Errorf("glob rule %q: unknown phase %q", spec.Label, spec.Phase)
	}
	if spec.Severity == "" {
		spec.Severity = validation.SeverityError
	}

	return &globFilesExist{
		baseRule: baseRule{
			name:        sanitize.Identifier(spec.Label) + "_exist",
			description: fmt.Sprintf("Verify %s exist (pattern: %s)", spec.Label, spec.Pattern),
			severity:    spec.Severity,
			phase:       spec.Phase,
		},
		spec: spec,
	}, nil
}

// GlobFilesExist is NewGlobFilesExist for rules declared in code; it panics
// on an invalid spec.
func GlobFilesExist(spec GlobSpec) validation.Rule {
	r, err := NewGlobFilesExist(spec)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *globFilesExist) baseDir(vc validation.Context) (string, bool, error) {
	if r.spec.Phase == validation.PhasePost {
		for _, source := range []attrs.Attributes{vc.ExpectedOutputs(), vc.Inputs()} {
			p, found, present, err := lookupPath(source, r.spec.BaseAttr)
			if err != nil {
				return "", false, err
			}
			if found && present {
				return p, true, nil
			}
		}
		return "", false, nil
	}

	if r.spec.BaseAttr != "" {
		p, found, present, err := lookupPath(vc.Inputs(), r.spec.BaseAttr)
		if err != nil {
			return "", false, err
		}
		if found && present {
			return p, true, nil
		}
	}
	base, ok := vc.InputDir()
	return base, ok, nil
}

func (r *globFilesExist) Check(_ context.Context, vc validation.Context) (validation.Result, error) {
	base, ok, err := r.baseDir(vc)
	if err != nil {
		return r.fail(fmt.Sprintf("Cannot read base directory for %s: %v", r.spec.Label, err),
			map[string]any{"base_dir_attr": r.spec.BaseAttr, "error": err.Error()})
	}
	if !ok {
		return r.fail(fmt.Sprintf("Cannot determine base directory for %s", r.spec.Label),
			map[string]any{"base_dir_attr": r.spec.BaseAttr})
	}

	searchDir := base
	if r.spec.ParticipantLevel {
		searchDir = filepath.Join(base, vc.ParticipantLabel())
		if vc.Session() != "" {
			searchDir = filepath.Join(searchDir, vc.SessionLabel())
		}
	}

	details := map[string]any{
		"base_dir":       base,
		"pattern":        r.spec.Pattern,
		"search_dir":     searchDir,
		"required_count": r.spec.MinCount,
		"found_count":    0,
		"found_files":    []string{},
	}

	info, exists, err := stat(searchDir)
	switch {
	case err != nil:
		details["error"] = err.Error()
		return r.fail(fmt.Sprintf("Search directory could not be checked: %s", searchDir), details)
	case !exists || !info.IsDir():
		details["search_dir_exists"] = false
		if r.spec.ParticipantLevel {
			details["participant"] = vc.Participant()
			details["session"] = vc.Session()
			return r.fail(fmt.Sprintf("Participant directory does not exist: %s", searchDir), details)
		}
		return r.fail(fmt.Sprintf("Base directory does not exist: %s", searchDir), details)
	}
	details["search_dir_exists"] = true

	matches, err := doublestar.Glob(os.DirFS(searchDir), r.spec.Pattern, doublestar.WithFailOnIOErrors())
	if err != nil {
		details["error"] = err.Error()
		return r.fail(fmt.Sprintf("Search for %s failed in %s: %v", r.spec.Label, searchDir, err), details)
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = path.Base(m)
	}
	sort.Strings(names)
	details["found_count"] = len(names)
	details["found_files"] = names

	if len(names) < r.spec.MinCount {
		return r.fail(fmt.Sprintf("Found %d %s, required %d", len(names), r.spec.Label, r.spec.MinCount), details)
	}
	return r.pass(fmt.Sprintf("Found %d %s", len(names), r.spec.Label), details)
}
