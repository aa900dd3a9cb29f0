package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrInvalidPattern indicates a glob pattern is malformed or escapes its root.
	ErrInvalidPattern = errors.New("invalid or dangerous pattern")

	// ErrInvalidLabel indicates a participant or session label is unusable.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// labelPattern matches BIDS-style labels: alphanumeric, no separators.
var labelPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// dangerousPatternChars are shell metacharacters that never belong in a glob.
var dangerousPatternChars = regexp.MustCompile("[;|$`<>&()]")

// ValidateLabel checks a participant or session label. Labels become path
// components and sink file names, so they must not contain separators.
func ValidateLabel(label, field string) error {
	if label == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidLabel, field)
	}
	if strings.ContainsAny(label, `/\.`) {
		return fmt.Errorf("%w: %s %q contains path characters", ErrInvalidLabel, field, label)
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("%w: %s %q must be alphanumeric (1-64 chars)", ErrInvalidLabel, field, label)
	}
	return nil
}

// ValidateOptionalLabel is ValidateLabel for fields that may be empty.
func ValidateOptionalLabel(label, field string) error {
	if label == "" {
		return nil
	}
	return ValidateLabel(label, field)
}

// ValidateGlobPattern checks a glob pattern relative to a search directory.
// Patterns are matched with doublestar, so "**" spans directories.
func ValidateGlobPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if dangerousPatternChars.MatchString(pattern) {
		return fmt.Errorf("%w: contains shell metacharacters", ErrInvalidPattern)
	}
	if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("%w: must be relative to the search directory", ErrInvalidPattern)
	}
	for _, part := range strings.Split(pattern, "/") {
		if part == ".." {
			return fmt.Errorf("%w: contains path traversal", ErrInvalidPattern)
		}
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: malformed pattern %q", ErrInvalidPattern, pattern)
	}
	return nil
}

// ValidatePath cleans path and makes it absolute, rejecting traversal.
// If allowedRoot is non-empty the result must lie within it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
		}
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		root, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return abs, nil
}
