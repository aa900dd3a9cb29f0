// Package sanitize normalises and validates the identifiers and patterns that
// flow from procedure definitions into rule names, sink paths and globs.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxIdentifierLength bounds rule names so they stay usable as metric labels.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of "_<8 hex chars>".
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "unnamed"
)

// Identifier converts a human label into a rule-name fragment.
//
//	"DWI files"               -> "dwi_files"
//	"aparc+aseg parcellation" -> "aparc_aseg_parcellation"
//	"" or "!!!"               -> "unnamed"
//
// Results longer than MaxIdentifierLength are truncated with a hash suffix.
func Identifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-':
			b.WriteRune('-')
		default:
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_-")

	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// truncateWithHash keeps distinct long inputs distinct after truncation.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:MaxIdentifierLength-HashSuffixLength], "_-")
	return base + suffix
}
