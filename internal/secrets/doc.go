// Package secrets redacts credentials from text captured from external
// tools before it is stored in audit logs or result records.
//
// Detection uses the gitleaks default rule set. Known-harmless matches can
// be excluded with TOML allowlists in the gitleaks format:
//
//	[allowlist]
//	regexes = ['''sub-[0-9]+_ses-[a-z]+''']
//	paths = []
//
// Redacted text carries "[REDACTED:<rule-id>]" in place of each secret; the
// secret value itself is never stored or logged.
package secrets
