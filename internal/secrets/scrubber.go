package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Redaction describes one redacted secret without its value.
type Redaction struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Length int    `json:"length"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Content    string      `json:"-"`
	Redactions []Redaction `json:"redactions"`
}

// RuleCounts returns the number of redactions per rule.
func (r Result) RuleCounts() map[string]int {
	counts := make(map[string]int, len(r.Redactions))
	for _, red := range r.Redactions {
		counts[red.RuleID]++
	}
	return counts
}

// Scrubber detects and redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a scrubber over the gitleaks default rules, extended with
// allowlist. A nil allowlist excludes nothing.
func New(allowlist *Allowlist) (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("create secret detector: %w", err)
	}
	if !allowlist.Empty() {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Scrubber{detector: detector}, nil
}

// Scrub replaces every detected secret in content with a marker.
func (s *Scrubber) Scrub(content string) Result {
	if content == "" {
		return Result{Content: content}
	}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(findings) == 0 {
		return Result{Content: content}
	}

	redactions := make([]Redaction, 0, len(findings))
	replacements := make(map[string]string, len(findings))
	for _, f := range findings {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		redactions = append(redactions, Redaction{RuleID: f.RuleID, Line: f.StartLine, Length: len(secret)})
		if _, ok := replacements[secret]; !ok {
			replacements[secret] = "[REDACTED:" + f.RuleID + "]"
		}
	}

	// Longest secrets first so a secret containing another is replaced whole.
	secrets := make([]string, 0, len(replacements))
	for secret := range replacements {
		secrets = append(secrets, secret)
	}
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	scrubbed := content
	for _, secret := range secrets {
		scrubbed = strings.ReplaceAll(scrubbed, secret, replacements[secret])
	}

	sort.SliceStable(redactions, func(i, j int) bool { return redactions[i].Line < redactions[j].Line })
	return Result{Content: scrubbed, Redactions: redactions}
}

// Redact returns content with secrets replaced.
func (s *Scrubber) Redact(content string) string {
	return s.Scrub(content).Content
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "voxelops allowlist"}

	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
