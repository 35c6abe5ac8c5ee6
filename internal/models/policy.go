package models

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToneEnforcementMode controls what the drafter does with hard-ban terms
type ToneEnforcementMode string

const (
	ToneModeObserve ToneEnforcementMode = "observe" // Flag only
	ToneModeRewrite ToneEnforcementMode = "rewrite" // Rewrite under conservative rigor
)

// TonePolicy is the project-independent tone and precision policy the
// critic audits against and the drafter rewrites under. Loaded from YAML
// at startup; the built-in default applies when no file is configured.
type TonePolicy struct {
	Mode         ToneEnforcementMode `yaml:"mode" json:"mode"`
	HardBanTerms []string            `yaml:"hard_ban_terms" json:"hard_ban_terms"`
	CautionTerms []string            `yaml:"caution_terms" json:"caution_terms"`
	Precision    PrecisionPolicy     `yaml:"precision" json:"precision"`
}

// PrecisionPolicy controls numeric strictness in table audits
type PrecisionPolicy struct {
	RequireUnits           bool `yaml:"require_units" json:"require_units"`
	FlagUnqualifiedNumbers bool `yaml:"flag_unqualified_numbers" json:"flag_unqualified_numbers"`
}

// DefaultTonePolicy returns the built-in policy
func DefaultTonePolicy() TonePolicy {
	return TonePolicy{
		Mode: ToneModeObserve,
		HardBanTerms: []string{
			"prove", "proves", "proof",
			"undeniable", "certainly", "obviously",
			"revolutionary", "breakthrough", "unprecedented",
			"paradigm-shifting",
		},
		CautionTerms: []string{
			"significant", "novel", "clearly", "dramatic",
		},
		Precision: PrecisionPolicy{
			RequireUnits:           true,
			FlagUnqualifiedNumbers: true,
		},
	}
}

// LoadTonePolicy reads a policy file, falling back to the default when the
// path is empty.
func LoadTonePolicy(path string) (TonePolicy, error) {
	if path == "" {
		return DefaultTonePolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return TonePolicy{}, fmt.Errorf("failed to read tone policy %s: %w", path, err)
	}

	policy := DefaultTonePolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return TonePolicy{}, fmt.Errorf("failed to parse tone policy %s: %w", path, err)
	}

	if policy.Mode != ToneModeObserve && policy.Mode != ToneModeRewrite {
		return TonePolicy{}, fmt.Errorf("unknown tone enforcement mode %q in %s", policy.Mode, path)
	}

	return policy, nil
}

// HardBanMatch returns the first hard-ban term found in text, lowercased
// matching, or empty when clean.
func (p TonePolicy) HardBanMatch(text string) string {
	lower := strings.ToLower(text)
	for _, term := range p.HardBanTerms {
		if containsWord(lower, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}

// CautionMatches returns every caution term present in text
func (p TonePolicy) CautionMatches(text string) []string {
	lower := strings.ToLower(text)
	var matches []string
	for _, term := range p.CautionTerms {
		if containsWord(lower, strings.ToLower(term)) {
			matches = append(matches, term)
		}
	}
	return matches
}

var (
	tableNumberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	unitSuffixRe  = regexp.MustCompile(`^\s{0,2}(?:%|°[CF]?|[a-zA-Zµ]{1,6}(?:/[a-zA-Zµ]{1,6})?\b)`)
)

// AuditTable checks the numbers in a table region against the precision
// policy. It returns the flags raised and whether every number carries a
// unit.
func (p PrecisionPolicy) AuditTable(text string) ([]string, bool) {
	missingUnits := false
	unqualified := false

	for _, loc := range tableNumberRe.FindAllStringIndex(text, -1) {
		if unitSuffixRe.MatchString(text[loc[1]:]) {
			continue
		}
		missingUnits = true
		if !hasUncertaintyMarker(text[:loc[0]]) {
			unqualified = true
		}
	}

	unitsVerified := !p.RequireUnits || !missingUnits

	var flags []string
	if p.RequireUnits && missingUnits {
		flags = append(flags, "missing_units")
	}
	if p.FlagUnqualifiedNumbers && unqualified {
		flags = append(flags, "unqualified_numbers")
	}
	return flags, unitsVerified
}

// hasUncertaintyMarker reports whether the text just before a number ends
// in an uncertainty marker, so "3.2 ± 0.4" does not count 0.4 twice.
func hasUncertaintyMarker(prefix string) bool {
	trimmed := strings.TrimRight(prefix, " \t")
	for _, marker := range []string{"±", "~", "≈", "+/-"} {
		if strings.HasSuffix(trimmed, marker) {
			return true
		}
	}
	return false
}

// containsWord matches term at word boundaries so "prove" does not match
// "improved".
func containsWord(text, term string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], term)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(term)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end >= len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(text) {
			return false
		}
	}
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' || b == '-'
}
