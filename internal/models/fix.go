package models

// FixType distinguishes configuration tweaks from code edits.
type FixType string

const (
	FixTypeConfiguration FixType = "configuration"
	FixTypeCode          FixType = "code"
	FixTypeUnknown       FixType = "unknown"
)

// RiskLevel is an ordinal safety classification for a proposed fix.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
	RiskUnknown  RiskLevel = "UNKNOWN"
)

// Score maps a risk level onto its ordinal position; lower is safer.
func (r RiskLevel) Score() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 5
	}
}

// Impact estimates the blast radius of applying a fix.
type Impact string

const (
	ImpactLow    Impact = "LOW"
	ImpactMedium Impact = "MEDIUM"
	ImpactHigh   Impact = "HIGH"
)

// CodeChange is a single search-and-replace operation scoped by file pattern.
type CodeChange struct {
	FilePattern    string `json:"file_pattern" yaml:"file_pattern"`
	SearchPattern  string `json:"search_pattern" yaml:"search_pattern"`
	ReplacePattern string `json:"replace_pattern" yaml:"replace_pattern"`
	Description    string `json:"description" yaml:"description"`
}

// FixCandidate is a ranked, never-mutated fix proposal produced by the rule
// engine.
type FixCandidate struct {
	FixType          FixType      `json:"fix_type"`
	Description      string       `json:"description"`
	CodeChanges      []CodeChange `json:"code_changes"`
	Confidence       float64      `json:"confidence"`
	RiskLevel        RiskLevel    `json:"risk_level"`
	RollbackPossible bool         `json:"rollback_possible"`
	EstimatedImpact  Impact       `json:"estimated_impact"`
}
