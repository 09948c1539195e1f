package models

// Severity captures operator-facing impact levels for classified errors.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Classification is the result of triaging a single log message. It is
// immutable once returned by the classifier.
type Classification struct {
	ErrorType        string   `json:"error_type"`
	Severity         Severity `json:"severity"`
	Confidence       float64  `json:"confidence"`
	Components       []string `json:"components"`
	SuggestedActions []string `json:"suggested_actions"`
	RootCause        string   `json:"root_cause,omitempty"`
	AffectedSystems  []string `json:"affected_systems"`
	RulesApplied     []string `json:"rules_applied"`
}

// CodeSnippet is a fragment of source surrounding a location the analyzer
// considers relevant to an error.
type CodeSnippet struct {
	FilePath   string `json:"file_path"`
	LineNumber int    `json:"line_number"`
	Snippet    string `json:"snippet"`
}

// ContextSummary is the codebase-context input to fix generation.
type ContextSummary struct {
	Snippets       []CodeSnippet  `json:"snippets"`
	CommonPatterns map[string]int `json:"common_patterns"`
}
