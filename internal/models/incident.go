package models

import "time"

// ResolutionStatus tracks the lifecycle of a stored incident.
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionDuplicate ResolutionStatus = "duplicate"
	ResolutionFailed    ResolutionStatus = "failed"
)

// LogEntry is a parsed log line as consumed by the triage pipeline.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level,omitempty"`
	Message   string            `json:"message"`
	Source    string            `json:"source,omitempty"`
	RawLine   string            `json:"raw_line,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Incident is the durable record of one triaged error. It is owned by the
// incident store and mutated only through resolution updates and the
// background deduplication pass.
type Incident struct {
	ID               string            `json:"incident_id"`
	Timestamp        time.Time         `json:"timestamp"`
	LogEntry         LogEntry          `json:"log_entry"`
	Classification   Classification    `json:"classification"`
	Fixes            []FixCandidate    `json:"fixes"`
	Patches          []PatchSummary    `json:"patches"`
	ResolutionStatus ResolutionStatus  `json:"resolution_status"`
	Metadata         map[string]string `json:"metadata"`
}

// IncidentQuery filters incident searches. Zero values mean "no filter".
type IncidentQuery struct {
	ErrorType  string
	Severity   Severity
	StartTime  time.Time
	EndTime    time.Time
	Message    string
	Components []string
}
