package models

import "time"

// PatchFormat selects the serialization of forward and inverse diffs.
type PatchFormat string

const (
	FormatGit     PatchFormat = "git"
	FormatUnified PatchFormat = "unified"
	FormatContext PatchFormat = "context"
)

// FileRevision records the resolved before/after content of one file touched
// by a patch. Revisions drive apply and rollback; the diff text is derived
// from them for audit and interchange.
type FileRevision struct {
	Path   string `json:"path"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// PatchMetadata carries the originating fix attributes alongside a patch.
type PatchMetadata struct {
	FixType            FixType   `json:"fix_type"`
	Confidence         float64   `json:"confidence"`
	RiskLevel          RiskLevel `json:"risk_level"`
	EstimatedImpact    Impact    `json:"estimated_impact"`
	RollbackPossible   bool      `json:"rollback_possible"`
	AffectedFilesCount int       `json:"affected_files_count"`
}

// Patch is a reversible change set generated from a fix candidate. Forward
// and inverse content are write-once; InverseContent is empty when the
// source fix is not rollback-capable.
type Patch struct {
	ID             string         `json:"patch_id"`
	Description    string         `json:"description"`
	Format         PatchFormat    `json:"format"`
	ForwardContent string         `json:"forward_content"`
	InverseContent string         `json:"inverse_content,omitempty"`
	AffectedFiles  []string       `json:"affected_files"`
	Revisions      []FileRevision `json:"revisions"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       PatchMetadata  `json:"metadata"`
}

// PatchSummary is the incident-store view of a generated patch.
type PatchSummary struct {
	ID            string      `json:"patch_id"`
	Description   string      `json:"description"`
	Format        PatchFormat `json:"format"`
	AffectedFiles []string    `json:"affected_files"`
}

// PatchResult reports the outcome of an apply or rollback operation.
type PatchResult struct {
	Success   bool     `json:"success"`
	PatchID   string   `json:"patch_id"`
	BackupDir string   `json:"backup_dir,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}
