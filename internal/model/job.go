package model

import (
	"strings"
	"time"
)

// JobStatus represents the current state of a submitted document.
type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusAnalyzing JobStatus = "Analyzing"
	JobStatusComplete  JobStatus = "Complete"
	JobStatusFailed    JobStatus = "Failed"
)

// InFlight reports whether the job can still be moved by the pipeline.
func (s JobStatus) InFlight() bool {
	return s == JobStatusPending || s == JobStatusAnalyzing
}

// Terminal reports whether no further automatic transition will occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

const (
	// SystemSubmitterID identifies jobs created by the email intake.
	SystemSubmitterID = "system-auto-import"
	// SystemSubmitterName is the display name for email-ingested jobs.
	SystemSubmitterName = "Auto-Import"
	// AnonymousName is used when the submitter has no display name.
	AnonymousName = "Anonymous"
)

// Job is one submitted document's journey through the pipeline. The
// business domain calls it a deal.
type Job struct {
	ID              string          `json:"id"`
	SubmitterID     string          `json:"user_id"`
	SubmitterName   string          `json:"user_name"`
	SourceName      string          `json:"file_name"`
	ArchiveKey      *string         `json:"-"`
	ArchiveLocation *string         `json:"s3_url"`
	Status          JobStatus       `json:"status"`
	Result          *AnalysisResult `json:"analysis_data"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Archived reports whether the original document was stored.
func (j *Job) Archived() bool {
	return j.ArchiveKey != nil && *j.ArchiveKey != ""
}

// DisplayName joins first and last name, falling back to AnonymousName.
func DisplayName(first, last string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		return AnonymousName
	}
	return name
}
