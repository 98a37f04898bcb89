package models

import "time"

// JobStatus is the lifecycle state of a document processing job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusProcessing JobStatus = "processing"
	JobStatusExtracting JobStatus = "extracting"
	JobStatusValidating JobStatus = "validating"
	JobStatusSaving     JobStatus = "saving"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true when no further transitions are allowed (other than retry from failed)
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// String returns the string representation of the status
func (s JobStatus) String() string {
	return string(s)
}

// JobResult is the outcome payload of a completed processing job. FailedStep
// and StepError are set when the workflow finished through a failure branch,
// so a run that ended without a saved record is distinguishable from success.
type JobResult struct {
	DocumentType string  `json:"document_type"`
	RecordID     string  `json:"record_id,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	FailedStep   string  `json:"failed_step,omitempty"`
	StepError    string  `json:"step_error,omitempty"`
}

// ProcessingJob tracks one document moving through the ingestion workflow
type ProcessingJob struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	FileName       string     `json:"file_name"`
	FileSize       int64      `json:"file_size"`
	MimeType       string     `json:"mime_type"`
	DocumentType   string     `json:"document_type"`
	Status         JobStatus  `json:"status"`
	WorkflowID     string     `json:"workflow_id"`
	CurrentStep    string     `json:"current_step,omitempty"`
	Progress       int        `json:"progress"`
	FileKey        string     `json:"file_key,omitempty"`
	Result         *JobResult `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
