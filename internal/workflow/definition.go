// Package workflow implements the configurable multi-step document-ingestion
// pipeline: definitions describe a directed graph of typed steps, and the
// engine walks the graph executing each step with per-step retry.
package workflow

import (
	"errors"
	"time"

	"github.com/ledgerline/reconcile/internal/processor"
)

var (
	// ErrWorkflowNotFound is returned when executing an unregistered definition
	ErrWorkflowNotFound = errors.New("workflow definition not found")
	// ErrWorkflowCycle is returned when a definition's step graph loops
	ErrWorkflowCycle = errors.New("workflow step graph contains a cycle")
)

// StepType identifies the built-in behavior a step runs
type StepType string

const (
	StepTypeUpload    StepType = "upload"
	StepTypeClassify  StepType = "classify"
	StepTypeExtract   StepType = "extract"
	StepTypeValidate  StepType = "validate"
	StepTypeTransform StepType = "transform"
	StepTypeSave      StepType = "save"
	StepTypeNotify    StepType = "notify"
)

// Step is one node in a workflow definition. OnSuccess and OnFailure name the
// next step id to run; an empty value ends the workflow on that branch.
type Step struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        StepType      `json:"type"`
	ProcessorID string        `json:"processor_id,omitempty"`
	RetryCount  int           `json:"retry_count"`
	RetryDelay  time.Duration `json:"retry_delay"`
	OnSuccess   string        `json:"on_success,omitempty"`
	OnFailure   string        `json:"on_failure,omitempty"`
}

// Definition is a named workflow: execution starts at the first step
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

func (d *Definition) step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// StepResult records the final attempt of one executed step
type StepResult struct {
	StepID    string    `json:"step_id"`
	StepType  StepType  `json:"step_type"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	StartedAt time.Time `json:"started_at"`
	ElapsedMs int64     `json:"elapsed_ms"`
}

// ExecutionStatus is the terminal outcome of a workflow run
type ExecutionStatus string

const (
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Execution is the record of one workflow run
type Execution struct {
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Steps       []StepResult    `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Context     *Context        `json:"-"`
}

// Context carries document state between steps of a single run. OnStep, when
// set, is invoked before each step executes; callers use it to surface
// progress.
type Context struct {
	Document       processor.Document
	Metadata       map[string]string
	FileKey        string
	Classification *processor.Classification
	Extracted      *processor.ExtractedDocument
	Confidence     float64
	RecordID       string
	OnStep         func(step Step)
}

// DefaultIngestionID is the id of the built-in document-ingestion workflow
const DefaultIngestionID = "document-ingestion"

// DefaultIngestionDefinition is the standard upload-to-ledger pipeline.
// Extraction retries twice on transient failure and routes to notify when it
// ultimately fails, so the caller always hears about the document.
func DefaultIngestionDefinition() *Definition {
	return &Definition{
		ID:   DefaultIngestionID,
		Name: "Document Ingestion",
		Steps: []Step{
			{ID: "upload", Name: "Store document", Type: StepTypeUpload, OnSuccess: "classify"},
			{ID: "classify", Name: "Classify document", Type: StepTypeClassify, OnSuccess: "extract"},
			{ID: "extract", Name: "Extract fields", Type: StepTypeExtract,
				RetryCount: 2, RetryDelay: 500 * time.Millisecond,
				OnSuccess: "validate", OnFailure: "notify"},
			{ID: "validate", Name: "Validate fields", Type: StepTypeValidate, OnSuccess: "save"},
			{ID: "save", Name: "Save to ledger", Type: StepTypeSave, OnSuccess: "notify"},
			{ID: "notify", Name: "Notify", Type: StepTypeNotify},
		},
	}
}
