// Package job tracks document processing jobs end to end: submission,
// asynchronous workflow execution, status transitions, and retry.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/event"
	"github.com/ledgerline/reconcile/internal/models"
	"github.com/ledgerline/reconcile/internal/processor"
	"github.com/ledgerline/reconcile/internal/workflow"
)

var (
	// ErrJobNotFound is returned when the job id has no record
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a disallowed status change
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNotRetryable is returned when a job cannot be retried
	ErrNotRetryable = errors.New("job is not retryable")
)

// validTransitions defines the allowed status changes. Later pipeline stages
// may be skipped when a workflow omits a step, so forward jumps are allowed;
// moving backwards is not, except failed back to queued on retry.
var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusQueued:     {models.JobStatusUploading, models.JobStatusProcessing, models.JobStatusExtracting, models.JobStatusValidating, models.JobStatusSaving, models.JobStatusFailed},
	models.JobStatusUploading:  {models.JobStatusProcessing, models.JobStatusExtracting, models.JobStatusValidating, models.JobStatusSaving, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusExtracting, models.JobStatusValidating, models.JobStatusSaving, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusExtracting: {models.JobStatusValidating, models.JobStatusSaving, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusValidating: {models.JobStatusSaving, models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusSaving:     {models.JobStatusCompleted, models.JobStatusFailed},
	models.JobStatusFailed:     {models.JobStatusQueued},
	models.JobStatusCompleted:  {},
}

// CanTransition reports whether from may move to to
func CanTransition(from, to models.JobStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stepProgress maps each workflow step type onto the job status and progress
// checkpoint shown to clients while that step runs.
var stepProgress = map[workflow.StepType]struct {
	status   models.JobStatus
	progress int
}{
	workflow.StepTypeUpload:    {models.JobStatusUploading, 10},
	workflow.StepTypeClassify:  {models.JobStatusProcessing, 30},
	workflow.StepTypeExtract:   {models.JobStatusExtracting, 50},
	workflow.StepTypeValidate:  {models.JobStatusValidating, 70},
	workflow.StepTypeTransform: {models.JobStatusProcessing, 40},
	workflow.StepTypeSave:      {models.JobStatusSaving, 80},
	workflow.StepTypeNotify:    {models.JobStatusSaving, 90},
}

// Store is the persistence contract the tracker needs
type Store interface {
	Create(ctx context.Context, job *models.ProcessingJob) error
	Update(ctx context.Context, job *models.ProcessingJob) error
	GetByID(ctx context.Context, organizationID, id string) (*models.ProcessingJob, error)
	List(ctx context.Context, organizationID string) ([]*models.ProcessingJob, error)
}

// BlobReader fetches stored document bytes for retried jobs
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Tracker submits documents into the workflow engine and tracks each run as a
// ProcessingJob. Runs execute on their own goroutines, bounded by a
// concurrency limit.
type Tracker struct {
	jobs    Store
	engine  *workflow.Engine
	bus     *event.Bus
	blobs   BlobReader
	logger  *zap.Logger
	sem     chan struct{}
	timeout time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker running at most maxConcurrent jobs at once
func NewTracker(jobs Store, engine *workflow.Engine, bus *event.Bus, blobs BlobReader, maxConcurrent int, timeout time.Duration, logger *zap.Logger) *Tracker {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Tracker{
		jobs:    jobs,
		engine:  engine,
		bus:     bus,
		blobs:   blobs,
		logger:  logger,
		sem:     make(chan struct{}, maxConcurrent),
		timeout: timeout,
		now:     time.Now,
	}
}

// Submit creates a queued job for the document and starts it asynchronously
func (t *Tracker) Submit(ctx context.Context, organizationID string, doc processor.Document, workflowID string) (*models.ProcessingJob, error) {
	if workflowID == "" {
		workflowID = workflow.DefaultIngestionID
	}
	if _, err := t.engine.Definition(workflowID); err != nil {
		return nil, err
	}

	job := &models.ProcessingJob{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		FileName:       doc.FileName,
		FileSize:       int64(len(doc.Data)),
		MimeType:       doc.MimeType,
		Status:         models.JobStatusQueued,
		WorkflowID:     workflowID,
		CreatedAt:      t.now().UTC(),
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	t.publish(event.TypeJobCreated, job)

	// The run goroutine owns job from here; the caller gets a detached copy.
	snapshot := *job
	go t.run(job, doc.Data)
	return &snapshot, nil
}

// Retry re-runs a failed job from its stored document. Only failed jobs with
// a retained file can be retried.
func (t *Tracker) Retry(ctx context.Context, organizationID, jobID string) (*models.ProcessingJob, error) {
	job, err := t.jobs.GetByID(ctx, organizationID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, job.Status)
	}
	if job.FileKey == "" {
		return nil, fmt.Errorf("%w: original file not retained", ErrNotRetryable)
	}

	data, err := t.blobs.Get(ctx, job.FileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stored document: %w", err)
	}

	job.Status = models.JobStatusQueued
	job.Progress = 0
	job.CurrentStep = ""
	job.Error = ""
	job.Result = nil
	job.DocumentType = ""
	job.StartedAt = nil
	job.CompletedAt = nil
	if err := t.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to reset job: %w", err)
	}

	t.publish(event.TypeJobUpdated, job)

	snapshot := *job
	go t.run(job, data)
	return &snapshot, nil
}

// Get returns one job
func (t *Tracker) Get(ctx context.Context, organizationID, jobID string) (*models.ProcessingJob, error) {
	job, err := t.jobs.GetByID(ctx, organizationID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// List returns an organization's jobs, newest first
func (t *Tracker) List(ctx context.Context, organizationID string) ([]*models.ProcessingJob, error) {
	return t.jobs.List(ctx, organizationID)
}

// run executes the workflow for one job on the calling goroutine's behalf
func (t *Tracker) run(job *models.ProcessingJob, data []byte) {
	t.sem <- struct{}{}
	defer func() { <-t.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	started := t.now().UTC()
	job.StartedAt = &started

	wctx := &workflow.Context{
		Document: processor.Document{
			FileName: job.FileName,
			MimeType: job.MimeType,
			Data:     data,
		},
		Metadata: map[string]string{"organization_id": job.OrganizationID},
		OnStep: func(step workflow.Step) {
			t.onStep(ctx, job, step)
		},
	}

	exec, err := t.engine.Execute(ctx, job.WorkflowID, wctx)

	job.FileKey = wctx.FileKey
	completed := t.now().UTC()
	job.CompletedAt = &completed

	if err != nil {
		t.fail(ctx, job, err)
		return
	}

	result := &models.JobResult{
		ElapsedMs: exec.CompletedAt.Sub(exec.StartedAt).Milliseconds(),
	}
	if wctx.Classification != nil {
		result.DocumentType = string(wctx.Classification.Type)
		job.DocumentType = string(wctx.Classification.Type)
	}
	result.RecordID = wctx.RecordID
	result.Confidence = wctx.Confidence
	for _, sr := range exec.Steps {
		if !sr.Success {
			result.FailedStep = sr.StepID
			result.StepError = sr.Error
			break
		}
	}

	if !t.transition(job, models.JobStatusCompleted) {
		t.logger.Error("Job finished in unexpected status",
			zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	}
	job.Progress = 100
	job.Result = result
	job.Error = ""

	if err := t.jobs.Update(ctx, job); err != nil {
		t.logger.Error("Failed to persist completed job",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	t.publish(event.TypeJobCompleted, job)

	t.logger.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.String("organization_id", job.OrganizationID),
		zap.String("document_type", job.DocumentType),
		zap.Int64("elapsed_ms", result.ElapsedMs))
}

// onStep advances the job to the status checkpoint for the step about to run
func (t *Tracker) onStep(ctx context.Context, job *models.ProcessingJob, step workflow.Step) {
	job.CurrentStep = step.ID

	if cp, ok := stepProgress[step.Type]; ok {
		if cp.status != job.Status {
			t.transition(job, cp.status)
		}
		if cp.progress > job.Progress {
			job.Progress = cp.progress
		}
	}

	if err := t.jobs.Update(ctx, job); err != nil {
		t.logger.Error("Failed to persist job progress",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	t.publish(event.TypeJobUpdated, job)
}

func (t *Tracker) fail(ctx context.Context, job *models.ProcessingJob, cause error) {
	if !t.transition(job, models.JobStatusFailed) {
		job.Status = models.JobStatusFailed
	}
	job.Error = cause.Error()

	if err := t.jobs.Update(ctx, job); err != nil {
		t.logger.Error("Failed to persist failed job",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	t.publish(event.TypeJobFailed, job)

	t.logger.Warn("Job failed",
		zap.String("job_id", job.ID),
		zap.String("organization_id", job.OrganizationID),
		zap.String("step", job.CurrentStep),
		zap.Error(cause))
}

func (t *Tracker) transition(job *models.ProcessingJob, to models.JobStatus) bool {
	if !CanTransition(job.Status, to) {
		return false
	}
	job.Status = to
	return true
}

// publish sends a snapshot so subscribers never observe in-flight mutation
func (t *Tracker) publish(eventType string, job *models.ProcessingJob) {
	snapshot := *job
	t.bus.Publish(event.Event{
		Type:           eventType,
		OrganizationID: job.OrganizationID,
		Payload:        &snapshot,
	})
}
