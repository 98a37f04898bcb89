package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// JobRepository handles processing job database operations
type JobRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB, logger *zap.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `id, organization_id, file_name, file_size, mime_type, document_type,
	status, workflow_id, current_step, progress, file_key, result, error,
	started_at, completed_at, created_at`

// Create inserts a new processing job record
func (r *JobRepository) Create(ctx context.Context, job *models.ProcessingJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	result, err := marshalJobResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.OrganizationID,
		job.FileName,
		job.FileSize,
		job.MimeType,
		job.DocumentType,
		job.Status,
		job.WorkflowID,
		job.CurrentStep,
		job.Progress,
		job.FileKey,
		result,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
		job.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create processing job", zap.Error(err))
		return fmt.Errorf("failed to create processing job: %w", err)
	}
	return nil
}

// Update persists the mutable fields of a processing job
func (r *JobRepository) Update(ctx context.Context, job *models.ProcessingJob) error {
	result, err := marshalJobResult(job.Result)
	if err != nil {
		return err
	}

	query := `
		UPDATE processing_jobs SET
			document_type = ?, status = ?, workflow_id = ?, current_step = ?,
			progress = ?, file_key = ?, result = ?, error = ?,
			started_at = ?, completed_at = ?
		WHERE organization_id = ? AND id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		job.DocumentType,
		job.Status,
		job.WorkflowID,
		job.CurrentStep,
		job.Progress,
		job.FileKey,
		result,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
		job.OrganizationID,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update processing job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a processing job; returns (nil, nil) when not found
func (r *JobRepository) GetByID(ctx context.Context, orgID, id string) (*models.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE organization_id = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, orgID, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing job: %w", err)
	}
	return job, nil
}

// List returns all processing jobs for an organization, most recent first
func (r *JobRepository) List(ctx context.Context, orgID string) ([]*models.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE organization_id = ? ORDER BY rowid DESC`
	return r.queryJobs(ctx, query, orgID)
}

// ListCompleted returns completed jobs, used for processing time aggregates
func (r *JobRepository) ListCompleted(ctx context.Context, orgID string) ([]*models.ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs
		WHERE organization_id = ? AND status = ? ORDER BY rowid`
	return r.queryJobs(ctx, query, orgID, models.JobStatusCompleted)
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*models.ProcessingJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func marshalJobResult(result *models.JobResult) (string, error) {
	if result == nil {
		return "", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job result: %w", err)
	}
	return string(data), nil
}

func scanJob(row rowScanner) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	var result string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.OrganizationID,
		&job.FileName,
		&job.FileSize,
		&job.MimeType,
		&job.DocumentType,
		&job.Status,
		&job.WorkflowID,
		&job.CurrentStep,
		&job.Progress,
		&job.FileKey,
		&result,
		&job.Error,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if result != "" {
		job.Result = &models.JobResult{}
		if err := json.Unmarshal([]byte(result), job.Result); err != nil {
			return nil, fmt.Errorf("invalid stored job result: %w", err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
