package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// ExceptionRepository handles exception database operations
type ExceptionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExceptionRepository creates a new exception repository
func NewExceptionRepository(db *sql.DB, logger *zap.Logger) *ExceptionRepository {
	return &ExceptionRepository{
		db:     db,
		logger: logger,
	}
}

const exceptionColumns = `id, organization_id, type, severity, invoice_id, payment_id,
	reconciliation_id, description, suggested_action, status, resolved_by, resolved_at,
	created_at`

// Create inserts a new exception record
func (r *ExceptionRepository) Create(ctx context.Context, exc *models.Exception) error {
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO exceptions (` + exceptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		exc.ID,
		exc.OrganizationID,
		exc.Type,
		exc.Severity,
		exc.InvoiceID,
		exc.PaymentID,
		exc.ReconciliationID,
		exc.Description,
		exc.SuggestedAction,
		exc.Status,
		exc.ResolvedBy,
		exc.ResolvedAt,
		exc.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create exception", zap.Error(err))
		return fmt.Errorf("failed to create exception: %w", err)
	}
	return nil
}

// GetByID retrieves an exception; returns (nil, nil) when not found
func (r *ExceptionRepository) GetByID(ctx context.Context, orgID, id string) (*models.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE organization_id = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, orgID, id)

	exc, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exception: %w", err)
	}
	return exc, nil
}

// List returns all exceptions for an organization in insertion order
func (r *ExceptionRepository) List(ctx context.Context, orgID string) ([]*models.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE organization_id = ? ORDER BY rowid`
	return r.queryExceptions(ctx, query, orgID)
}

// ListByStatus returns exceptions with the given status, in insertion order
func (r *ExceptionRepository) ListByStatus(ctx context.Context, orgID string, status models.ExceptionStatus) ([]*models.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions
		WHERE organization_id = ? AND status = ? ORDER BY rowid`
	return r.queryExceptions(ctx, query, orgID, status)
}

// HasUnresolvedForInvoice reports whether an open or in-review exception references the invoice
func (r *ExceptionRepository) HasUnresolvedForInvoice(ctx context.Context, orgID, invoiceID string) (bool, error) {
	return r.hasUnresolved(ctx, orgID, "invoice_id", invoiceID)
}

// HasUnresolvedForPayment reports whether an open or in-review exception references the payment
func (r *ExceptionRepository) HasUnresolvedForPayment(ctx context.Context, orgID, paymentID string) (bool, error) {
	return r.hasUnresolved(ctx, orgID, "payment_id", paymentID)
}

func (r *ExceptionRepository) hasUnresolved(ctx context.Context, orgID, column, id string) (bool, error) {
	query := `SELECT COUNT(1) FROM exceptions
		WHERE organization_id = ? AND ` + column + ` = ? AND status IN (?, ?)`

	var count int
	err := r.db.QueryRowContext(ctx, query, orgID, id,
		models.ExceptionStatusOpen, models.ExceptionStatusInReview).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check unresolved exceptions: %w", err)
	}
	return count > 0, nil
}

// UpdateStatus updates an exception workflow status, recording the resolver when resolving
func (r *ExceptionRepository) UpdateStatus(ctx context.Context, orgID, id string, status models.ExceptionStatus, resolvedBy string) error {
	var result sql.Result
	var err error

	if status == models.ExceptionStatusResolved {
		result, err = r.db.ExecContext(ctx,
			`UPDATE exceptions SET status = ?, resolved_by = ?, resolved_at = ? WHERE organization_id = ? AND id = ?`,
			status, resolvedBy, time.Now().UTC(), orgID, id)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE exceptions SET status = ? WHERE organization_id = ? AND id = ?`,
			status, orgID, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update exception status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ExceptionRepository) queryExceptions(ctx context.Context, query string, args ...interface{}) ([]*models.Exception, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exceptions: %w", err)
	}
	defer rows.Close()

	var excs []*models.Exception
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exception: %w", err)
		}
		excs = append(excs, exc)
	}
	return excs, rows.Err()
}

func scanException(row rowScanner) (*models.Exception, error) {
	var exc models.Exception
	var resolvedAt sql.NullTime

	err := row.Scan(
		&exc.ID,
		&exc.OrganizationID,
		&exc.Type,
		&exc.Severity,
		&exc.InvoiceID,
		&exc.PaymentID,
		&exc.ReconciliationID,
		&exc.Description,
		&exc.SuggestedAction,
		&exc.Status,
		&exc.ResolvedBy,
		&resolvedAt,
		&exc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		exc.ResolvedAt = &resolvedAt.Time
	}
	return &exc, nil
}
