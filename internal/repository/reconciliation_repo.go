package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// ReconciliationRepository handles reconciliation database operations
type ReconciliationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReconciliationRepository creates a new reconciliation repository
func NewReconciliationRepository(db *sql.DB, logger *zap.Logger) *ReconciliationRepository {
	return &ReconciliationRepository{
		db:     db,
		logger: logger,
	}
}

const reconciliationColumns = `id, organization_id, invoice_id, payment_id, matched_amount,
	match_type, match_confidence, discrepancy_amount, discrepancy_type, status, notes,
	matched_by, created_at`

// Create inserts a new reconciliation record
func (r *ReconciliationRepository) Create(ctx context.Context, rec *models.Reconciliation) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO reconciliations (` + reconciliationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.OrganizationID,
		rec.InvoiceID,
		rec.PaymentID,
		rec.MatchedAmount.String(),
		rec.MatchType,
		rec.MatchConfidence,
		rec.DiscrepancyAmount.String(),
		rec.DiscrepancyType,
		rec.Status,
		rec.Notes,
		rec.MatchedBy,
		rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reconciliation", zap.Error(err))
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return nil
}

// GetByID retrieves a reconciliation; returns (nil, nil) when not found
func (r *ReconciliationRepository) GetByID(ctx context.Context, orgID, id string) (*models.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE organization_id = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, orgID, id)

	rec, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation: %w", err)
	}
	return rec, nil
}

// List returns all reconciliations for an organization in insertion order
func (r *ReconciliationRepository) List(ctx context.Context, orgID string) ([]*models.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE organization_id = ? ORDER BY rowid`
	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var recs []*models.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpdateStatus updates a reconciliation review status; all other fields are immutable
func (r *ReconciliationRepository) UpdateStatus(ctx context.Context, orgID, id string, status models.ReconciliationStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reconciliations SET status = ? WHERE organization_id = ? AND id = ?`,
		status, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation status: %w", err)
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

func scanReconciliation(row rowScanner) (*models.Reconciliation, error) {
	var rec models.Reconciliation
	var matchedAmount, discrepancyAmount string

	err := row.Scan(
		&rec.ID,
		&rec.OrganizationID,
		&rec.InvoiceID,
		&rec.PaymentID,
		&matchedAmount,
		&rec.MatchType,
		&rec.MatchConfidence,
		&discrepancyAmount,
		&rec.DiscrepancyType,
		&rec.Status,
		&rec.Notes,
		&rec.MatchedBy,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.MatchedAmount, err = decimal.NewFromString(matchedAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored matched amount %q: %w", matchedAmount, err)
	}
	rec.DiscrepancyAmount, err = decimal.NewFromString(discrepancyAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored discrepancy amount %q: %w", discrepancyAmount, err)
	}
	return &rec, nil
}
