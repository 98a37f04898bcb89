package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// PaymentRepository handles payment database operations.
// Every query is scoped by organization id.
type PaymentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db *sql.DB, logger *zap.Logger) *PaymentRepository {
	return &PaymentRepository{
		db:     db,
		logger: logger,
	}
}

const paymentColumns = `id, organization_id, payment_reference, payer_name, payer_id,
	amount, currency, payment_date, payment_method, bank_reference, description,
	status, reconciliation_id, created_at, updated_at`

// Create inserts a new payment record
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.OrganizationID,
		payment.PaymentReference,
		payment.PayerName,
		payment.PayerID,
		payment.Amount.String(),
		payment.Currency,
		payment.PaymentDate,
		payment.PaymentMethod,
		payment.BankReference,
		payment.Description,
		payment.Status,
		payment.ReconciliationID,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create payment", zap.Error(err))
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment; returns (nil, nil) when not found
func (r *PaymentRepository) GetByID(ctx context.Context, orgID, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE organization_id = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, orgID, id)

	payment, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

// List returns all payments for an organization in insertion order
func (r *PaymentRepository) List(ctx context.Context, orgID string) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE organization_id = ? ORDER BY rowid`
	return r.queryPayments(ctx, query, orgID)
}

// ListByStatus returns payments with any of the given statuses, in insertion order
func (r *PaymentRepository) ListByStatus(ctx context.Context, orgID string, statuses ...models.PaymentStatus) ([]*models.Payment, error) {
	if len(statuses) == 0 {
		return r.List(ctx, orgID)
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, orgID)
	for _, s := range statuses {
		args = append(args, s)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE organization_id = ? AND status IN (` + placeholders + `) ORDER BY rowid`
	return r.queryPayments(ctx, query, args...)
}

// UpdateStatus updates a payment status
func (r *PaymentRepository) UpdateStatus(ctx context.Context, orgID, id string, status models.PaymentStatus) error {
	return r.updateStatus(ctx, orgID, id, status, nil)
}

// SetReconciliation updates status and records the reconciliation back-reference
func (r *PaymentRepository) SetReconciliation(ctx context.Context, orgID, id string, status models.PaymentStatus, reconciliationID string) error {
	return r.updateStatus(ctx, orgID, id, status, &reconciliationID)
}

func (r *PaymentRepository) updateStatus(ctx context.Context, orgID, id string, status models.PaymentStatus, reconciliationID *string) error {
	var result sql.Result
	var err error

	if reconciliationID != nil {
		result, err = r.db.ExecContext(ctx,
			`UPDATE payments SET status = ?, reconciliation_id = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
			status, *reconciliationID, time.Now().UTC(), orgID, id)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE payments SET status = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
			status, time.Now().UTC(), orgID, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
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

func (r *PaymentRepository) queryPayments(ctx context.Context, query string, args ...interface{}) ([]*models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var payment models.Payment
	var amount string

	err := row.Scan(
		&payment.ID,
		&payment.OrganizationID,
		&payment.PaymentReference,
		&payment.PayerName,
		&payment.PayerID,
		&amount,
		&payment.Currency,
		&payment.PaymentDate,
		&payment.PaymentMethod,
		&payment.BankReference,
		&payment.Description,
		&payment.Status,
		&payment.ReconciliationID,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	return &payment, nil
}
