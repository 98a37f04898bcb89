package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// InvoiceRepository handles invoice database operations.
// Every query is scoped by organization id.
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		logger: logger,
	}
}

const invoiceColumns = `id, organization_id, invoice_number, vendor_name, vendor_id,
	amount, currency, issue_date, due_date, description, line_items, status,
	reconciliation_id, created_at, updated_at`

// Create inserts a new invoice record
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	lineItems, err := json.Marshal(invoice.LineItems)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		invoice.ID,
		invoice.OrganizationID,
		invoice.InvoiceNumber,
		invoice.VendorName,
		invoice.VendorID,
		invoice.Amount.String(),
		invoice.Currency,
		invoice.IssueDate,
		invoice.DueDate,
		invoice.Description,
		string(lineItems),
		invoice.Status,
		invoice.ReconciliationID,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice; returns (nil, nil) when not found
func (r *InvoiceRepository) GetByID(ctx context.Context, orgID, id string) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE organization_id = ? AND id = ?`
	row := r.db.QueryRowContext(ctx, query, orgID, id)

	invoice, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return invoice, nil
}

// List returns all invoices for an organization in insertion order
func (r *InvoiceRepository) List(ctx context.Context, orgID string) ([]*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE organization_id = ? ORDER BY rowid`
	return r.queryInvoices(ctx, query, orgID)
}

// ListByStatus returns invoices with any of the given statuses, in insertion order
func (r *InvoiceRepository) ListByStatus(ctx context.Context, orgID string, statuses ...models.InvoiceStatus) ([]*models.Invoice, error) {
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

	query := `SELECT ` + invoiceColumns + ` FROM invoices
		WHERE organization_id = ? AND status IN (` + placeholders + `) ORDER BY rowid`
	return r.queryInvoices(ctx, query, args...)
}

// UpdateStatus updates an invoice status
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, orgID, id string, status models.InvoiceStatus) error {
	return r.updateStatus(ctx, orgID, id, status, nil)
}

// SetReconciliation updates status and records the reconciliation back-reference
func (r *InvoiceRepository) SetReconciliation(ctx context.Context, orgID, id string, status models.InvoiceStatus, reconciliationID string) error {
	return r.updateStatus(ctx, orgID, id, status, &reconciliationID)
}

func (r *InvoiceRepository) updateStatus(ctx context.Context, orgID, id string, status models.InvoiceStatus, reconciliationID *string) error {
	var result sql.Result
	var err error

	if reconciliationID != nil {
		result, err = r.db.ExecContext(ctx,
			`UPDATE invoices SET status = ?, reconciliation_id = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
			status, *reconciliationID, time.Now().UTC(), orgID, id)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE invoices SET status = ?, updated_at = ? WHERE organization_id = ? AND id = ?`,
			status, time.Now().UTC(), orgID, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update invoice status: %w", err)
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

func (r *InvoiceRepository) queryInvoices(ctx context.Context, query string, args ...interface{}) ([]*models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*models.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var invoice models.Invoice
	var amount, lineItems string

	err := row.Scan(
		&invoice.ID,
		&invoice.OrganizationID,
		&invoice.InvoiceNumber,
		&invoice.VendorName,
		&invoice.VendorID,
		&amount,
		&invoice.Currency,
		&invoice.IssueDate,
		&invoice.DueDate,
		&invoice.Description,
		&lineItems,
		&invoice.Status,
		&invoice.ReconciliationID,
		&invoice.CreatedAt,
		&invoice.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	invoice.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if err := json.Unmarshal([]byte(lineItems), &invoice.LineItems); err != nil {
		return nil, fmt.Errorf("invalid stored line items: %w", err)
	}
	return &invoice, nil
}
