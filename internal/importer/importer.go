// Package importer loads invoices and payments in bulk from JSON and XLSX
// files. Rows are validated independently: bad rows are reported, good rows
// still load.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// RowError describes why one input row was rejected
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Result summarizes an import run
type Result struct {
	Created int        `json:"created"`
	Errors  []RowError `json:"errors,omitempty"`
}

// InvoiceSaver persists imported invoices
type InvoiceSaver interface {
	Create(ctx context.Context, inv *models.Invoice) error
}

// PaymentSaver persists imported payments
type PaymentSaver interface {
	Create(ctx context.Context, p *models.Payment) error
}

// Importer parses upload files into ledger records
type Importer struct {
	invoices InvoiceSaver
	payments PaymentSaver
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an importer
func New(invoices InvoiceSaver, payments PaymentSaver, logger *zap.Logger) *Importer {
	return &Importer{
		invoices: invoices,
		payments: payments,
		logger:   logger,
		now:      time.Now,
	}
}

type invoiceRow struct {
	InvoiceNumber string      `json:"invoice_number"`
	VendorName    string      `json:"vendor_name"`
	VendorID      string      `json:"vendor_id"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	IssueDate     string      `json:"issue_date"`
	DueDate       string      `json:"due_date"`
	Description   string      `json:"description"`
}

type paymentRow struct {
	PaymentReference string      `json:"payment_reference"`
	PayerName        string      `json:"payer_name"`
	PayerID          string      `json:"payer_id"`
	Amount           json.Number `json:"amount"`
	Currency         string      `json:"currency"`
	PaymentDate      string      `json:"payment_date"`
	PaymentMethod    string      `json:"payment_method"`
	BankReference    string      `json:"bank_reference"`
	Description      string      `json:"description"`
}

// ImportInvoicesJSON reads a JSON array of invoice rows
func (im *Importer) ImportInvoicesJSON(ctx context.Context, organizationID string, r io.Reader) (*Result, error) {
	var rows []invoiceRow
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	result := &Result{}
	for i, row := range rows {
		if err := im.saveInvoiceRow(ctx, organizationID, row); err != nil {
			result.Errors = append(result.Errors, RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		result.Created++
	}
	im.logImport("invoices", organizationID, result)
	return result, nil
}

// ImportPaymentsJSON reads a JSON array of payment rows
func (im *Importer) ImportPaymentsJSON(ctx context.Context, organizationID string, r io.Reader) (*Result, error) {
	var rows []paymentRow
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	result := &Result{}
	for i, row := range rows {
		if err := im.savePaymentRow(ctx, organizationID, row); err != nil {
			result.Errors = append(result.Errors, RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		result.Created++
	}
	im.logImport("payments", organizationID, result)
	return result, nil
}

// ImportInvoicesXLSX reads invoice rows from the first sheet of a workbook.
// The first row is the header; columns are matched by name.
func (im *Importer) ImportInvoicesXLSX(ctx context.Context, organizationID string, r io.Reader) (*Result, error) {
	rows, err := sheetRows(r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("workbook has no data rows")
	}

	cols := headerIndex(rows[0])
	result := &Result{}
	for i, cells := range rows[1:] {
		rowNum := i + 2
		row := invoiceRow{
			InvoiceNumber: cell(cells, cols, "invoice_number", "number"),
			VendorName:    cell(cells, cols, "vendor_name", "vendor"),
			VendorID:      cell(cells, cols, "vendor_id"),
			Amount:        json.Number(cell(cells, cols, "amount")),
			Currency:      cell(cells, cols, "currency"),
			IssueDate:     cell(cells, cols, "issue_date"),
			DueDate:       cell(cells, cols, "due_date"),
			Description:   cell(cells, cols, "description"),
		}
		if err := im.saveInvoiceRow(ctx, organizationID, row); err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		result.Created++
	}
	im.logImport("invoices", organizationID, result)
	return result, nil
}

// ImportPaymentsXLSX reads payment rows from the first sheet of a workbook
func (im *Importer) ImportPaymentsXLSX(ctx context.Context, organizationID string, r io.Reader) (*Result, error) {
	rows, err := sheetRows(r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("workbook has no data rows")
	}

	cols := headerIndex(rows[0])
	result := &Result{}
	for i, cells := range rows[1:] {
		rowNum := i + 2
		row := paymentRow{
			PaymentReference: cell(cells, cols, "payment_reference", "reference"),
			PayerName:        cell(cells, cols, "payer_name", "payer"),
			PayerID:          cell(cells, cols, "payer_id"),
			Amount:           json.Number(cell(cells, cols, "amount")),
			Currency:         cell(cells, cols, "currency"),
			PaymentDate:      cell(cells, cols, "payment_date"),
			PaymentMethod:    cell(cells, cols, "payment_method", "method"),
			BankReference:    cell(cells, cols, "bank_reference"),
			Description:      cell(cells, cols, "description"),
		}
		if err := im.savePaymentRow(ctx, organizationID, row); err != nil {
			result.Errors = append(result.Errors, RowError{Row: rowNum, Message: err.Error()})
			continue
		}
		result.Created++
	}
	im.logImport("payments", organizationID, result)
	return result, nil
}

func (im *Importer) saveInvoiceRow(ctx context.Context, organizationID string, row invoiceRow) error {
	if row.InvoiceNumber == "" {
		return fmt.Errorf("invoice_number is required")
	}
	if row.VendorName == "" {
		return fmt.Errorf("vendor_name is required")
	}
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return err
	}
	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		return fmt.Errorf("currency is required")
	}
	issueDate, err := parseDate(row.IssueDate, "issue_date")
	if err != nil {
		return err
	}
	dueDate, err := parseDate(row.DueDate, "due_date")
	if err != nil {
		return err
	}

	now := im.now().UTC()
	inv := &models.Invoice{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		InvoiceNumber:  row.InvoiceNumber,
		VendorName:     row.VendorName,
		VendorID:       row.VendorID,
		Amount:         amount,
		Currency:       currency,
		IssueDate:      issueDate,
		DueDate:        dueDate,
		Description:    row.Description,
		Status:         models.InvoiceStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := im.invoices.Create(ctx, inv); err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (im *Importer) savePaymentRow(ctx context.Context, organizationID string, row paymentRow) error {
	if row.PaymentReference == "" {
		return fmt.Errorf("payment_reference is required")
	}
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return err
	}
	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		return fmt.Errorf("currency is required")
	}
	paymentDate, err := parseDate(row.PaymentDate, "payment_date")
	if err != nil {
		return err
	}

	method := models.PaymentMethod(row.PaymentMethod)
	switch method {
	case models.PaymentMethodBankTransfer, models.PaymentMethodCheck,
		models.PaymentMethodCreditCard, models.PaymentMethodDirectDebit,
		models.PaymentMethodCash, models.PaymentMethodOther:
	case "":
		method = models.PaymentMethodOther
	default:
		return fmt.Errorf("unknown payment_method: %s", row.PaymentMethod)
	}

	now := im.now().UTC()
	pmt := &models.Payment{
		ID:               uuid.New().String(),
		OrganizationID:   organizationID,
		PaymentReference: row.PaymentReference,
		PayerName:        row.PayerName,
		PayerID:          row.PayerID,
		Amount:           amount,
		Currency:         currency,
		PaymentDate:      paymentDate,
		PaymentMethod:    method,
		BankReference:    row.BankReference,
		Description:      row.Description,
		Status:           models.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := im.payments.Create(ctx, pmt); err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func (im *Importer) logImport(kind, organizationID string, result *Result) {
	im.logger.Info("Bulk import finished",
		zap.String("kind", kind),
		zap.String("organization_id", organizationID),
		zap.Int("created", result.Created),
		zap.Int("errors", len(result.Errors)))
}

func sheetRows(r io.Reader) ([][]string, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	return rows, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

// cell returns the value of the first matching column name, trimmed
func cell(cells []string, cols map[string]int, names ...string) string {
	for _, name := range names {
		if idx, ok := cols[name]; ok && idx < len(cells) {
			return strings.TrimSpace(cells[idx])
		}
	}
	return ""
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %q", s)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseDate(s, field string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "01/02/2006", "2006/01/02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s: %q", field, s)
}
