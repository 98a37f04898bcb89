package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending          InvoiceStatus = "pending"
	InvoiceStatusPartiallyMatched InvoiceStatus = "partially_matched"
	InvoiceStatusMatched          InvoiceStatus = "matched"
	InvoiceStatusDisputed         InvoiceStatus = "disputed"
	InvoiceStatusWrittenOff       InvoiceStatus = "written_off"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	InvoiceStatusPending:          true,
	InvoiceStatusPartiallyMatched: true,
	InvoiceStatusMatched:          true,
	InvoiceStatusDisputed:         true,
	InvoiceStatusWrittenOff:       true,
}

// IsValid returns true if the status is a known invoice status
func (s InvoiceStatus) IsValid() bool {
	return validInvoiceStatuses[s]
}

// String returns the string representation of the status
func (s InvoiceStatus) String() string {
	return string(s)
}

// LineItem is a single line on an invoice
type LineItem struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Invoice represents a billing invoice awaiting payment.
// Invoices are never deleted; write-off is a status transition.
type Invoice struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	InvoiceNumber    string          `json:"invoice_number"`
	VendorName       string          `json:"vendor_name"`
	VendorID         string          `json:"vendor_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	IssueDate        time.Time       `json:"issue_date"`
	DueDate          time.Time       `json:"due_date"`
	Description      string          `json:"description"`
	LineItems        []LineItem      `json:"line_items"`
	Status           InvoiceStatus   `json:"status"`
	ReconciliationID string          `json:"reconciliation_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
