package models

import "time"

// ExceptionType classifies a flagged discrepancy
type ExceptionType string

const (
	ExceptionUnmatchedInvoice  ExceptionType = "unmatched_invoice"
	ExceptionUnmatchedPayment  ExceptionType = "unmatched_payment"
	ExceptionAmountDiscrepancy ExceptionType = "amount_discrepancy"
	ExceptionDuplicateEntry    ExceptionType = "duplicate_entry"
	ExceptionDateVariance      ExceptionType = "date_variance"
	ExceptionVendorMismatch    ExceptionType = "vendor_mismatch"
)

// ExceptionSeverity ranks how urgently an exception needs attention
type ExceptionSeverity string

const (
	SeverityLow      ExceptionSeverity = "low"
	SeverityMedium   ExceptionSeverity = "medium"
	SeverityHigh     ExceptionSeverity = "high"
	SeverityCritical ExceptionSeverity = "critical"
)

// ExceptionStatus is the workflow status of an exception
type ExceptionStatus string

const (
	ExceptionStatusOpen      ExceptionStatus = "open"
	ExceptionStatusInReview  ExceptionStatus = "in_review"
	ExceptionStatusResolved  ExceptionStatus = "resolved"
	ExceptionStatusEscalated ExceptionStatus = "escalated"
)

var validExceptionStatuses = map[ExceptionStatus]bool{
	ExceptionStatusOpen:      true,
	ExceptionStatusInReview:  true,
	ExceptionStatusResolved:  true,
	ExceptionStatusEscalated: true,
}

// IsValid returns true if the status is a known exception status
func (s ExceptionStatus) IsValid() bool {
	return validExceptionStatuses[s]
}

// Exception is a flagged discrepancy or unmatched item requiring human follow-up
type Exception struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	Type             ExceptionType     `json:"type"`
	Severity         ExceptionSeverity `json:"severity"`
	InvoiceID        string            `json:"invoice_id,omitempty"`
	PaymentID        string            `json:"payment_id,omitempty"`
	ReconciliationID string            `json:"reconciliation_id,omitempty"`
	Description      string            `json:"description"`
	SuggestedAction  string            `json:"suggested_action"`
	Status           ExceptionStatus   `json:"status"`
	ResolvedBy       string            `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
