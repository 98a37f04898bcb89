package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchType classifies how an invoice/payment pair was matched
type MatchType string

const (
	MatchTypeExact          MatchType = "exact"
	MatchTypePartial        MatchType = "partial"
	MatchTypeOverpayment    MatchType = "overpayment"
	MatchTypeUnderpayment   MatchType = "underpayment"
	MatchTypeReferenceMatch MatchType = "reference_match"
)

// DiscrepancyType classifies the nature of a reconciliation discrepancy
type DiscrepancyType string

const (
	DiscrepancyAmountMismatch   DiscrepancyType = "amount_mismatch"
	DiscrepancyCurrencyMismatch DiscrepancyType = "currency_mismatch"
	DiscrepancyDateVariance     DiscrepancyType = "date_variance"
	DiscrepancyDuplicatePayment DiscrepancyType = "duplicate_payment"
	DiscrepancyMissingInvoice   DiscrepancyType = "missing_invoice"
	DiscrepancyMissingPayment   DiscrepancyType = "missing_payment"
)

// ReconciliationStatus is the review status of a committed reconciliation
type ReconciliationStatus string

const (
	ReconciliationStatusPendingReview ReconciliationStatus = "pending_review"
	ReconciliationStatusApproved      ReconciliationStatus = "approved"
	ReconciliationStatusRejected      ReconciliationStatus = "rejected"
	ReconciliationStatusResolved      ReconciliationStatus = "resolved"
)

var validReconciliationStatuses = map[ReconciliationStatus]bool{
	ReconciliationStatusPendingReview: true,
	ReconciliationStatusApproved:      true,
	ReconciliationStatusRejected:      true,
	ReconciliationStatusResolved:      true,
}

// IsValid returns true if the status is a known reconciliation status
func (s ReconciliationStatus) IsValid() bool {
	return validReconciliationStatuses[s]
}

// MatchedBy identifies whether a reconciliation was created automatically or manually
type MatchedBy string

const (
	MatchedByAuto   MatchedBy = "auto"
	MatchedByManual MatchedBy = "manual"
)

// Reconciliation is a committed pairing of one invoice to one payment.
// Immutable after creation except for Status.
type Reconciliation struct {
	ID                string               `json:"id"`
	OrganizationID    string               `json:"organization_id"`
	InvoiceID         string               `json:"invoice_id"`
	PaymentID         string               `json:"payment_id"`
	MatchedAmount     decimal.Decimal      `json:"matched_amount"`
	MatchType         MatchType            `json:"match_type"`
	MatchConfidence   float64              `json:"match_confidence"`
	DiscrepancyAmount decimal.Decimal      `json:"discrepancy_amount"`
	DiscrepancyType   DiscrepancyType      `json:"discrepancy_type,omitempty"`
	Status            ReconciliationStatus `json:"status"`
	Notes             string               `json:"notes,omitempty"`
	MatchedBy         MatchedBy            `json:"matched_by"`
	CreatedAt         time.Time            `json:"created_at"`
}

// ReconciliationSuggestion is a transient scored candidate pairing, never persisted
type ReconciliationSuggestion struct {
	InvoiceID         string          `json:"invoice_id"`
	PaymentID         string          `json:"payment_id"`
	Confidence        float64         `json:"confidence"`
	MatchReasons      []string        `json:"match_reasons"`
	DiscrepancyAmount decimal.Decimal `json:"discrepancy_amount"`
}
