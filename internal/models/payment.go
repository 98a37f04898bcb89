package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle status of a payment
type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "pending"
	PaymentStatusPartiallyMatched PaymentStatus = "partially_matched"
	PaymentStatusMatched          PaymentStatus = "matched"
	PaymentStatusUnmatched        PaymentStatus = "unmatched"
	PaymentStatusRefunded         PaymentStatus = "refunded"
)

var validPaymentStatuses = map[PaymentStatus]bool{
	PaymentStatusPending:          true,
	PaymentStatusPartiallyMatched: true,
	PaymentStatusMatched:          true,
	PaymentStatusUnmatched:        true,
	PaymentStatusRefunded:         true,
}

// IsValid returns true if the status is a known payment status
func (s PaymentStatus) IsValid() bool {
	return validPaymentStatuses[s]
}

// String returns the string representation of the status
func (s PaymentStatus) String() string {
	return string(s)
}

// PaymentMethod identifies how a payment was made
type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodDirectDebit  PaymentMethod = "direct_debit"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodOther        PaymentMethod = "other"
)

// Payment represents an incoming payment to be matched against invoices
type Payment struct {
	ID               string          `json:"id"`
	OrganizationID   string          `json:"organization_id"`
	PaymentReference string          `json:"payment_reference"`
	PayerName        string          `json:"payer_name"`
	PayerID          string          `json:"payer_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentDate      time.Time       `json:"payment_date"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	BankReference    string          `json:"bank_reference,omitempty"`
	Description      string          `json:"description"`
	Status           PaymentStatus   `json:"status"`
	ReconciliationID string          `json:"reconciliation_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
