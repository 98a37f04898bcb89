// Package processor defines the pluggable document-processing capability:
// implementations turn raw document bytes into classified, structured data.
package processor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType discriminates what kind of document a file contains
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypePayment    DocumentType = "payment"
	DocumentTypeRemittance DocumentType = "remittance"
	DocumentTypeUnknown    DocumentType = "unknown"
)

// Document is the input handed to a processor: raw bytes plus file metadata
type Document struct {
	FileName string
	MimeType string
	Data     []byte
}

// Classification is the outcome of the classify capability
type Classification struct {
	Type        DocumentType `json:"type"`
	Confidence  float64      `json:"confidence"`
	Reasoning   string       `json:"reasoning,omitempty"`
	ProcessorID string       `json:"processor_id"`
	ElapsedMs   int64        `json:"elapsed_ms"`
}

// InvoiceData is the structured content extracted from an invoice document
type InvoiceData struct {
	InvoiceNumber string
	VendorName    string
	VendorID      string
	Amount        decimal.Decimal
	Currency      string
	IssueDate     time.Time
	DueDate       time.Time
	Description   string
	LineItems     []LineItemData
}

// LineItemData is one extracted invoice line
type LineItemData struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// PaymentData is the structured content extracted from a payment document
type PaymentData struct {
	PaymentReference string
	PayerName        string
	PayerID          string
	Amount           decimal.Decimal
	Currency         string
	PaymentDate      time.Time
	PaymentMethod    string
	BankReference    string
	Description      string
}

// RemittanceData is the structured content extracted from a remittance advice
type RemittanceData struct {
	Reference      string
	TotalAmount    decimal.Decimal
	Currency       string
	InvoiceNumbers []string
}

// ExtractedDocument is a tagged union over the extractable document shapes.
// Type is the discriminant; exactly one of the payload pointers is set.
type ExtractedDocument struct {
	Type       DocumentType
	Invoice    *InvoiceData
	Payment    *PaymentData
	Remittance *RemittanceData
}

// Result is the discriminated success/failure outcome of an extraction
type Result struct {
	Success     bool
	ProcessorID string
	ElapsedMs   int64
	Confidence  float64
	Document    *ExtractedDocument
	Error       string
}

// DocumentProcessor is the pluggable capability contract. Implementations are
// registered under distinct ids; new processors are added by registering, not
// by modifying the engine.
type DocumentProcessor interface {
	ID() string
	ClassifyDocument(ctx context.Context, doc Document) (*Classification, error)
	ExtractInvoice(ctx context.Context, doc Document) (*Result, error)
	ExtractPayment(ctx context.Context, doc Document) (*Result, error)
	ExtractRemittance(ctx context.Context, doc Document) (*Result, error)
}
