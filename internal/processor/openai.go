package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OpenAIProcessor implements DocumentProcessor against the OpenAI chat API.
// PDF documents go through a mupdf text pass first; everything else is fed to
// the model as plain text.
type OpenAIProcessor struct {
	id          string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewOpenAIProcessor creates a new OpenAI-backed document processor
func NewOpenAIProcessor(id, apiKey, model string, temperature float32, maxTokens int, logger *zap.Logger) *OpenAIProcessor {
	return &OpenAIProcessor{
		id:          id,
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

// ID returns the registry id of this processor
func (p *OpenAIProcessor) ID() string {
	return p.id
}

// ClassifyDocument determines the document type from its textual content
func (p *OpenAIProcessor) ClassifyDocument(ctx context.Context, doc Document) (*Classification, error) {
	start := time.Now()

	text, err := p.documentText(doc)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Classify this financial document as one of: invoice, payment, remittance, unknown.

An invoice bills a customer for goods or services. A payment records money
received (bank transfer confirmation, check stub, card settlement). A
remittance advice lists which invoices a payment covers.

Document file name: %s
Document text:
---
%s
---

Return JSON: {"type": "invoice|payment|remittance|unknown", "confidence": number between 0 and 1, "reasoning": "one sentence"}`,
		doc.FileName, clipText(text, 6000))

	content, err := p.complete(ctx, "You classify financial documents. Always respond with valid JSON.", prompt)
	if err != nil {
		return nil, err
	}

	var out struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := unmarshalModelJSON(content, &out); err != nil {
		p.logger.Error("Failed to parse classification response",
			zap.Error(err), zap.String("content", content))
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	docType := DocumentType(out.Type)
	switch docType {
	case DocumentTypeInvoice, DocumentTypePayment, DocumentTypeRemittance:
	default:
		docType = DocumentTypeUnknown
	}

	return &Classification{
		Type:        docType,
		Confidence:  out.Confidence,
		Reasoning:   out.Reasoning,
		ProcessorID: p.id,
		ElapsedMs:   time.Since(start).Milliseconds(),
	}, nil
}

// invoiceWire is the JSON shape the model is asked to produce for invoices
type invoiceWire struct {
	InvoiceNumber string  `json:"invoice_number"`
	VendorName    string  `json:"vendor_name"`
	VendorID      string  `json:"vendor_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	IssueDate     string  `json:"issue_date"`
	DueDate       string  `json:"due_date"`
	Description   string  `json:"description"`
	Confidence    float64 `json:"confidence"`
	LineItems     []struct {
		Description string  `json:"description"`
		Quantity    float64 `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
		Amount      float64 `json:"amount"`
	} `json:"line_items"`
}

// ExtractInvoice extracts structured invoice fields from the document
func (p *OpenAIProcessor) ExtractInvoice(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()

	text, err := p.documentText(doc)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	prompt := fmt.Sprintf(`Extract the invoice fields from this document.

Document text:
---
%s
---

Return JSON:
{"invoice_number": "string", "vendor_name": "string", "vendor_id": "string",
 "amount": number, "currency": "ISO 4217 code", "issue_date": "YYYY-MM-DD",
 "due_date": "YYYY-MM-DD", "description": "string",
 "line_items": [{"description": "string", "quantity": number, "unit_price": number, "amount": number}],
 "confidence": number between 0 and 1}

Extract exactly what you see. Use "" or 0 for fields that are not present.`,
		clipText(text, 6000))

	content, err := p.complete(ctx, "You extract structured data from invoices. Always respond with valid JSON.", prompt)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	var wire invoiceWire
	if err := unmarshalModelJSON(content, &wire); err != nil {
		return p.failure(start, fmt.Sprintf("failed to parse extraction response: %v", err)), nil
	}

	data := &InvoiceData{
		InvoiceNumber: wire.InvoiceNumber,
		VendorName:    wire.VendorName,
		VendorID:      wire.VendorID,
		Amount:        decimal.NewFromFloat(wire.Amount),
		Currency:      wire.Currency,
		IssueDate:     parseWireDate(wire.IssueDate),
		DueDate:       parseWireDate(wire.DueDate),
		Description:   wire.Description,
	}
	for _, li := range wire.LineItems {
		data.LineItems = append(data.LineItems, LineItemData{
			Description: li.Description,
			Quantity:    decimal.NewFromFloat(li.Quantity),
			UnitPrice:   decimal.NewFromFloat(li.UnitPrice),
			Amount:      decimal.NewFromFloat(li.Amount),
		})
	}

	return &Result{
		Success:     true,
		ProcessorID: p.id,
		ElapsedMs:   time.Since(start).Milliseconds(),
		Confidence:  wire.Confidence,
		Document:    &ExtractedDocument{Type: DocumentTypeInvoice, Invoice: data},
	}, nil
}

type paymentWire struct {
	PaymentReference string  `json:"payment_reference"`
	PayerName        string  `json:"payer_name"`
	PayerID          string  `json:"payer_id"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	PaymentDate      string  `json:"payment_date"`
	PaymentMethod    string  `json:"payment_method"`
	BankReference    string  `json:"bank_reference"`
	Description      string  `json:"description"`
	Confidence       float64 `json:"confidence"`
}

// ExtractPayment extracts structured payment fields from the document
func (p *OpenAIProcessor) ExtractPayment(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()

	text, err := p.documentText(doc)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	prompt := fmt.Sprintf(`Extract the payment fields from this document.

Document text:
---
%s
---

Return JSON:
{"payment_reference": "string", "payer_name": "string", "payer_id": "string",
 "amount": number, "currency": "ISO 4217 code", "payment_date": "YYYY-MM-DD",
 "payment_method": "bank_transfer|check|credit_card|direct_debit|cash|other",
 "bank_reference": "string", "description": "string",
 "confidence": number between 0 and 1}

Extract exactly what you see. Use "" or 0 for fields that are not present.`,
		clipText(text, 6000))

	content, err := p.complete(ctx, "You extract structured data from payment records. Always respond with valid JSON.", prompt)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	var wire paymentWire
	if err := unmarshalModelJSON(content, &wire); err != nil {
		return p.failure(start, fmt.Sprintf("failed to parse extraction response: %v", err)), nil
	}

	data := &PaymentData{
		PaymentReference: wire.PaymentReference,
		PayerName:        wire.PayerName,
		PayerID:          wire.PayerID,
		Amount:           decimal.NewFromFloat(wire.Amount),
		Currency:         wire.Currency,
		PaymentDate:      parseWireDate(wire.PaymentDate),
		PaymentMethod:    wire.PaymentMethod,
		BankReference:    wire.BankReference,
		Description:      wire.Description,
	}

	return &Result{
		Success:     true,
		ProcessorID: p.id,
		ElapsedMs:   time.Since(start).Milliseconds(),
		Confidence:  wire.Confidence,
		Document:    &ExtractedDocument{Type: DocumentTypePayment, Payment: data},
	}, nil
}

// ExtractRemittance extracts remittance advice fields from the document
func (p *OpenAIProcessor) ExtractRemittance(ctx context.Context, doc Document) (*Result, error) {
	start := time.Now()

	text, err := p.documentText(doc)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	prompt := fmt.Sprintf(`Extract the remittance advice fields from this document.

Document text:
---
%s
---

Return JSON:
{"reference": "string", "total_amount": number, "currency": "ISO 4217 code",
 "invoice_numbers": ["string"], "confidence": number between 0 and 1}`,
		clipText(text, 6000))

	content, err := p.complete(ctx, "You extract structured data from remittance advices. Always respond with valid JSON.", prompt)
	if err != nil {
		return p.failure(start, err.Error()), nil
	}

	var wire struct {
		Reference      string   `json:"reference"`
		TotalAmount    float64  `json:"total_amount"`
		Currency       string   `json:"currency"`
		InvoiceNumbers []string `json:"invoice_numbers"`
		Confidence     float64  `json:"confidence"`
	}
	if err := unmarshalModelJSON(content, &wire); err != nil {
		return p.failure(start, fmt.Sprintf("failed to parse extraction response: %v", err)), nil
	}

	data := &RemittanceData{
		Reference:      wire.Reference,
		TotalAmount:    decimal.NewFromFloat(wire.TotalAmount),
		Currency:       wire.Currency,
		InvoiceNumbers: wire.InvoiceNumbers,
	}

	return &Result{
		Success:     true,
		ProcessorID: p.id,
		ElapsedMs:   time.Since(start).Milliseconds(),
		Confidence:  wire.Confidence,
		Document:    &ExtractedDocument{Type: DocumentTypeRemittance, Remittance: data},
	}, nil
}

func (p *OpenAIProcessor) failure(start time.Time, msg string) *Result {
	return &Result{
		Success:     false,
		ProcessorID: p.id,
		ElapsedMs:   time.Since(start).Milliseconds(),
		Error:       msg,
	}
}

func (p *OpenAIProcessor) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		p.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

// documentText returns the textual content of the document. PDFs go through
// mupdf; other mime types are assumed to already be text.
func (p *OpenAIProcessor) documentText(doc Document) (string, error) {
	if doc.MimeType != "application/pdf" && !strings.HasSuffix(strings.ToLower(doc.FileName), ".pdf") {
		return string(doc.Data), nil
	}

	pdf, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer pdf.Close()

	var sb strings.Builder
	for page := 0; page < pdf.NumPage(); page++ {
		text, err := pdf.Text(page)
		if err != nil {
			p.logger.Warn("Failed to extract PDF page text",
				zap.Int("page", page), zap.Error(err))
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return sb.String(), nil
}

// unmarshalModelJSON parses model output, tolerating markdown code fences
func unmarshalModelJSON(content string, v interface{}) error {
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), v)
}

func parseWireDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
