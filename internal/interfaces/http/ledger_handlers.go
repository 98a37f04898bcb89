package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/importer"
	"github.com/ledgerline/reconcile/internal/models"
)

// CreateInvoiceRequest is the payload for POST /invoices
type CreateInvoiceRequest struct {
	InvoiceNumber string            `json:"invoice_number" binding:"required"`
	VendorName    string            `json:"vendor_name" binding:"required"`
	VendorID      string            `json:"vendor_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency" binding:"required"`
	IssueDate     string            `json:"issue_date" binding:"required"`
	DueDate       string            `json:"due_date" binding:"required"`
	Description   string            `json:"description"`
	LineItems     []LineItemRequest `json:"line_items"`
}

// LineItemRequest is one invoice line in a create request
type LineItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// CreatePaymentRequest is the payload for POST /payments
type CreatePaymentRequest struct {
	PaymentReference string          `json:"payment_reference" binding:"required"`
	PayerName        string          `json:"payer_name"`
	PayerID          string          `json:"payer_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency" binding:"required"`
	PaymentDate      string          `json:"payment_date" binding:"required"`
	PaymentMethod    string          `json:"payment_method"`
	BankReference    string          `json:"bank_reference"`
	Description      string          `json:"description"`
}

// StatusUpdateRequest updates a record's status
type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) handleCreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		respondError(c, http.StatusBadRequest, "amount must be positive")
		return
	}
	issueDate, err := parseAPIDate(req.IssueDate)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid issue_date: %v", err))
		return
	}
	dueDate, err := parseAPIDate(req.DueDate)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid due_date: %v", err))
		return
	}

	now := time.Now().UTC()
	inv := &models.Invoice{
		ID:             uuid.New().String(),
		OrganizationID: orgID(c),
		InvoiceNumber:  req.InvoiceNumber,
		VendorName:     req.VendorName,
		VendorID:       req.VendorID,
		Amount:         req.Amount,
		Currency:       strings.ToUpper(req.Currency),
		IssueDate:      issueDate,
		DueDate:        dueDate,
		Description:    req.Description,
		Status:         models.InvoiceStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, li := range req.LineItems {
		inv.LineItems = append(inv.LineItems, models.LineItem{
			ID:          fmt.Sprintf("LI-%d", i+1),
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Amount:      li.Amount,
		})
	}

	if err := s.invoices.Create(c.Request.Context(), inv); err != nil {
		s.logger.Error("Failed to create invoice", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to create invoice")
		return
	}
	respondCreated(c, inv)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	ctx := c.Request.Context()
	org := orgID(c)

	if status := c.Query("status"); status != "" {
		st := models.InvoiceStatus(status)
		if !st.IsValid() {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", status))
			return
		}
		invoices, err := s.invoices.ListByStatus(ctx, org, st)
		if err != nil {
			s.logger.Error("Failed to list invoices", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to list invoices")
			return
		}
		respondOK(c, invoices)
		return
	}

	invoices, err := s.invoices.List(ctx, org)
	if err != nil {
		s.logger.Error("Failed to list invoices", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list invoices")
		return
	}
	respondOK(c, invoices)
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	inv, err := s.invoices.GetByID(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get invoice", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get invoice")
		return
	}
	if inv == nil {
		respondError(c, http.StatusNotFound, "invoice not found")
		return
	}
	respondOK(c, inv)
}

func (s *Server) handleUpdateInvoiceStatus(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := models.InvoiceStatus(req.Status)
	if !status.IsValid() {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", req.Status))
		return
	}

	ctx := c.Request.Context()
	org := orgID(c)
	id := c.Param("id")

	inv, err := s.invoices.GetByID(ctx, org, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to get invoice")
		return
	}
	if inv == nil {
		respondError(c, http.StatusNotFound, "invoice not found")
		return
	}
	if err := s.invoices.UpdateStatus(ctx, org, id, status); err != nil {
		s.logger.Error("Failed to update invoice status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update invoice status")
		return
	}
	inv.Status = status
	respondOK(c, inv)
}

func (s *Server) handleImportInvoices(c *gin.Context) {
	s.handleImport(c, s.importer.ImportInvoicesJSON, s.importer.ImportInvoicesXLSX)
}

func (s *Server) handleImportPayments(c *gin.Context) {
	s.handleImport(c, s.importer.ImportPaymentsJSON, s.importer.ImportPaymentsXLSX)
}

func (s *Server) handleImportInvoicesXLSX(c *gin.Context) {
	s.handleImportXLSX(c, s.importer.ImportInvoicesXLSX)
}

func (s *Server) handleImportPaymentsXLSX(c *gin.Context) {
	s.handleImportXLSX(c, s.importer.ImportPaymentsXLSX)
}

// handleImportXLSX requires a multipart workbook upload, regardless of the
// file extension.
func (s *Server) handleImportXLSX(c *gin.Context, fromXLSX importFunc) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "multipart \"file\" field is required")
		return
	}
	defer file.Close()

	result, err := fromXLSX(c.Request.Context(), orgID(c), file)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(c, result)
}

type importFunc func(ctx context.Context, organizationID string, r io.Reader) (*importer.Result, error)

// handleImport accepts either a multipart "file" upload (JSON or XLSX by
// extension) or a raw JSON array body.
func (s *Server) handleImport(c *gin.Context, fromJSON, fromXLSX importFunc) {
	ctx := c.Request.Context()
	org := orgID(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrNotMultipart) && !errors.Is(err, http.ErrMissingFile) {
			respondError(c, http.StatusBadRequest, "failed to read upload")
			return
		}
		// No multipart file; treat the body as a JSON array.
		result, err := fromJSON(ctx, org, c.Request.Body)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
		respondOK(c, result)
		return
	}
	defer file.Close()

	result, err := s.importUpload(ctx, org, file, header, fromJSON, fromXLSX)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(c, result)
}

func (s *Server) importUpload(ctx context.Context, org string, file multipart.File, header *multipart.FileHeader, fromJSON, fromXLSX importFunc) (*importer.Result, error) {
	name := strings.ToLower(header.Filename)
	switch {
	case strings.HasSuffix(name, ".xlsx"):
		return fromXLSX(ctx, org, file)
	case strings.HasSuffix(name, ".json"):
		return fromJSON(ctx, org, file)
	default:
		return nil, fmt.Errorf("unsupported import file type: %s", header.Filename)
	}
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		respondError(c, http.StatusBadRequest, "amount must be positive")
		return
	}
	paymentDate, err := parseAPIDate(req.PaymentDate)
	if err != nil {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid payment_date: %v", err))
		return
	}
	method := models.PaymentMethod(req.PaymentMethod)
	switch method {
	case models.PaymentMethodBankTransfer, models.PaymentMethodCheck,
		models.PaymentMethodCreditCard, models.PaymentMethodDirectDebit,
		models.PaymentMethodCash, models.PaymentMethodOther:
	case "":
		method = models.PaymentMethodOther
	default:
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown payment_method: %s", req.PaymentMethod))
		return
	}

	now := time.Now().UTC()
	pmt := &models.Payment{
		ID:               uuid.New().String(),
		OrganizationID:   orgID(c),
		PaymentReference: req.PaymentReference,
		PayerName:        req.PayerName,
		PayerID:          req.PayerID,
		Amount:           req.Amount,
		Currency:         strings.ToUpper(req.Currency),
		PaymentDate:      paymentDate,
		PaymentMethod:    method,
		BankReference:    req.BankReference,
		Description:      req.Description,
		Status:           models.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.payments.Create(c.Request.Context(), pmt); err != nil {
		s.logger.Error("Failed to create payment", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to create payment")
		return
	}
	respondCreated(c, pmt)
}

func (s *Server) handleListPayments(c *gin.Context) {
	ctx := c.Request.Context()
	org := orgID(c)

	if status := c.Query("status"); status != "" {
		st := models.PaymentStatus(status)
		if !st.IsValid() {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", status))
			return
		}
		payments, err := s.payments.ListByStatus(ctx, org, st)
		if err != nil {
			s.logger.Error("Failed to list payments", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to list payments")
			return
		}
		respondOK(c, payments)
		return
	}

	payments, err := s.payments.List(ctx, org)
	if err != nil {
		s.logger.Error("Failed to list payments", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list payments")
		return
	}
	respondOK(c, payments)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	pmt, err := s.payments.GetByID(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to get payment", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to get payment")
		return
	}
	if pmt == nil {
		respondError(c, http.StatusNotFound, "payment not found")
		return
	}
	respondOK(c, pmt)
}

func (s *Server) handleUpdatePaymentStatus(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := models.PaymentStatus(req.Status)
	if !status.IsValid() {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", req.Status))
		return
	}

	ctx := c.Request.Context()
	org := orgID(c)
	id := c.Param("id")

	pmt, err := s.payments.GetByID(ctx, org, id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to get payment")
		return
	}
	if pmt == nil {
		respondError(c, http.StatusNotFound, "payment not found")
		return
	}
	if err := s.payments.UpdateStatus(ctx, org, id, status); err != nil {
		s.logger.Error("Failed to update payment status", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update payment status")
		return
	}
	pmt.Status = status
	respondOK(c, pmt)
}

func parseAPIDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339")
}
