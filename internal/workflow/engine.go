package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
	"github.com/ledgerline/reconcile/internal/processor"
)

// ObjectStore is the slice of the blob store the upload step needs
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// InvoiceSaver persists invoices created by the save step
type InvoiceSaver interface {
	Create(ctx context.Context, inv *models.Invoice) error
}

// PaymentSaver persists payments created by the save step
type PaymentSaver interface {
	Create(ctx context.Context, p *models.Payment) error
}

// Engine registers workflow definitions and executes them against documents
type Engine struct {
	mu          sync.RWMutex
	definitions map[string]*Definition

	registry *processor.Registry
	store    ObjectStore
	invoices InvoiceSaver
	payments PaymentSaver
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a workflow engine with no registered definitions
func NewEngine(registry *processor.Registry, store ObjectStore, invoices InvoiceSaver, payments PaymentSaver, logger *zap.Logger) *Engine {
	return &Engine{
		definitions: make(map[string]*Definition),
		registry:    registry,
		store:       store,
		invoices:    invoices,
		payments:    payments,
		logger:      logger,
		now:         time.Now,
	}
}

// Register adds or replaces a workflow definition
func (e *Engine) Register(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow definition requires an id")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", def.ID)
	}
	for _, s := range def.Steps {
		for _, next := range []string{s.OnSuccess, s.OnFailure} {
			if next == "" {
				continue
			}
			if _, ok := def.step(next); !ok {
				return fmt.Errorf("workflow %s: step %s references unknown step %s", def.ID, s.ID, next)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.ID] = def
	return nil
}

// Definition returns a registered definition by id
func (e *Engine) Definition(id string) (*Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return def, nil
}

// Definitions lists the registered workflow definitions
func (e *Engine) Definitions() []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Definition, 0, len(e.definitions))
	for _, def := range e.definitions {
		out = append(out, def)
	}
	return out
}

// Execute runs the named workflow over the execution context. The walk over
// the step graph is bounded at twice the step count; exceeding the bound
// means the definition loops and the run fails with ErrWorkflowCycle.
func (e *Engine) Execute(ctx context.Context, workflowID string, wctx *Context) (*Execution, error) {
	def, err := e.Definition(workflowID)
	if err != nil {
		return nil, err
	}
	if wctx.Metadata == nil {
		wctx.Metadata = make(map[string]string)
	}

	exec := &Execution{
		WorkflowID: workflowID,
		StartedAt:  e.now(),
		Context:    wctx,
	}

	maxSteps := 2 * len(def.Steps)
	current := def.Steps[0].ID
	visited := 0

	for current != "" {
		visited++
		if visited > maxSteps {
			exec.Status = ExecutionStatusFailed
			exec.CompletedAt = e.now()
			return exec, fmt.Errorf("%w: workflow %s exceeded %d steps", ErrWorkflowCycle, workflowID, maxSteps)
		}

		step, ok := def.step(current)
		if !ok {
			exec.Status = ExecutionStatusFailed
			exec.CompletedAt = e.now()
			return exec, fmt.Errorf("workflow %s: unknown step %s", workflowID, current)
		}

		if wctx.OnStep != nil {
			wctx.OnStep(step)
		}
		result := e.runStep(ctx, step, wctx)
		exec.Steps = append(exec.Steps, result)

		e.logger.Info("Workflow step finished",
			zap.String("workflow_id", workflowID),
			zap.String("step_id", step.ID),
			zap.Bool("success", result.Success),
			zap.Int("attempts", result.Attempts),
			zap.Int64("elapsed_ms", result.ElapsedMs))

		if result.Success {
			current = step.OnSuccess
			continue
		}
		if step.OnFailure != "" {
			current = step.OnFailure
			continue
		}
		exec.Status = ExecutionStatusFailed
		exec.CompletedAt = e.now()
		return exec, fmt.Errorf("workflow %s failed at step %s: %s", workflowID, step.ID, result.Error)
	}

	exec.Status = ExecutionStatusCompleted
	exec.CompletedAt = e.now()
	return exec, nil
}

// runStep executes one step with retry; only the final attempt is recorded
func (e *Engine) runStep(ctx context.Context, step Step, wctx *Context) StepResult {
	result := StepResult{
		StepID:    step.ID,
		StepType:  step.Type,
		StartedAt: e.now(),
	}

	attempts := step.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		lastErr = e.dispatch(ctx, step, wctx)
		if lastErr == nil {
			break
		}
		if attempt < attempts {
			e.logger.Warn("Workflow step failed, retrying",
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = attempts
			case <-time.After(step.RetryDelay):
			}
		}
	}

	result.ElapsedMs = e.now().Sub(result.StartedAt).Milliseconds()
	if lastErr != nil {
		result.Error = lastErr.Error()
		return result
	}
	result.Success = true
	return result
}

func (e *Engine) dispatch(ctx context.Context, step Step, wctx *Context) error {
	switch step.Type {
	case StepTypeUpload:
		return e.stepUpload(ctx, wctx)
	case StepTypeClassify:
		return e.stepClassify(ctx, step, wctx)
	case StepTypeExtract:
		return e.stepExtract(ctx, step, wctx)
	case StepTypeValidate:
		return e.stepValidate(wctx)
	case StepTypeTransform:
		return nil
	case StepTypeSave:
		return e.stepSave(ctx, wctx)
	case StepTypeNotify:
		return e.stepNotify(wctx)
	default:
		return fmt.Errorf("unknown step type: %s", step.Type)
	}
}

func (e *Engine) stepUpload(ctx context.Context, wctx *Context) error {
	if len(wctx.Document.Data) == 0 {
		return fmt.Errorf("upload step requires document bytes")
	}
	org := wctx.Metadata["organization_id"]
	if org == "" {
		org = "default"
	}
	key := fmt.Sprintf("%s/%s%s", org, uuid.New().String(), sanitizeExt(wctx.Document.FileName))
	if err := e.store.Put(ctx, key, wctx.Document.Data); err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	wctx.FileKey = key
	return nil
}

func (e *Engine) stepClassify(ctx context.Context, step Step, wctx *Context) error {
	proc, err := e.processor(step.ProcessorID)
	if err != nil {
		return err
	}
	cls, err := proc.ClassifyDocument(ctx, wctx.Document)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	wctx.Classification = cls
	return nil
}

func (e *Engine) stepExtract(ctx context.Context, step Step, wctx *Context) error {
	proc, err := e.processor(step.ProcessorID)
	if err != nil {
		return err
	}

	docType := processor.DocumentTypeInvoice
	if wctx.Classification != nil && wctx.Classification.Type != processor.DocumentTypeUnknown {
		docType = wctx.Classification.Type
	}

	var result *processor.Result
	switch docType {
	case processor.DocumentTypePayment:
		result, err = proc.ExtractPayment(ctx, wctx.Document)
	case processor.DocumentTypeRemittance:
		result, err = proc.ExtractRemittance(ctx, wctx.Document)
	default:
		result, err = proc.ExtractInvoice(ctx, wctx.Document)
	}
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("extraction failed: %s", result.Error)
	}

	wctx.Extracted = result.Document
	wctx.Confidence = result.Confidence
	return nil
}

func (e *Engine) stepValidate(wctx *Context) error {
	if wctx.Extracted == nil {
		return fmt.Errorf("validate step requires extracted data")
	}

	var failures []string
	switch wctx.Extracted.Type {
	case processor.DocumentTypeInvoice:
		inv := wctx.Extracted.Invoice
		if inv == nil {
			failures = append(failures, "invoice payload missing")
			break
		}
		if inv.InvoiceNumber == "" {
			failures = append(failures, "invoice_number is required")
		}
		if inv.VendorName == "" {
			failures = append(failures, "vendor_name is required")
		}
		if !inv.Amount.IsPositive() {
			failures = append(failures, "amount must be positive")
		}
		if inv.Currency == "" {
			failures = append(failures, "currency is required")
		}
	case processor.DocumentTypePayment:
		pmt := wctx.Extracted.Payment
		if pmt == nil {
			failures = append(failures, "payment payload missing")
			break
		}
		if pmt.PaymentReference == "" {
			failures = append(failures, "payment_reference is required")
		}
		if !pmt.Amount.IsPositive() {
			failures = append(failures, "amount must be positive")
		}
		if pmt.Currency == "" {
			failures = append(failures, "currency is required")
		}
	case processor.DocumentTypeRemittance:
		rem := wctx.Extracted.Remittance
		if rem == nil {
			failures = append(failures, "remittance payload missing")
			break
		}
		if len(rem.InvoiceNumbers) == 0 {
			failures = append(failures, "invoice_numbers is required")
		}
	default:
		failures = append(failures, fmt.Sprintf("unsupported document type: %s", wctx.Extracted.Type))
	}

	if len(failures) > 0 {
		return fmt.Errorf("Validation failed: %s", strings.Join(failures, ", "))
	}
	return nil
}

func (e *Engine) stepSave(ctx context.Context, wctx *Context) error {
	org := wctx.Metadata["organization_id"]
	if org == "" {
		return fmt.Errorf("save step requires organization_id metadata")
	}
	if wctx.Extracted == nil {
		return fmt.Errorf("save step requires extracted data")
	}

	now := e.now()
	switch wctx.Extracted.Type {
	case processor.DocumentTypeInvoice:
		data := wctx.Extracted.Invoice
		inv := &models.Invoice{
			ID:             uuid.New().String(),
			OrganizationID: org,
			InvoiceNumber:  data.InvoiceNumber,
			VendorName:     data.VendorName,
			VendorID:       data.VendorID,
			Amount:         data.Amount,
			Currency:       data.Currency,
			IssueDate:      data.IssueDate,
			DueDate:        data.DueDate,
			Description:    data.Description,
			Status:         models.InvoiceStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if inv.VendorID == "" {
			inv.VendorID = fmt.Sprintf("V-%d", now.UnixMilli())
		}
		for i, li := range data.LineItems {
			inv.LineItems = append(inv.LineItems, models.LineItem{
				ID:          fmt.Sprintf("LI-%d", i+1),
				Description: li.Description,
				Quantity:    li.Quantity,
				UnitPrice:   li.UnitPrice,
				Amount:      li.Amount,
			})
		}
		if err := e.invoices.Create(ctx, inv); err != nil {
			return fmt.Errorf("failed to save invoice: %w", err)
		}
		wctx.RecordID = inv.ID

	case processor.DocumentTypePayment:
		data := wctx.Extracted.Payment
		method := models.PaymentMethod(data.PaymentMethod)
		switch method {
		case models.PaymentMethodBankTransfer, models.PaymentMethodCheck,
			models.PaymentMethodCreditCard, models.PaymentMethodDirectDebit,
			models.PaymentMethodCash:
		default:
			method = models.PaymentMethodOther
		}
		pmt := &models.Payment{
			ID:               uuid.New().String(),
			OrganizationID:   org,
			PaymentReference: data.PaymentReference,
			PayerName:        data.PayerName,
			PayerID:          data.PayerID,
			Amount:           data.Amount,
			Currency:         data.Currency,
			PaymentDate:      data.PaymentDate,
			PaymentMethod:    method,
			BankReference:    data.BankReference,
			Description:      data.Description,
			Status:           models.PaymentStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if pmt.PayerID == "" {
			pmt.PayerID = fmt.Sprintf("P-%d", now.UnixMilli())
		}
		if err := e.payments.Create(ctx, pmt); err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
		wctx.RecordID = pmt.ID

	case processor.DocumentTypeRemittance:
		// Remittance advices are informational; nothing is written to the
		// ledger but the run still succeeds so downstream steps see the data.
		e.logger.Info("Remittance advice processed",
			zap.String("organization_id", org),
			zap.String("reference", wctx.Extracted.Remittance.Reference),
			zap.Strings("invoice_numbers", wctx.Extracted.Remittance.InvoiceNumbers))

	default:
		return fmt.Errorf("save step cannot persist document type %s", wctx.Extracted.Type)
	}

	return nil
}

func (e *Engine) stepNotify(wctx *Context) error {
	fields := []zap.Field{zap.String("file_name", wctx.Document.FileName)}
	if wctx.Classification != nil {
		fields = append(fields, zap.String("document_type", string(wctx.Classification.Type)))
	}
	if wctx.RecordID != "" {
		fields = append(fields, zap.String("record_id", wctx.RecordID))
	}
	e.logger.Info("Document processing notification", fields...)
	return nil
}

func (e *Engine) processor(id string) (processor.DocumentProcessor, error) {
	if id != "" {
		return e.registry.Get(id)
	}
	return e.registry.First()
}

// sanitizeExt keeps only a safe file extension for storage keys
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
