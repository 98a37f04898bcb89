// Package reconcile implements the invoice/payment matching engine: it scores
// candidate pairs, commits reconciliations, classifies discrepancies, and
// raises exceptions for unmatched aging items.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// InvoiceStore is the invoice side of the ledger store the engine consumes
type InvoiceStore interface {
	GetByID(ctx context.Context, orgID, id string) (*models.Invoice, error)
	List(ctx context.Context, orgID string) ([]*models.Invoice, error)
	ListByStatus(ctx context.Context, orgID string, statuses ...models.InvoiceStatus) ([]*models.Invoice, error)
	SetReconciliation(ctx context.Context, orgID, id string, status models.InvoiceStatus, reconciliationID string) error
}

// PaymentStore is the payment side of the ledger store the engine consumes
type PaymentStore interface {
	GetByID(ctx context.Context, orgID, id string) (*models.Payment, error)
	List(ctx context.Context, orgID string) ([]*models.Payment, error)
	ListByStatus(ctx context.Context, orgID string, statuses ...models.PaymentStatus) ([]*models.Payment, error)
	SetReconciliation(ctx context.Context, orgID, id string, status models.PaymentStatus, reconciliationID string) error
}

// ReconciliationStore persists committed reconciliations
type ReconciliationStore interface {
	Create(ctx context.Context, rec *models.Reconciliation) error
	List(ctx context.Context, orgID string) ([]*models.Reconciliation, error)
}

// ExceptionStore persists raised exceptions
type ExceptionStore interface {
	Create(ctx context.Context, exc *models.Exception) error
	ListByStatus(ctx context.Context, orgID string, status models.ExceptionStatus) ([]*models.Exception, error)
	HasUnresolvedForInvoice(ctx context.Context, orgID, invoiceID string) (bool, error)
	HasUnresolvedForPayment(ctx context.Context, orgID, paymentID string) (bool, error)
}

// Engine computes match suggestions and commits reconciliations
type Engine struct {
	invoices InvoiceStore
	payments PaymentStore
	recs     ReconciliationStore
	excs     ExceptionStore
	jobs     JobStore
	cfg      ScoringConfig
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures the engine
type Option func(*Engine)

// WithClock overrides the engine's clock, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a new reconciliation engine
func NewEngine(
	invoices InvoiceStore,
	payments PaymentStore,
	recs ReconciliationStore,
	excs ExceptionStore,
	cfg ScoringConfig,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		invoices: invoices,
		payments: payments,
		recs:     recs,
		excs:     excs,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateSuggestions scores every unreconciled invoice/payment pair and
// returns the surfaced candidates ordered by confidence descending. Ties keep
// enumeration order (invoice outer, payment inner), so repeated calls over an
// unchanged ledger yield an identical list.
func (e *Engine) GenerateSuggestions(ctx context.Context, orgID string) ([]*models.ReconciliationSuggestion, error) {
	invoices, err := e.invoices.ListByStatus(ctx, orgID, models.InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending invoices: %w", err)
	}
	payments, err := e.payments.ListByStatus(ctx, orgID,
		models.PaymentStatusPending, models.PaymentStatusUnmatched)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled payments: %w", err)
	}

	var suggestions []*models.ReconciliationSuggestion
	for _, invoice := range invoices {
		for _, payment := range payments {
			if s := e.scorePair(invoice, payment); s != nil {
				suggestions = append(suggestions, s)
			}
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	e.logger.Debug("Generated reconciliation suggestions",
		zap.String("organization_id", orgID),
		zap.Int("invoices", len(invoices)),
		zap.Int("payments", len(payments)),
		zap.Int("suggestions", len(suggestions)))

	return suggestions, nil
}

// scorePair scores a single invoice/payment pair; returns nil when the pair
// yields no suggestion.
func (e *Engine) scorePair(invoice *models.Invoice, payment *models.Payment) *models.ReconciliationSuggestion {
	// Currency mismatch is a hard filter, not a penalty.
	if invoice.Currency != payment.Currency {
		return nil
	}

	tolerance := decimal.NewFromFloat(e.cfg.AmountTolerance)
	var confidence float64
	var reasons []string

	diff := payment.Amount.Sub(invoice.Amount).Abs()
	if diff.LessThanOrEqual(tolerance) {
		reasons = append(reasons, "Exact amount match")
		confidence += e.cfg.ExactAmountWeight
	} else {
		threshold := invoice.Amount.Mul(decimal.NewFromFloat(e.cfg.PartialMatchThreshold))
		if payment.Amount.GreaterThanOrEqual(threshold) {
			lo, hi := invoice.Amount, payment.Amount
			if lo.GreaterThan(hi) {
				lo, hi = hi, lo
			}
			pct, _ := lo.Div(hi).Float64()
			reasons = append(reasons, fmt.Sprintf("Partial amount match (%.0f%%)", pct*100))
			confidence += pct * e.cfg.PartialAmountWeight
		}
	}

	if invoice.InvoiceNumber != "" &&
		strings.Contains(strings.ToLower(payment.Description), strings.ToLower(invoice.InvoiceNumber)) {
		reasons = append(reasons, "Invoice number referenced in payment")
		confidence += e.cfg.ReferenceWeight
	}

	if fuzzyNameMatch(invoice.VendorName, payment.Description) ||
		fuzzyNameMatch(invoice.VendorName, payment.PayerName) {
		reasons = append(reasons, "Vendor name match")
		confidence += e.cfg.NameMatchWeight
	}

	days := wholeDaysBetween(invoice.DueDate, payment.PaymentDate)
	if days <= e.cfg.DateCloseDays {
		reasons = append(reasons, fmt.Sprintf("Payment within %d days of due date", e.cfg.DateCloseDays))
		confidence += e.cfg.DateCloseWeight
	} else if days <= e.cfg.DateNearDays {
		reasons = append(reasons, fmt.Sprintf("Payment within %d days of due date", e.cfg.DateNearDays))
		confidence += e.cfg.DateNearWeight
	}

	if len(reasons) == 0 {
		return nil
	}

	confidence = math.Min(confidence, 1.0)
	if confidence <= e.cfg.SuggestionFloor {
		return nil
	}

	return &models.ReconciliationSuggestion{
		InvoiceID:         invoice.ID,
		PaymentID:         payment.ID,
		Confidence:        confidence,
		MatchReasons:      reasons,
		DiscrepancyAmount: payment.Amount.Sub(invoice.Amount),
	}
}

// AutoReconcile greedily commits the highest-confidence suggestions at or
// above minConfidence, consuming each invoice and payment at most once per
// invocation. A failed creation, stale id or store error, is skipped, not
// fatal to the pass.
// Pass minConfidence <= 0 to use the configured default threshold.
func (e *Engine) AutoReconcile(ctx context.Context, orgID string, minConfidence float64) ([]*models.Reconciliation, error) {
	if minConfidence <= 0 {
		minConfidence = e.cfg.AutoMatchThreshold
	}

	suggestions, err := e.GenerateSuggestions(ctx, orgID)
	if err != nil {
		return nil, err
	}

	created := make([]*models.Reconciliation, 0)
	usedInvoices := make(map[string]bool)
	usedPayments := make(map[string]bool)

	for _, s := range suggestions {
		if s.Confidence < minConfidence {
			continue
		}
		if usedInvoices[s.InvoiceID] || usedPayments[s.PaymentID] {
			continue
		}

		rec, err := e.CreateReconciliation(ctx, orgID, s.InvoiceID, s.PaymentID, models.MatchedByAuto, "")
		if err != nil {
			e.logger.Warn("Auto-reconcile pair failed, continuing",
				zap.String("invoice_id", s.InvoiceID),
				zap.String("payment_id", s.PaymentID),
				zap.Error(err))
			continue
		}
		if rec == nil {
			e.logger.Warn("Skipping stale auto-reconcile suggestion",
				zap.String("invoice_id", s.InvoiceID),
				zap.String("payment_id", s.PaymentID))
			continue
		}

		usedInvoices[s.InvoiceID] = true
		usedPayments[s.PaymentID] = true
		created = append(created, rec)
	}

	e.logger.Info("Auto-reconcile pass finished",
		zap.String("organization_id", orgID),
		zap.Float64("min_confidence", minConfidence),
		zap.Int("created", len(created)))

	return created, nil
}

// CreateReconciliation commits a pairing of one invoice to one payment,
// updates both statuses, and raises an amount-discrepancy exception when the
// difference exceeds tolerance. Returns (nil, nil) when either id does not
// resolve; no partial writes happen in that case.
func (e *Engine) CreateReconciliation(ctx context.Context, orgID, invoiceID, paymentID string, matchedBy models.MatchedBy, notes string) (*models.Reconciliation, error) {
	invoice, err := e.invoices.GetByID(ctx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	payment, err := e.payments.GetByID(ctx, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if invoice == nil || payment == nil {
		return nil, nil
	}

	tolerance := decimal.NewFromFloat(e.cfg.AmountTolerance)
	discrepancy := payment.Amount.Sub(invoice.Amount)
	withinTolerance := discrepancy.Abs().LessThanOrEqual(tolerance)

	matchType := models.MatchTypeExact
	if !withinTolerance {
		if discrepancy.IsPositive() {
			matchType = models.MatchTypeOverpayment
		} else {
			matchType = models.MatchTypeUnderpayment
		}
	}

	var discrepancyType models.DiscrepancyType
	if !withinTolerance {
		if invoice.Currency != payment.Currency {
			discrepancyType = models.DiscrepancyCurrencyMismatch
		} else {
			discrepancyType = models.DiscrepancyAmountMismatch
		}
	}

	confidence := 1.0
	if matchedBy == models.MatchedByAuto {
		confidence = 0.90
	}

	status := models.ReconciliationStatusApproved
	if !withinTolerance {
		status = models.ReconciliationStatusPendingReview
	}

	matchedAmount := invoice.Amount
	if payment.Amount.LessThan(matchedAmount) {
		matchedAmount = payment.Amount
	}

	rec := &models.Reconciliation{
		ID:                uuid.NewString(),
		OrganizationID:    orgID,
		InvoiceID:         invoice.ID,
		PaymentID:         payment.ID,
		MatchedAmount:     matchedAmount,
		MatchType:         matchType,
		MatchConfidence:   confidence,
		DiscrepancyAmount: discrepancy,
		DiscrepancyType:   discrepancyType,
		Status:            status,
		Notes:             notes,
		MatchedBy:         matchedBy,
		CreatedAt:         e.now().UTC(),
	}

	if err := e.recs.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist reconciliation: %w", err)
	}

	invoiceStatus := models.InvoiceStatusMatched
	paymentStatus := models.PaymentStatusMatched
	switch {
	case withinTolerance:
		// both matched
	case discrepancy.IsNegative():
		invoiceStatus = models.InvoiceStatusPartiallyMatched
	default:
		paymentStatus = models.PaymentStatusPartiallyMatched
	}

	if err := e.invoices.SetReconciliation(ctx, orgID, invoice.ID, invoiceStatus, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to update invoice status: %w", err)
	}
	if err := e.payments.SetReconciliation(ctx, orgID, payment.ID, paymentStatus, rec.ID); err != nil {
		return nil, fmt.Errorf("failed to update payment status: %w", err)
	}

	if !withinTolerance {
		if err := e.raiseAmountDiscrepancy(ctx, rec, invoice, payment); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Reconciliation created",
		zap.String("id", rec.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("payment_id", payment.ID),
		zap.String("match_type", string(matchType)),
		zap.String("matched_by", string(matchedBy)))

	return rec, nil
}

func (e *Engine) raiseAmountDiscrepancy(ctx context.Context, rec *models.Reconciliation, invoice *models.Invoice, payment *models.Payment) error {
	abs := rec.DiscrepancyAmount.Abs()

	severity := models.SeverityLow
	switch {
	case abs.GreaterThan(decimal.NewFromInt(1000)):
		severity = models.SeverityHigh
	case abs.GreaterThan(decimal.NewFromInt(100)):
		severity = models.SeverityMedium
	}

	direction := "Overpayment"
	action := "Issue credit note or apply to future invoices"
	if rec.DiscrepancyAmount.IsNegative() {
		direction = "Underpayment"
		action = "Request additional payment or write off balance"
	}

	exc := &models.Exception{
		ID:               uuid.NewString(),
		OrganizationID:   rec.OrganizationID,
		Type:             models.ExceptionAmountDiscrepancy,
		Severity:         severity,
		InvoiceID:        invoice.ID,
		PaymentID:        payment.ID,
		ReconciliationID: rec.ID,
		Description: fmt.Sprintf("%s of %s %s on invoice %s",
			direction, abs.StringFixed(2), invoice.Currency, invoice.InvoiceNumber),
		SuggestedAction: action,
		Status:          models.ExceptionStatusOpen,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.excs.Create(ctx, exc); err != nil {
		return fmt.Errorf("failed to raise amount discrepancy exception: %w", err)
	}
	return nil
}

// fuzzyNameMatch lower-cases both strings, strips non-alphanumeric characters,
// and tests substring containment in either direction.
func fuzzyNameMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func normalizeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// wholeDaysBetween returns the absolute difference between two instants as a
// whole number of days, rounding any partial day up.
func wholeDaysBetween(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}
