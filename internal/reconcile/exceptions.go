package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// paymentAmountHighWater is the amount above which an unmatched payment is
// escalated to high severity.
var paymentAmountHighWater = decimal.NewFromInt(10000)

// IdentifyExceptions scans for overdue pending invoices and unmatched
// payments and raises exceptions for any that do not already carry an open or
// in-review one. Safe to run repeatedly; a resolved exception allows the next
// pass to re-raise.
func (e *Engine) IdentifyExceptions(ctx context.Context, orgID string) ([]*models.Exception, error) {
	now := e.now().UTC()
	created := make([]*models.Exception, 0)

	invoices, err := e.invoices.ListByStatus(ctx, orgID, models.InvoiceStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending invoices: %w", err)
	}
	for _, invoice := range invoices {
		if !invoice.DueDate.Before(now) {
			continue
		}
		exists, err := e.excs.HasUnresolvedForInvoice(ctx, orgID, invoice.ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		daysOverdue := wholeDaysBetween(now, invoice.DueDate)
		severity := models.SeverityMedium
		if daysOverdue > 30 {
			severity = models.SeverityHigh
		}

		exc := &models.Exception{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Type:           models.ExceptionUnmatchedInvoice,
			Severity:       severity,
			InvoiceID:      invoice.ID,
			Description: fmt.Sprintf("Invoice %s of %s %s is %d days overdue with no matching payment",
				invoice.InvoiceNumber, invoice.Amount.StringFixed(2), invoice.Currency, daysOverdue),
			SuggestedAction: "Follow up with vendor or write off the invoice",
			Status:          models.ExceptionStatusOpen,
			CreatedAt:       now,
		}
		if err := e.excs.Create(ctx, exc); err != nil {
			return created, fmt.Errorf("failed to create unmatched invoice exception: %w", err)
		}
		created = append(created, exc)
	}

	payments, err := e.payments.ListByStatus(ctx, orgID,
		models.PaymentStatusPending, models.PaymentStatusUnmatched)
	if err != nil {
		return created, fmt.Errorf("failed to list unreconciled payments: %w", err)
	}
	for _, payment := range payments {
		exists, err := e.excs.HasUnresolvedForPayment(ctx, orgID, payment.ID)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		severity := models.SeverityMedium
		if payment.Amount.GreaterThan(paymentAmountHighWater) {
			severity = models.SeverityHigh
		}

		exc := &models.Exception{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			Type:           models.ExceptionUnmatchedPayment,
			Severity:       severity,
			PaymentID:      payment.ID,
			Description: fmt.Sprintf("Payment %s of %s %s has no matching invoice",
				payment.PaymentReference, payment.Amount.StringFixed(2), payment.Currency),
			SuggestedAction: "Locate the matching invoice or refund the payer",
			Status:          models.ExceptionStatusOpen,
			CreatedAt:       now,
		}
		if err := e.excs.Create(ctx, exc); err != nil {
			return created, fmt.Errorf("failed to create unmatched payment exception: %w", err)
		}
		created = append(created, exc)
	}

	e.logger.Info("Exception identification pass finished",
		zap.String("organization_id", orgID),
		zap.Int("created", len(created)))

	return created, nil
}
