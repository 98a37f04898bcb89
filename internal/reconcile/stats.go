package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/reconcile/internal/models"
)

// JobStore supplies completed processing jobs for the processing-time metric
type JobStore interface {
	ListCompleted(ctx context.Context, orgID string) ([]*models.ProcessingJob, error)
}

// WithJobStore wires a job store so dashboard stats can derive the average
// processing time from real job timestamps.
func WithJobStore(jobs JobStore) Option {
	return func(e *Engine) {
		e.jobs = jobs
	}
}

// DashboardStats is an aggregate snapshot of an organization's ledger
type DashboardStats struct {
	TotalInvoices             int             `json:"total_invoices"`
	TotalPayments             int             `json:"total_payments"`
	TotalReconciled           int             `json:"total_reconciled"`
	TotalExceptions           int             `json:"total_exceptions"`
	TotalInvoiceAmount        decimal.Decimal `json:"total_invoice_amount"`
	TotalPaymentAmount        decimal.Decimal `json:"total_payment_amount"`
	ReconciledAmount          decimal.Decimal `json:"reconciled_amount"`
	UnreconciledInvoiceAmount decimal.Decimal `json:"unreconciled_invoice_amount"`
	UnreconciledPaymentAmount decimal.Decimal `json:"unreconciled_payment_amount"`
	MatchRate                 float64         `json:"match_rate"`
	AvgProcessingTimeMs       int64           `json:"avg_processing_time_ms"`
}

// GetDashboardStats computes the aggregate snapshot for an organization.
// TotalExceptions counts only open exceptions. The average processing time is
// derived from completed job timestamps rather than a fixed placeholder.
func (e *Engine) GetDashboardStats(ctx context.Context, orgID string) (*DashboardStats, error) {
	invoices, err := e.invoices.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	payments, err := e.payments.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	recs, err := e.recs.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliations: %w", err)
	}
	openExcs, err := e.excs.ListByStatus(ctx, orgID, models.ExceptionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open exceptions: %w", err)
	}

	stats := &DashboardStats{
		TotalInvoices:   len(invoices),
		TotalPayments:   len(payments),
		TotalReconciled: len(recs),
		TotalExceptions: len(openExcs),
	}

	matched := 0
	for _, invoice := range invoices {
		stats.TotalInvoiceAmount = stats.TotalInvoiceAmount.Add(invoice.Amount)
		switch invoice.Status {
		case models.InvoiceStatusPending:
			stats.UnreconciledInvoiceAmount = stats.UnreconciledInvoiceAmount.Add(invoice.Amount)
		case models.InvoiceStatusMatched, models.InvoiceStatusPartiallyMatched:
			matched++
		}
	}
	for _, payment := range payments {
		stats.TotalPaymentAmount = stats.TotalPaymentAmount.Add(payment.Amount)
		if payment.Status == models.PaymentStatusPending || payment.Status == models.PaymentStatusUnmatched {
			stats.UnreconciledPaymentAmount = stats.UnreconciledPaymentAmount.Add(payment.Amount)
		}
	}
	for _, rec := range recs {
		stats.ReconciledAmount = stats.ReconciledAmount.Add(rec.MatchedAmount)
	}

	if len(invoices) > 0 {
		stats.MatchRate = float64(matched) / float64(len(invoices)) * 100
	}

	if e.jobs != nil {
		jobs, err := e.jobs.ListCompleted(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to list completed jobs: %w", err)
		}
		var totalMs, counted int64
		for _, job := range jobs {
			if job.StartedAt == nil || job.CompletedAt == nil {
				continue
			}
			totalMs += job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
			counted++
		}
		if counted > 0 {
			stats.AvgProcessingTimeMs = totalMs / counted
		}
	}

	return stats, nil
}
