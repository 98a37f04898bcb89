package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
	"github.com/ledgerline/reconcile/pkg/database"
)

const testOrg = "org-1"

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewInMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, zap.NewNop()).RunMigrations())
	return db
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleInvoice(id, number string) *models.Invoice {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return &models.Invoice{
		ID:             id,
		OrganizationID: testOrg,
		InvoiceNumber:  number,
		VendorName:     "Acme Corp",
		VendorID:       "V-1",
		Amount:         amt("500.25"),
		Currency:       "USD",
		IssueDate:      now.AddDate(0, -1, 0),
		DueDate:        now,
		Description:    "May services",
		LineItems: []models.LineItem{
			{ID: "LI-1", Description: "Consulting", Quantity: amt("10"), UnitPrice: amt("50"), Amount: amt("500")},
		},
		Status:    models.InvoiceStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func samplePayment(id, ref string) *models.Payment {
	now := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)
	return &models.Payment{
		ID:               id,
		OrganizationID:   testOrg,
		PaymentReference: ref,
		PayerName:        "Acme Corp",
		PayerID:          "P-1",
		Amount:           amt("500.25"),
		Currency:         "USD",
		PaymentDate:      now,
		PaymentMethod:    models.PaymentMethodBankTransfer,
		Description:      "Payment for INV-1",
		Status:           models.PaymentStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestInvoiceRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	inv := sampleInvoice("inv-1", "INV-1")
	require.NoError(t, repo.Create(ctx, inv))

	got, err := repo.GetByID(ctx, testOrg, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)
	assert.Equal(t, inv.VendorName, got.VendorName)
	assert.True(t, got.Amount.Equal(amt("500.25")))
	assert.Equal(t, models.InvoiceStatusPending, got.Status)
	require.Len(t, got.LineItems, 1)
	assert.True(t, got.LineItems[0].UnitPrice.Equal(amt("50")))
}

func TestInvoiceRepositoryGetMissing(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())

	got, err := repo.GetByID(context.Background(), testOrg, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInvoiceRepositoryOrgIsolation(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleInvoice("inv-1", "INV-1")))

	got, err := repo.GetByID(ctx, "other-org", "inv-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	list, err := repo.List(ctx, "other-org")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInvoiceRepositoryListByStatusPreservesInsertionOrder(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleInvoice("inv-1", "INV-1")))
	require.NoError(t, repo.Create(ctx, sampleInvoice("inv-2", "INV-2")))
	require.NoError(t, repo.Create(ctx, sampleInvoice("inv-3", "INV-3")))
	require.NoError(t, repo.UpdateStatus(ctx, testOrg, "inv-2", models.InvoiceStatusDisputed))

	pending, err := repo.ListByStatus(ctx, testOrg, models.InvoiceStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "inv-1", pending[0].ID)
	assert.Equal(t, "inv-3", pending[1].ID)

	both, err := repo.ListByStatus(ctx, testOrg, models.InvoiceStatusPending, models.InvoiceStatusDisputed)
	require.NoError(t, err)
	assert.Len(t, both, 3)
}

func TestInvoiceRepositorySetReconciliation(t *testing.T) {
	db := newTestDB(t)
	repo := NewInvoiceRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleInvoice("inv-1", "INV-1")))
	require.NoError(t, repo.SetReconciliation(ctx, testOrg, "inv-1", models.InvoiceStatusMatched, "rec-1"))

	got, err := repo.GetByID(ctx, testOrg, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusMatched, got.Status)
	assert.Equal(t, "rec-1", got.ReconciliationID)
}

func TestPaymentRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	repo := NewPaymentRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	pmt := samplePayment("pay-1", "PAY-1")
	require.NoError(t, repo.Create(ctx, pmt))

	got, err := repo.GetByID(ctx, testOrg, "pay-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pmt.PaymentReference, got.PaymentReference)
	assert.Equal(t, models.PaymentMethodBankTransfer, got.PaymentMethod)
	assert.True(t, got.Amount.Equal(amt("500.25")))

	require.NoError(t, repo.SetReconciliation(ctx, testOrg, "pay-1", models.PaymentStatusMatched, "rec-1"))
	got, err = repo.GetByID(ctx, testOrg, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusMatched, got.Status)
	assert.Equal(t, "rec-1", got.ReconciliationID)
}

func TestReconciliationRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewReconciliationRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	rec := &models.Reconciliation{
		ID:                "rec-1",
		OrganizationID:    testOrg,
		InvoiceID:         "inv-1",
		PaymentID:         "pay-1",
		MatchedAmount:     amt("350.00"),
		MatchType:         models.MatchTypeUnderpayment,
		MatchConfidence:   0.9,
		DiscrepancyAmount: amt("-150.00"),
		DiscrepancyType:   models.DiscrepancyAmountMismatch,
		Status:            models.ReconciliationStatusPendingReview,
		Notes:             "auto pass",
		MatchedBy:         models.MatchedByAuto,
		CreatedAt:         time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetByID(ctx, testOrg, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.MatchTypeUnderpayment, got.MatchType)
	assert.True(t, got.DiscrepancyAmount.Equal(amt("-150.00")))
	assert.Equal(t, models.MatchedByAuto, got.MatchedBy)

	require.NoError(t, repo.UpdateStatus(ctx, testOrg, "rec-1", models.ReconciliationStatusApproved))
	got, err = repo.GetByID(ctx, testOrg, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStatusApproved, got.Status)

	list, err := repo.List(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExceptionRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewExceptionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	exc := &models.Exception{
		ID:              "exc-1",
		OrganizationID:  testOrg,
		Type:            models.ExceptionUnmatchedInvoice,
		Severity:        models.SeverityHigh,
		InvoiceID:       "inv-1",
		Description:     "Invoice INV-1 is 45 days overdue",
		SuggestedAction: "Follow up with vendor or write off the invoice",
		Status:          models.ExceptionStatusOpen,
		CreatedAt:       time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(ctx, exc))

	flagged, err := repo.HasUnresolvedForInvoice(ctx, testOrg, "inv-1")
	require.NoError(t, err)
	assert.True(t, flagged)

	flagged, err = repo.HasUnresolvedForPayment(ctx, testOrg, "pay-1")
	require.NoError(t, err)
	assert.False(t, flagged)

	require.NoError(t, repo.UpdateStatus(ctx, testOrg, "exc-1", models.ExceptionStatusResolved, "ops@example.com"))

	got, err := repo.GetByID(ctx, testOrg, "exc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.ExceptionStatusResolved, got.Status)
	assert.Equal(t, "ops@example.com", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	// Resolved exceptions no longer block re-identification.
	flagged, err = repo.HasUnresolvedForInvoice(ctx, testOrg, "inv-1")
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestJobRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	job := &models.ProcessingJob{
		ID:             "job-1",
		OrganizationID: testOrg,
		FileName:       "invoice.pdf",
		FileSize:       1024,
		MimeType:       "application/pdf",
		DocumentType:   "unknown",
		Status:         models.JobStatusQueued,
		WorkflowID:     "document-ingestion",
	}
	require.NoError(t, repo.Create(ctx, job))

	started := time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Second)
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.DocumentType = "invoice"
	job.FileKey = "org-1/abc.pdf"
	job.StartedAt = &started
	job.CompletedAt = &completed
	job.Result = &models.JobResult{DocumentType: "invoice", RecordID: "inv-1", Confidence: 0.92, ElapsedMs: 3000}
	require.NoError(t, repo.Update(ctx, job))

	got, err := repo.GetByID(ctx, testOrg, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "org-1/abc.pdf", got.FileKey)
	require.NotNil(t, got.Result)
	assert.Equal(t, "inv-1", got.Result.RecordID)
	assert.InDelta(t, 0.92, got.Result.Confidence, 0.001)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	completedJobs, err := repo.ListCompleted(ctx, testOrg)
	require.NoError(t, err)
	assert.Len(t, completedJobs, 1)
}

func TestJobRepositoryListNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewJobRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, repo.Create(ctx, &models.ProcessingJob{
			ID:             id,
			OrganizationID: testOrg,
			FileName:       id + ".pdf",
			Status:         models.JobStatusQueued,
		}))
	}

	jobs, err := repo.List(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-3", jobs[0].ID)
	assert.Equal(t, "job-1", jobs[2].ID)
}
