package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/reconcile/internal/models"
)

// memLedger is an in-memory store implementing every engine dependency
type memLedger struct {
	invoices []*models.Invoice
	payments []*models.Payment
	recs     []*models.Reconciliation
	excs     []*models.Exception
	jobs     []*models.ProcessingJob
}

func (m *memLedger) GetByID(ctx context.Context, orgID, id string) (*models.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.OrganizationID == orgID && inv.ID == id {
			return inv, nil
		}
	}
	return nil, nil
}

func (m *memLedger) List(ctx context.Context, orgID string) ([]*models.Invoice, error) {
	var out []*models.Invoice
	for _, inv := range m.invoices {
		if inv.OrganizationID == orgID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memLedger) ListByStatus(ctx context.Context, orgID string, statuses ...models.InvoiceStatus) ([]*models.Invoice, error) {
	var out []*models.Invoice
	for _, inv := range m.invoices {
		if inv.OrganizationID != orgID {
			continue
		}
		for _, st := range statuses {
			if inv.Status == st {
				out = append(out, inv)
				break
			}
		}
	}
	return out, nil
}

func (m *memLedger) SetReconciliation(ctx context.Context, orgID, id string, status models.InvoiceStatus, reconciliationID string) error {
	for _, inv := range m.invoices {
		if inv.OrganizationID == orgID && inv.ID == id {
			inv.Status = status
			inv.ReconciliationID = reconciliationID
		}
	}
	return nil
}

// payments wraps the same slice store for the payment-side interface
type memPayments struct{ m *memLedger }

func (p memPayments) GetByID(ctx context.Context, orgID, id string) (*models.Payment, error) {
	for _, pmt := range p.m.payments {
		if pmt.OrganizationID == orgID && pmt.ID == id {
			return pmt, nil
		}
	}
	return nil, nil
}

func (p memPayments) List(ctx context.Context, orgID string) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, pmt := range p.m.payments {
		if pmt.OrganizationID == orgID {
			out = append(out, pmt)
		}
	}
	return out, nil
}

func (p memPayments) ListByStatus(ctx context.Context, orgID string, statuses ...models.PaymentStatus) ([]*models.Payment, error) {
	var out []*models.Payment
	for _, pmt := range p.m.payments {
		if pmt.OrganizationID != orgID {
			continue
		}
		for _, st := range statuses {
			if pmt.Status == st {
				out = append(out, pmt)
				break
			}
		}
	}
	return out, nil
}

func (p memPayments) SetReconciliation(ctx context.Context, orgID, id string, status models.PaymentStatus, reconciliationID string) error {
	for _, pmt := range p.m.payments {
		if pmt.OrganizationID == orgID && pmt.ID == id {
			pmt.Status = status
			pmt.ReconciliationID = reconciliationID
		}
	}
	return nil
}

type memRecs struct{ m *memLedger }

func (r memRecs) Create(ctx context.Context, rec *models.Reconciliation) error {
	r.m.recs = append(r.m.recs, rec)
	return nil
}

func (r memRecs) List(ctx context.Context, orgID string) ([]*models.Reconciliation, error) {
	var out []*models.Reconciliation
	for _, rec := range r.m.recs {
		if rec.OrganizationID == orgID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memExcs struct{ m *memLedger }

func (e memExcs) Create(ctx context.Context, exc *models.Exception) error {
	e.m.excs = append(e.m.excs, exc)
	return nil
}

func (e memExcs) ListByStatus(ctx context.Context, orgID string, status models.ExceptionStatus) ([]*models.Exception, error) {
	var out []*models.Exception
	for _, exc := range e.m.excs {
		if exc.OrganizationID == orgID && exc.Status == status {
			out = append(out, exc)
		}
	}
	return out, nil
}

func (e memExcs) HasUnresolvedForInvoice(ctx context.Context, orgID, invoiceID string) (bool, error) {
	for _, exc := range e.m.excs {
		if exc.OrganizationID == orgID && exc.InvoiceID == invoiceID &&
			(exc.Status == models.ExceptionStatusOpen || exc.Status == models.ExceptionStatusInReview) {
			return true, nil
		}
	}
	return false, nil
}

func (e memExcs) HasUnresolvedForPayment(ctx context.Context, orgID, paymentID string) (bool, error) {
	for _, exc := range e.m.excs {
		if exc.OrganizationID == orgID && exc.PaymentID == paymentID &&
			(exc.Status == models.ExceptionStatusOpen || exc.Status == models.ExceptionStatusInReview) {
			return true, nil
		}
	}
	return false, nil
}

type memJobs struct{ m *memLedger }

func (j memJobs) ListCompleted(ctx context.Context, orgID string) ([]*models.ProcessingJob, error) {
	var out []*models.ProcessingJob
	for _, job := range j.m.jobs {
		if job.OrganizationID == orgID && job.Status == models.JobStatusCompleted {
			out = append(out, job)
		}
	}
	return out, nil
}

const testOrg = "org-1"

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(ledger *memLedger) *Engine {
	return NewEngine(
		ledger,
		memPayments{ledger},
		memRecs{ledger},
		memExcs{ledger},
		DefaultScoringConfig(),
		zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
		WithJobStore(memJobs{ledger}),
	)
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testInvoice(id, number, vendor, amount string, due time.Time) *models.Invoice {
	return &models.Invoice{
		ID:             id,
		OrganizationID: testOrg,
		InvoiceNumber:  number,
		VendorName:     vendor,
		Amount:         amt(amount),
		Currency:       "USD",
		IssueDate:      due.AddDate(0, -1, 0),
		DueDate:        due,
		Status:         models.InvoiceStatusPending,
	}
}

func testPayment(id, ref, payer, amount, description string, paid time.Time) *models.Payment {
	return &models.Payment{
		ID:               id,
		OrganizationID:   testOrg,
		PaymentReference: ref,
		PayerName:        payer,
		Amount:           amt(amount),
		Currency:         "USD",
		PaymentDate:      paid,
		PaymentMethod:    models.PaymentMethodBankTransfer,
		Description:      description,
		Status:           models.PaymentStatusPending,
	}
}

func TestScorePair(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	engine := newTestEngine(&memLedger{})

	tests := []struct {
		name    string
		invoice *models.Invoice
		payment *models.Payment
		want    float64
		discard bool
	}{
		{
			name:    "exact amount with reference name and close date",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
			payment: testPayment("pay-1", "PAY-1", "ACME Corp.", "500.00", "Payment for INV-1001", due.AddDate(0, 0, 5)),
			want:    1.0, // 0.50 + 0.30 + 0.10 + 0.10
		},
		{
			name:    "exact amount within tolerance",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
			payment: testPayment("pay-1", "PAY-1", "Globex", "500.005", "wire transfer", due.AddDate(0, 0, 200)),
			want:    0.50,
		},
		{
			name:    "partial amount scaled by ratio",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "100.00", due),
			payment: testPayment("pay-1", "PAY-1", "Globex", "85.00", "wire transfer", due.AddDate(0, 0, 200)),
			want:    0.34, // 0.85 * 0.40
		},
		{
			name:    "payment below partial threshold scores no amount points",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "100.00", due),
			payment: testPayment("pay-1", "PAY-1", "Globex", "50.00", "wire transfer", due.AddDate(0, 0, 200)),
			discard: true,
		},
		{
			name:    "currency mismatch is a hard filter",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
			payment: func() *models.Payment {
				p := testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "Payment for INV-1001", due)
				p.Currency = "EUR"
				return p
			}(),
			discard: true,
		},
		{
			name:    "reference only sits at the floor and is discarded",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "100.00", due),
			payment: testPayment("pay-1", "PAY-1", "Globex", "10.00", "Payment for INV-1001", due.AddDate(0, 0, 200)),
			discard: true, // 0.30 is not strictly above the floor
		},
		{
			name:    "near date bucket lifts reference above the floor",
			invoice: testInvoice("inv-1", "INV-1001", "Acme Corp", "100.00", due),
			payment: testPayment("pay-1", "PAY-1", "Globex", "10.00", "Payment for INV-1001", due.AddDate(0, 0, 45)),
			want:    0.35, // 0.30 + 0.05
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.scorePair(tt.invoice, tt.payment)
			if tt.discard {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, got.Confidence, 0.001)
		})
	}
}

func TestScorePairConfidenceCapped(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultScoringConfig()
	cfg.ExactAmountWeight = 0.95
	engine := NewEngine(&memLedger{}, memPayments{&memLedger{}}, memRecs{&memLedger{}}, memExcs{&memLedger{}}, cfg, zap.NewNop())

	got := engine.scorePair(
		testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
		testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "Payment for INV-1001", due),
	)
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestGenerateSuggestionsOrdering(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{
			testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
			testInvoice("inv-2", "INV-1002", "Globex", "300.00", due),
		},
		payments: []*models.Payment{
			testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "Payment for INV-1001", due),
			testPayment("pay-2", "PAY-2", "Initech", "300.00", "settlement", due),
		},
	}
	engine := newTestEngine(ledger)

	got, err := engine.GenerateSuggestions(context.Background(), testOrg)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
	assert.Equal(t, "inv-1", got[0].InvoiceID)
	assert.Equal(t, "pay-1", got[0].PaymentID)

	// Unchanged ledger yields an identical list.
	again, err := engine.GenerateSuggestions(context.Background(), testOrg)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestAutoReconcileConsumesEachSideOnce(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{
			testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
		},
		payments: []*models.Payment{
			testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "Payment for INV-1001", due),
			testPayment("pay-2", "PAY-2", "Acme Corp", "500.00", "Payment for INV-1001", due),
		},
	}
	engine := newTestEngine(ledger)

	created, err := engine.AutoReconcile(context.Background(), testOrg, 0)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, models.MatchedByAuto, created[0].MatchedBy)
	assert.Equal(t, 0.90, created[0].MatchConfidence)

	// The second equally-scored payment was not committed.
	pay2, err := memPayments{ledger}.GetByID(context.Background(), testOrg, "pay-2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, pay2.Status)
}

// failingRecs fails Create for one invoice id and delegates the rest
type failingRecs struct {
	memRecs
	failInvoiceID string
}

func (r failingRecs) Create(ctx context.Context, rec *models.Reconciliation) error {
	if rec.InvoiceID == r.failInvoiceID {
		return errors.New("reconciliation insert failed")
	}
	return r.memRecs.Create(ctx, rec)
}

func TestAutoReconcileSkipsFailedPair(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{
			testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due),
			testInvoice("inv-2", "INV-2002", "Globex", "800.00", due),
		},
		payments: []*models.Payment{
			testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "Payment for INV-1001", due),
			testPayment("pay-2", "PAY-2", "Globex", "800.00", "Payment for INV-2002", due),
		},
	}
	engine := NewEngine(
		ledger,
		memPayments{ledger},
		failingRecs{memRecs{ledger}, "inv-1"},
		memExcs{ledger},
		DefaultScoringConfig(),
		zap.NewNop(),
		WithClock(func() time.Time { return testNow }),
	)

	recs, err := engine.AutoReconcile(context.Background(), testOrg, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inv-2", recs[0].InvoiceID)

	// The failed pair is untouched and eligible for a later pass.
	assert.Equal(t, models.InvoiceStatusPending, ledger.invoices[0].Status)
	assert.Equal(t, models.PaymentStatusPending, ledger.payments[0].Status)
	assert.Equal(t, models.InvoiceStatusMatched, ledger.invoices[1].Status)
}

func TestAutoReconcileRespectsThreshold(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{
			testInvoice("inv-1", "INV-1001", "Acme Corp", "100.00", due),
		},
		payments: []*models.Payment{
			// Partial match only: 0.85*0.40 + 0.10 date = 0.44, under 0.80.
			testPayment("pay-1", "PAY-1", "Globex", "85.00", "wire transfer", due),
		},
	}
	engine := newTestEngine(ledger)

	created, err := engine.AutoReconcile(context.Background(), testOrg, 0)
	require.NoError(t, err)
	assert.Empty(t, created)

	created, err = engine.AutoReconcile(context.Background(), testOrg, 0.40)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestCreateReconciliationExactMatch(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due)},
		payments: []*models.Payment{testPayment("pay-1", "PAY-1", "Acme Corp", "500.00", "", due)},
	}
	engine := newTestEngine(ledger)

	rec, err := engine.CreateReconciliation(context.Background(), testOrg, "inv-1", "pay-1", models.MatchedByManual, "checked by hand")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.MatchTypeExact, rec.MatchType)
	assert.Equal(t, models.ReconciliationStatusApproved, rec.Status)
	assert.Equal(t, 1.0, rec.MatchConfidence)
	assert.True(t, rec.MatchedAmount.Equal(amt("500.00")))
	assert.Equal(t, "checked by hand", rec.Notes)

	assert.Equal(t, models.InvoiceStatusMatched, ledger.invoices[0].Status)
	assert.Equal(t, models.PaymentStatusMatched, ledger.payments[0].Status)
	assert.Equal(t, rec.ID, ledger.invoices[0].ReconciliationID)
	assert.Empty(t, ledger.excs)
}

func TestCreateReconciliationUnderpayment(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due)},
		payments: []*models.Payment{testPayment("pay-1", "PAY-1", "Acme Corp", "350.00", "", due)},
	}
	engine := newTestEngine(ledger)

	rec, err := engine.CreateReconciliation(context.Background(), testOrg, "inv-1", "pay-1", models.MatchedByAuto, "")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.MatchTypeUnderpayment, rec.MatchType)
	assert.Equal(t, models.ReconciliationStatusPendingReview, rec.Status)
	assert.Equal(t, 0.90, rec.MatchConfidence)
	assert.True(t, rec.MatchedAmount.Equal(amt("350.00")))
	assert.True(t, rec.DiscrepancyAmount.Equal(amt("-150.00")))
	assert.Equal(t, models.DiscrepancyAmountMismatch, rec.DiscrepancyType)

	assert.Equal(t, models.InvoiceStatusPartiallyMatched, ledger.invoices[0].Status)
	assert.Equal(t, models.PaymentStatusMatched, ledger.payments[0].Status)

	require.Len(t, ledger.excs, 1)
	exc := ledger.excs[0]
	assert.Equal(t, models.ExceptionAmountDiscrepancy, exc.Type)
	assert.Equal(t, models.SeverityMedium, exc.Severity) // 150 > 100, not > 1000
	assert.Contains(t, exc.Description, "Underpayment")
	assert.Equal(t, rec.ID, exc.ReconciliationID)
}

func TestCreateReconciliationSeverityBoundary(t *testing.T) {
	// A discrepancy of exactly 100 stays low severity; the thresholds are strict.
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due)},
		payments: []*models.Payment{testPayment("pay-1", "PAY-1", "Acme Corp", "400.00", "", due)},
	}
	engine := newTestEngine(ledger)

	rec, err := engine.CreateReconciliation(context.Background(), testOrg, "inv-1", "pay-1", models.MatchedByManual, "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.DiscrepancyAmount.Equal(amt("-100.00")))

	require.Len(t, ledger.excs, 1)
	assert.Equal(t, models.SeverityLow, ledger.excs[0].Severity)
}

func TestCreateReconciliationOverpaymentSeverity(t *testing.T) {
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger := &memLedger{
		invoices: []*models.Invoice{testInvoice("inv-1", "INV-1001", "Acme Corp", "500.00", due)},
		payments: []*models.Payment{testPayment("pay-1", "PAY-1", "Acme Corp", "2000.00", "", due)},
	}
	engine := newTestEngine(ledger)

	rec, err := engine.CreateReconciliation(context.Background(), testOrg, "inv-1", "pay-1", models.MatchedByManual, "")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, models.MatchTypeOverpayment, rec.MatchType)
	assert.Equal(t, models.InvoiceStatusMatched, ledger.invoices[0].Status)
	assert.Equal(t, models.PaymentStatusPartiallyMatched, ledger.payments[0].Status)

	require.Len(t, ledger.excs, 1)
	assert.Equal(t, models.SeverityHigh, ledger.excs[0].Severity) // 1500 > 1000
	assert.Contains(t, ledger.excs[0].Description, "Overpayment")
}

func TestCreateReconciliationMissingRecords(t *testing.T) {
	engine := newTestEngine(&memLedger{})

	rec, err := engine.CreateReconciliation(context.Background(), testOrg, "inv-x", "pay-x", models.MatchedByManual, "")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
