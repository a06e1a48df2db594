package finance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

var adminCaps = rbac.Defaults(rbac.RoleAdmin)

type fixture struct {
	repo    *memoryRepo
	svc     *Service
	guard   *memoryGuard
	metrics *countingMetrics
	center  Center
	now     time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	center := Center{ID: uuid.New(), Name: "C1", InvoicePrefix: "C1"}
	repo.state.centers[center.ID] = center
	guard := newMemoryGuard()
	metrics := &countingMetrics{}
	svc := NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)), ServiceConfig{Idempotency: guard, Metrics: metrics})
	f := &fixture{repo: repo, svc: svc, guard: guard, metrics: metrics, center: center, now: now}
	svc.WithNow(func() time.Time { return f.now })
	return f
}

func (f *fixture) addStudent(name string, amounts ...string) fees.Student {
	s := fees.Student{ID: uuid.New(), CenterID: f.center.ID, Name: name, Grade: "5", IsActive: true}
	f.repo.state.students[s.ID] = s
	for i, amount := range amounts {
		f.repo.state.assignments = append(f.repo.state.assignments, fees.StudentFeeAssignment{
			ID:             uuid.New(),
			StudentID:      s.ID,
			FeeHeadingID:   uuid.New(),
			FeeHeadingName: fmt.Sprintf("Fee %d", i+1),
			AcademicYear:   "2023-2024",
			Amount:         dec(amount),
			IsActive:       true,
		})
	}
	return s
}

func (f *fixture) generate(t *testing.T, month, year int) GenerateResult {
	t.Helper()
	res, err := f.svc.GenerateMonthlyInvoices(context.Background(), adminCaps, GenerateInput{
		CenterID: f.center.ID, Month: month, Year: year, AcademicYear: "2023-2024", DueInDays: 30,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) pay(t *testing.T, student fees.Student, invoiceID uuid.UUID, amount string) Payment {
	t.Helper()
	p, err := f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &invoiceID, AmountPaid: dec(amount), Method: MethodCash,
	})
	require.NoError(t, err)
	return p
}

func requireBalancedEvents(t *testing.T, entries []LedgerEntry) {
	t.Helper()
	events := make(map[uuid.UUID][2]decimal.Decimal)
	for _, e := range entries {
		sums := events[e.EventID]
		sums[0] = sums[0].Add(e.DebitAmount)
		sums[1] = sums[1].Add(e.CreditAmount)
		events[e.EventID] = sums
	}
	for id, sums := range events {
		require.True(t, sums[0].Equal(sums[1]), "event %s unbalanced: %s vs %s", id, sums[0], sums[1])
	}
}

func TestReconciliationScenarios(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")

	// A: first generation bills the student once.
	res := f.generate(t, 3, 2024)
	require.Equal(t, 1, res.InvoicesGenerated)
	require.False(t, res.AlreadyExists)
	inv := res.Invoices[0]
	require.Equal(t, "INV-C1-202403-0001", inv.InvoiceNumber)
	require.True(t, inv.TotalAmount.Equal(dec("1000")))
	require.True(t, inv.PaidAmount.IsZero())
	require.Equal(t, StatusIssued, inv.Status)
	require.Equal(t, day(2024, time.March, 1), inv.InvoiceDate)
	require.Equal(t, day(2024, time.March, 31), inv.DueDate)

	state := f.repo.snapshot()
	require.Len(t, state.items[inv.ID], 1)
	require.True(t, state.items[inv.ID][0].TotalAmount.Equal(dec("1000")))
	require.Len(t, state.ledger, 2)
	require.Equal(t, "1200", state.ledger[0].AccountCode)
	require.True(t, state.ledger[0].DebitAmount.Equal(dec("1000")))
	require.Equal(t, "4000", state.ledger[1].AccountCode)
	require.True(t, state.ledger[1].CreditAmount.Equal(dec("1000")))

	// B: repeating the call writes nothing.
	again := f.generate(t, 3, 2024)
	require.Equal(t, 0, again.InvoicesGenerated)
	require.True(t, again.AlreadyExists)
	require.Equal(t, AlreadyExistsMessage, again.Message)
	after := f.repo.snapshot()
	require.Len(t, after.invoices, 1)
	require.Len(t, after.ledger, 2)

	// C: partial payment.
	f.pay(t, student, inv.ID, "400")
	state = f.repo.snapshot()
	require.True(t, state.invoices[inv.ID].PaidAmount.Equal(dec("400")))
	require.Equal(t, StatusPartial, state.invoices[inv.ID].Status)
	require.Len(t, state.ledger, 4)
	require.Equal(t, "1000", state.ledger[2].AccountCode)
	require.True(t, state.ledger[2].DebitAmount.Equal(dec("400")))
	require.Equal(t, "1200", state.ledger[3].AccountCode)
	require.True(t, state.ledger[3].CreditAmount.Equal(dec("400")))

	// D: settling payment after the due date.
	f.now = time.Date(2024, time.April, 20, 9, 0, 0, 0, time.UTC)
	f.pay(t, student, inv.ID, "600")
	state = f.repo.snapshot()
	settled := state.invoices[inv.ID]
	require.True(t, settled.PaidAmount.Equal(dec("1000")))
	require.Equal(t, StatusPaid, settled.Status)
	require.True(t, LateFee(settled, f.now).IsZero())

	requireBalancedEvents(t, state.ledger)
}

func TestScenarioOverdueLateFee(t *testing.T) {
	today := day(2024, time.June, 20)
	inv := Invoice{TotalAmount: dec("500"), PaidAmount: decimal.Zero, DueDate: today.AddDate(0, 0, -10), LateFeePerDay: dec("10"), Status: StatusIssued}
	require.True(t, LateFee(inv, today).Equal(dec("100")))
	require.Equal(t, StatusOverdue, ResolveStatus(inv, today))
}

func TestGenerateSkipsStudentsWithoutCharges(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	f.addStudent("Bina")
	f.addStudent("Chandra", "0")
	f.addStudent("Dev", "250", "750.50")
	inactive := f.addStudent("Esha", "300")
	s := f.repo.state.students[inactive.ID]
	s.IsActive = false
	f.repo.state.students[inactive.ID] = s

	res := f.generate(t, 3, 2024)
	require.Equal(t, 1, res.InvoicesGenerated)
	require.Equal(t, 2, res.SkippedStudents)
	require.True(t, res.Invoices[0].TotalAmount.Equal(dec("1000.50")))
	require.Len(t, f.repo.snapshot().items[res.Invoices[0].ID], 2)
}

func TestGenerateIsolatesStudentFailures(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	f.addStudent("Amit", "100")
	broken := f.addStudent("Bela", "200")
	f.addStudent("Chirag", "300")
	f.repo.failInvoiceFor[broken.ID] = errors.New("insert failed")

	res := f.generate(t, 3, 2024)
	require.Equal(t, 2, res.InvoicesGenerated)
	require.Len(t, res.Failures, 1)
	require.Equal(t, broken.ID, res.Failures[0].StudentID)
	require.Equal(t, "INV-C1-202403-0001", res.Invoices[0].InvoiceNumber)
	require.Equal(t, "INV-C1-202403-0002", res.Invoices[1].InvoiceNumber)

	state := f.repo.snapshot()
	require.Len(t, state.invoices, 2)
	require.Len(t, state.ledger, 4)
	require.Equal(t, 1, f.metrics.failed)
	require.Equal(t, 2, f.metrics.generated)
}

func TestGenerateRollsBackStudentWhenLedgerFails(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	f.addStudent("Amit", "100")
	f.repo.failLedgerFor[RefInvoice] = errors.New("ledger down")

	res := f.generate(t, 3, 2024)
	require.Equal(t, 0, res.InvoicesGenerated)
	require.Len(t, res.Failures, 1)
	state := f.repo.snapshot()
	require.Empty(t, state.invoices)
	require.Empty(t, state.items)
	require.Empty(t, state.ledger)

	// The period stays open, so a later run can bill it.
	delete(f.repo.failLedgerFor, RefInvoice)
	res = f.generate(t, 3, 2024)
	require.Equal(t, 1, res.InvoicesGenerated)
}

func TestGenerateConcurrentRunsBillOnce(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	for i := 0; i < 5; i++ {
		f.addStudent(fmt.Sprintf("Student %d", i), "100")
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		skipped  int
		failures int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.GenerateMonthlyInvoices(context.Background(), adminCaps, GenerateInput{
				CenterID: f.center.ID, Month: 3, Year: 2024, AcademicYear: "2023-2024", DueInDays: 10,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			created += res.InvoicesGenerated
			if res.AlreadyExists {
				skipped++
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures)
	require.Equal(t, 5, created)
	require.Equal(t, 7, skipped)
	require.Len(t, f.repo.snapshot().invoices, 5)
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, time.Now())
	cases := []GenerateInput{
		{CenterID: uuid.Nil, Month: 3, Year: 2024, AcademicYear: "2023-2024"},
		{CenterID: f.center.ID, Month: 13, Year: 2024, AcademicYear: "2023-2024"},
		{CenterID: f.center.ID, Month: 3, Year: 1999, AcademicYear: "2023-2024"},
		{CenterID: f.center.ID, Month: 3, Year: 2024, AcademicYear: " "},
		{CenterID: f.center.ID, Month: 3, Year: 2024, AcademicYear: "2023-2024", DueInDays: -1},
		{CenterID: f.center.ID, Month: 3, Year: 2024, AcademicYear: "2023-2024", LateFeePerDay: dec("-1")},
	}
	for i, in := range cases {
		_, err := f.svc.GenerateMonthlyInvoices(context.Background(), adminCaps, in)
		require.ErrorIs(t, err, ErrValidation, "case %d", i)
	}
	_, err := f.svc.GenerateMonthlyInvoices(context.Background(), rbac.Defaults(rbac.RoleTeacher), cases[0])
	require.ErrorIs(t, err, ErrForbidden)
	require.Empty(t, f.repo.snapshot().invoices)
}

func TestInvoiceNumberPrefixFallback(t *testing.T) {
	center := Center{ID: uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000000")}
	require.Equal(t, "INV-A1B2C3D4-202401-0007", InvoiceNumber(center, 2024, 1, 7))
}

func TestPaymentConservationAndBalance(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	a := f.addStudent("Asha", "1000")
	b := f.addStudent("Bala", "750")
	res := f.generate(t, 3, 2024)
	require.Equal(t, 2, res.InvoicesGenerated)
	invoices := map[uuid.UUID]Invoice{}
	for _, inv := range res.Invoices {
		invoices[inv.StudentID] = inv
	}

	f.pay(t, a, invoices[a.ID].ID, "100")
	f.pay(t, a, invoices[a.ID].ID, "250.25")
	f.pay(t, b, invoices[b.ID].ID, "750")
	_, err := f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: b.ID, AmountPaid: dec("40"), Method: MethodUPI,
	})
	require.NoError(t, err)

	state := f.repo.snapshot()
	for _, inv := range state.invoices {
		paid := decimal.Zero
		for _, p := range state.payments {
			if p.InvoiceID != nil && *p.InvoiceID == inv.ID {
				paid = paid.Add(p.AmountPaid)
			}
		}
		require.True(t, inv.PaidAmount.Equal(paid), "invoice %s", inv.InvoiceNumber)
	}
	require.Equal(t, StatusPartial, state.invoices[invoices[a.ID].ID].Status)
	require.Equal(t, StatusPaid, state.invoices[invoices[b.ID].ID].Status)

	debit, credit := Balances(state.ledger)
	require.True(t, debit.Equal(credit))
	requireBalancedEvents(t, state.ledger)

	var bank int
	for _, e := range state.ledger {
		if e.AccountCode == "1010" {
			bank++
		}
	}
	require.Equal(t, 1, bank)
}

func TestPaymentRollsBackOnFailure(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")
	inv := f.generate(t, 3, 2024).Invoices[0]
	before := f.repo.snapshot()

	f.repo.failSummary = errors.New("summary write failed")
	_, err := f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &inv.ID, AmountPaid: dec("300"), Method: MethodCash, IdempotencyKey: "k-1",
	})
	require.Error(t, err)

	after := f.repo.snapshot()
	require.Len(t, after.payments, len(before.payments))
	require.Len(t, after.ledger, len(before.ledger))
	require.True(t, after.invoices[inv.ID].PaidAmount.IsZero())
	require.Equal(t, StatusIssued, after.invoices[inv.ID].Status)
	require.False(t, f.guard.has("k-1"), "key released after failure")

	f.repo.failSummary = nil
	_, err = f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &inv.ID, AmountPaid: dec("300"), Method: MethodCash, IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &inv.ID, AmountPaid: dec("300"), Method: MethodCash, IdempotencyKey: "k-1",
	})
	require.ErrorIs(t, err, ErrDuplicatePayment)
	require.True(t, f.repo.snapshot().invoices[inv.ID].PaidAmount.Equal(dec("300")))
}

func TestPaymentValidation(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")
	other := f.addStudent("Bala", "500")
	res := f.generate(t, 3, 2024)
	var invA uuid.UUID
	for _, inv := range res.Invoices {
		if inv.StudentID == student.ID {
			invA = inv.ID
		}
	}

	base := RecordPaymentInput{CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &invA, AmountPaid: dec("10"), Method: MethodCash}

	in := base
	in.AmountPaid = decimal.Zero
	_, err := f.svc.RecordPayment(context.Background(), adminCaps, in)
	require.ErrorIs(t, err, ErrValidation)

	in = base
	in.Method = "barter"
	_, err = f.svc.RecordPayment(context.Background(), adminCaps, in)
	require.ErrorIs(t, err, ErrValidation)

	in = base
	in.StudentID = other.ID
	_, err = f.svc.RecordPayment(context.Background(), adminCaps, in)
	require.ErrorIs(t, err, ErrValidation)

	in = base
	missing := uuid.New()
	in.InvoiceID = &missing
	_, err = f.svc.RecordPayment(context.Background(), adminCaps, in)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = f.svc.RecordPayment(context.Background(), rbac.Defaults(rbac.RoleParent), base)
	require.ErrorIs(t, err, ErrForbidden)

	require.Empty(t, f.repo.snapshot().payments)
}

func TestOverPaymentKeptAndFlagged(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")
	inv := f.generate(t, 3, 2024).Invoices[0]

	f.pay(t, student, inv.ID, "1200")
	got := f.repo.snapshot().invoices[inv.ID]
	require.True(t, got.PaidAmount.Equal(dec("1200")))
	require.Equal(t, StatusPaid, got.Status)
	require.True(t, got.Balance().IsZero())
	require.Equal(t, 1, f.metrics.overpaid)
}

func TestConcurrentPaymentsSerialise(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")
	inv := f.generate(t, 3, 2024).Invoices[0]

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
				CenterID: f.center.ID, StudentID: student.ID, InvoiceID: &inv.ID, AmountPaid: dec("100"), Method: MethodCard,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	state := f.repo.snapshot()
	require.True(t, state.invoices[inv.ID].PaidAmount.Equal(dec("1000")))
	require.Equal(t, StatusPaid, state.invoices[inv.ID].Status)
	require.Len(t, state.payments, 10)
}

func TestPaymentUpdatesBothSummaries(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	student := f.addStudent("Asha", "1000")
	inv := f.generate(t, 3, 2024).Invoices[0]

	f.now = time.Date(2024, time.April, 2, 0, 0, 0, 0, time.UTC)
	f.pay(t, student, inv.ID, "400")

	march, err := f.svc.Summary(context.Background(), adminCaps, f.center.ID, Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.True(t, march.TotalInvoiced.Equal(dec("1000")))
	require.True(t, march.TotalOutstanding.Equal(dec("600")))
	require.True(t, march.TotalCollected.IsZero())

	april, err := f.svc.Summary(context.Background(), adminCaps, f.center.ID, Period{Month: 4, Year: 2024})
	require.NoError(t, err)
	require.True(t, april.TotalCollected.Equal(dec("400")))
	require.True(t, april.NetIncome.Equal(dec("400")))
}

func TestCancelInvoice(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	a := f.addStudent("Asha", "1000")
	f.addStudent("Bala", "500")
	res := f.generate(t, 3, 2024)
	var paidInv, openInv Invoice
	for _, inv := range res.Invoices {
		if inv.StudentID == a.ID {
			paidInv = inv
		} else {
			openInv = inv
		}
	}
	f.pay(t, a, paidInv.ID, "10")

	_, err := f.svc.CancelInvoice(context.Background(), adminCaps, uuid.Nil, paidInv.ID)
	require.ErrorIs(t, err, ErrInvoiceHasPayments)

	_, err = f.svc.CancelInvoice(context.Background(), adminCaps, uuid.New(), openInv.ID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	cancelled, err := f.svc.CancelInvoice(context.Background(), adminCaps, f.center.ID, openInv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = f.svc.CancelInvoice(context.Background(), adminCaps, uuid.Nil, openInv.ID)
	require.ErrorIs(t, err, ErrInvoiceCancelled)

	_, err = f.svc.RecordPayment(context.Background(), adminCaps, RecordPaymentInput{
		CenterID: f.center.ID, StudentID: openInv.StudentID, InvoiceID: &openInv.ID, AmountPaid: dec("5"), Method: MethodCash,
	})
	require.ErrorIs(t, err, ErrInvoiceCancelled)

	state := f.repo.snapshot()
	reversal := 0
	for _, e := range state.ledger {
		if e.ReferenceType == RefInvoiceCancellation {
			reversal++
		}
	}
	require.Equal(t, 2, reversal)
	requireBalancedEvents(t, state.ledger)

	sum, err := f.svc.Summary(context.Background(), adminCaps, f.center.ID, Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.True(t, sum.TotalInvoiced.Equal(dec("1000")))
}

func TestExpenses(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	centerCaps := rbac.Defaults(rbac.RoleCenter)

	pending, err := f.svc.RecordExpense(context.Background(), centerCaps, RecordExpenseInput{
		CenterID: f.center.ID, Category: "Rent", Amount: dec("300"), Method: MethodBankTransfer,
	})
	require.NoError(t, err)
	require.False(t, pending.Approved)
	require.Empty(t, f.repo.snapshot().ledger)

	_, err = f.svc.RecordExpense(context.Background(), centerCaps, RecordExpenseInput{
		CenterID: f.center.ID, Category: "Rent", Amount: dec("300"), Approved: true,
	})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.ApproveExpense(context.Background(), centerCaps, f.center.ID, pending.ID)
	require.ErrorIs(t, err, ErrForbidden)

	approved, err := f.svc.ApproveExpense(context.Background(), adminCaps, uuid.Nil, pending.ID)
	require.NoError(t, err)
	require.True(t, approved.Approved)
	_, err = f.svc.ApproveExpense(context.Background(), adminCaps, uuid.Nil, pending.ID)
	require.ErrorIs(t, err, ErrExpenseApproved)

	_, err = f.svc.RecordExpense(context.Background(), adminCaps, RecordExpenseInput{
		CenterID: f.center.ID, Category: "Supplies", Amount: dec("50"), Approved: true,
	})
	require.NoError(t, err)

	state := f.repo.snapshot()
	require.Len(t, state.ledger, 4)
	require.Equal(t, "5000", state.ledger[0].AccountCode)
	require.Equal(t, "1010", state.ledger[1].AccountCode)
	require.Equal(t, "1000", state.ledger[3].AccountCode)

	sum, err := f.svc.Summary(context.Background(), adminCaps, f.center.ID, Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.True(t, sum.TotalExpenses.Equal(dec("350")))
	require.True(t, sum.NetIncome.Equal(dec("-350")))
}

func TestRefreshStatuses(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	a := f.addStudent("Asha", "1000")
	f.addStudent("Bala", "500")
	res := f.generate(t, 3, 2024)
	for _, inv := range res.Invoices {
		if inv.StudentID == a.ID {
			f.pay(t, a, inv.ID, "100")
		}
	}

	f.now = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	out, err := f.svc.RefreshStatuses(context.Background(), adminCaps, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, RefreshResult{Scanned: 2, Updated: 1}, out)

	views, err := f.svc.ListInvoices(context.Background(), adminCaps, InvoiceFilter{CenterID: f.center.ID, Status: StatusOverdue})
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, 31, views[0].DaysOverdue)

	out, err = f.svc.RefreshStatuses(context.Background(), adminCaps, f.center.ID)
	require.NoError(t, err)
	require.Equal(t, 0, out.Updated)
}

func TestGetInvoiceAndPeriodReport(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	a := f.addStudent("Asha", "600", "400")
	inv := f.generate(t, 3, 2024).Invoices[0]
	f.pay(t, a, inv.ID, "250")

	view, err := f.svc.GetInvoice(context.Background(), adminCaps, f.center.ID, inv.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	require.Len(t, view.Payments, 1)
	require.True(t, view.Balance.Equal(dec("750")))

	_, err = f.svc.GetInvoice(context.Background(), adminCaps, uuid.New(), inv.ID)
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	report, err := f.svc.PeriodReport(context.Background(), adminCaps, f.center.ID, Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.Len(t, report.Invoices, 1)
	require.Len(t, report.Payments, 1)
	require.Len(t, report.Ledger, 4)
	require.True(t, report.Summary.TotalCollected.Equal(dec("250")))

	_, err = f.svc.PeriodReport(context.Background(), rbac.Defaults(rbac.RoleParent), f.center.ID, Period{Month: 3, Year: 2024})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestListingsCoverLargePeriods(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC))
	for i := 0; i < 510; i++ {
		f.addStudent(fmt.Sprintf("Student %03d", i), "100")
	}
	res := f.generate(t, 3, 2024)
	require.Equal(t, 510, res.InvoicesGenerated)
	last := res.Invoices[len(res.Invoices)-1]
	require.Equal(t, "INV-C1-202403-0510", last.InvoiceNumber)
	f.pay(t, fees.Student{ID: last.StudentID}, last.ID, "40")

	ctx := context.Background()
	partial, err := f.svc.ListInvoices(ctx, adminCaps, InvoiceFilter{CenterID: f.center.ID, Status: StatusPartial})
	require.NoError(t, err)
	require.Len(t, partial, 1)
	require.Equal(t, last.ID, partial[0].ID)

	page, err := f.svc.ListInvoices(ctx, adminCaps, InvoiceFilter{CenterID: f.center.ID})
	require.NoError(t, err)
	require.Len(t, page, 500)

	report, err := f.svc.PeriodReport(ctx, adminCaps, f.center.ID, Period{Month: 3, Year: 2024})
	require.NoError(t, err)
	require.Len(t, report.Invoices, 510)

	// Persisted statuses are still issued; the filter sees them as overdue.
	f.now = time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC)
	overdue, err := f.svc.ListInvoices(ctx, adminCaps, InvoiceFilter{CenterID: f.center.ID, Status: StatusOverdue, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, overdue, 500)
	issued, err := f.svc.ListInvoices(ctx, adminCaps, InvoiceFilter{CenterID: f.center.ID, Status: StatusIssued})
	require.NoError(t, err)
	require.Empty(t, issued)
}
