package finance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	"github.com/ssmspro2025/tms-sub000/internal/shared"
)

type summaryID struct {
	center uuid.UUID
	period Period
}

type memoryState struct {
	centers     map[uuid.UUID]Center
	students    map[uuid.UUID]fees.Student
	assignments []fees.StudentFeeAssignment
	invoices    map[uuid.UUID]Invoice
	items       map[uuid.UUID][]InvoiceItem
	payments    []Payment
	expenses    map[uuid.UUID]Expense
	ledger      []LedgerEntry
	summaries   map[summaryID]FinancialSummary
}

func newMemoryState() *memoryState {
	return &memoryState{
		centers:   make(map[uuid.UUID]Center),
		students:  make(map[uuid.UUID]fees.Student),
		invoices:  make(map[uuid.UUID]Invoice),
		items:     make(map[uuid.UUID][]InvoiceItem),
		expenses:  make(map[uuid.UUID]Expense),
		summaries: make(map[summaryID]FinancialSummary),
	}
}

func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	for k, v := range s.centers {
		out.centers[k] = v
	}
	for k, v := range s.students {
		out.students[k] = v
	}
	out.assignments = append([]fees.StudentFeeAssignment(nil), s.assignments...)
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.items {
		out.items[k] = append([]InvoiceItem(nil), v...)
	}
	out.payments = append([]Payment(nil), s.payments...)
	for k, v := range s.expenses {
		out.expenses[k] = v
	}
	out.ledger = append([]LedgerEntry(nil), s.ledger...)
	for k, v := range s.summaries {
		out.summaries[k] = v
	}
	return out
}

// memoryRepo is a transactional in-memory store. Transactions run one at a time
// against a copy that replaces the committed state only on success.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState

	failInvoiceFor map[uuid.UUID]error
	failLedgerFor  map[string]error
	failSummary    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state:          newMemoryState(),
		failInvoiceFor: make(map[uuid.UUID]error),
		failLedgerFor:  make(map[string]error),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{repo: r, state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) snapshot() *memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *memoryRepo) GetCenter(_ context.Context, id uuid.UUID) (Center, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.state.centers[id]
	if !ok {
		return Center{}, ErrCenterNotFound
	}
	return c, nil
}

func (r *memoryRepo) ListCenters(_ context.Context) ([]Center, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Center
	for _, c := range r.state.centers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id uuid.UUID) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoiceItems(_ context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]InvoiceItem(nil), r.state.items[invoiceID]...), nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Invoice
	for _, inv := range r.state.invoices {
		if filter.CenterID != uuid.Nil && inv.CenterID != filter.CenterID {
			continue
		}
		if filter.StudentID != uuid.Nil && inv.StudentID != filter.StudentID {
			continue
		}
		if filter.Period != (Period{}) && inv.Period() != filter.Period {
			continue
		}
		if filter.Status != "" {
			status := inv.Status
			if !filter.AsOf.IsZero() {
				status = ResolveStatus(inv, filter.AsOf)
			}
			if status != filter.Status {
				continue
			}
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	d := dateOnly(t)
	if !from.IsZero() && d.Before(dateOnly(from)) {
		return false
	}
	if !to.IsZero() && d.After(dateOnly(to)) {
		return false
	}
	return true
}

func (r *memoryRepo) ListPayments(_ context.Context, filter PaymentFilter) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.state.payments {
		if filter.CenterID != uuid.Nil && p.CenterID != filter.CenterID {
			continue
		}
		if filter.StudentID != uuid.Nil && p.StudentID != filter.StudentID {
			continue
		}
		if filter.InvoiceID != uuid.Nil && (p.InvoiceID == nil || *p.InvoiceID != filter.InvoiceID) {
			continue
		}
		if !inRange(p.PaymentDate, filter.From, filter.To) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *memoryRepo) ListLedgerEntries(_ context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.state.ledger {
		if filter.CenterID != uuid.Nil && e.CenterID != filter.CenterID {
			continue
		}
		if filter.ReferenceType != "" && e.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != uuid.Nil && e.ReferenceID != filter.ReferenceID {
			continue
		}
		if !inRange(e.EntryDate, filter.From, filter.To) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *memoryRepo) ListExpenses(_ context.Context, filter ExpenseFilter) ([]Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Expense
	for _, e := range r.state.expenses {
		if filter.CenterID != uuid.Nil && e.CenterID != filter.CenterID {
			continue
		}
		if !inRange(e.ExpenseDate, filter.From, filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpenseDate.Before(out[j].ExpenseDate) })
	return out, nil
}

func (r *memoryRepo) GetSummary(_ context.Context, centerID uuid.UUID, period Period) (FinancialSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sum, ok := r.state.summaries[summaryID{centerID, period}]; ok {
		return sum, nil
	}
	return FinancialSummary{CenterID: centerID, Month: period.Month, Year: period.Year}, nil
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func (t *memoryTx) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := t.state.clone()
	if err := fn(ctx, t); err != nil {
		*t.state = *snap
		return err
	}
	return nil
}

func (t *memoryTx) LockPeriod(context.Context, string) error { return nil }

func (t *memoryTx) CountPeriodInvoices(_ context.Context, centerID uuid.UUID, period Period) (int, error) {
	n := 0
	for _, inv := range t.state.invoices {
		if inv.CenterID == centerID && inv.Period() == period {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) GetCenter(_ context.Context, id uuid.UUID) (Center, error) {
	c, ok := t.state.centers[id]
	if !ok {
		return Center{}, ErrCenterNotFound
	}
	return c, nil
}

func (t *memoryTx) GetStudent(_ context.Context, id uuid.UUID) (fees.Student, error) {
	s, ok := t.state.students[id]
	if !ok {
		return fees.Student{}, fees.ErrStudentNotFound
	}
	return s, nil
}

func (t *memoryTx) ListActiveStudents(_ context.Context, centerID uuid.UUID) ([]fees.Student, error) {
	var out []fees.Student
	for _, s := range t.state.students {
		if s.CenterID == centerID && s.IsActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (t *memoryTx) ListActiveAssignments(_ context.Context, studentID uuid.UUID, academicYear string) ([]fees.StudentFeeAssignment, error) {
	var out []fees.StudentFeeAssignment
	for _, a := range t.state.assignments {
		if a.IsActive && a.StudentID == studentID && a.AcademicYear == academicYear {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv Invoice, items []InvoiceItem) (Invoice, []InvoiceItem, error) {
	if err := t.repo.failInvoiceFor[inv.StudentID]; err != nil {
		return Invoice{}, nil, err
	}
	for _, existing := range t.state.invoices {
		if existing.CenterID == inv.CenterID && existing.StudentID == inv.StudentID && existing.Period() == inv.Period() {
			return Invoice{}, nil, ErrPeriodInvoiced
		}
		if existing.CenterID == inv.CenterID && existing.InvoiceNumber == inv.InvoiceNumber {
			return Invoice{}, nil, errors.New("duplicate invoice number " + inv.InvoiceNumber)
		}
	}
	t.state.invoices[inv.ID] = inv
	t.state.items[inv.ID] = append([]InvoiceItem(nil), items...)
	return inv, items, nil
}

func (t *memoryTx) LockInvoice(_ context.Context, id uuid.UUID) (Invoice, error) {
	inv, ok := t.state.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (t *memoryTx) UpdateInvoice(_ context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error {
	inv, ok := t.state.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.PaidAmount, inv.Status, inv.UpdatedAt = paid, status, at
	t.state.invoices[id] = inv
	return nil
}

func (t *memoryTx) CountInvoicePayments(_ context.Context, invoiceID uuid.UUID) (int, error) {
	n := 0
	for _, p := range t.state.payments {
		if p.InvoiceID != nil && *p.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) ListOpenInvoices(_ context.Context, centerID uuid.UUID) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range t.state.invoices {
		if inv.Status.Open() && (centerID == uuid.Nil || inv.CenterID == centerID) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	t.state.payments = append(t.state.payments, p)
	return p, nil
}

func (t *memoryTx) InsertExpense(_ context.Context, e Expense) (Expense, error) {
	t.state.expenses[e.ID] = e
	return e, nil
}

func (t *memoryTx) LockExpense(_ context.Context, id uuid.UUID) (Expense, error) {
	e, ok := t.state.expenses[id]
	if !ok {
		return Expense{}, ErrExpenseNotFound
	}
	return e, nil
}

func (t *memoryTx) MarkExpenseApproved(_ context.Context, id uuid.UUID, at time.Time) error {
	e := t.state.expenses[id]
	e.Approved, e.ApprovedAt = true, &at
	t.state.expenses[id] = e
	return nil
}

func (t *memoryTx) InsertLedgerEntries(_ context.Context, entries []LedgerEntry) error {
	for _, e := range entries {
		if err := t.repo.failLedgerFor[e.ReferenceType]; err != nil {
			return err
		}
	}
	for _, e := range entries {
		e.ID = uuid.New()
		t.state.ledger = append(t.state.ledger, e)
	}
	return nil
}

func (t *memoryTx) RecomputeSummary(_ context.Context, centerID uuid.UUID, period Period, at time.Time) (FinancialSummary, error) {
	if t.repo.failSummary != nil {
		return FinancialSummary{}, t.repo.failSummary
	}
	invoices := make([]Invoice, 0, len(t.state.invoices))
	for _, inv := range t.state.invoices {
		invoices = append(invoices, inv)
	}
	expenses := make([]Expense, 0, len(t.state.expenses))
	for _, e := range t.state.expenses {
		expenses = append(expenses, e)
	}
	sum := computeSummary(centerID, period, invoices, t.state.payments, expenses, at)
	t.state.summaries[summaryID{centerID, period}] = sum
	return sum, nil
}

// memoryGuard mimics the idempotency key table.
type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{keys: make(map[string]struct{})}
}

func (g *memoryGuard) CheckAndInsert(_ context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.keys[module+"|"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	g.keys[module+"|"+key] = struct{}{}
	return nil
}

func (g *memoryGuard) Delete(_ context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, module+"|"+key)
	return nil
}

func (g *memoryGuard) has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[PaymentIdempotencyModule+"|"+key]
	return ok
}

type countingMetrics struct {
	mu                            sync.Mutex
	generated, skipped, failed    int
	payments, overpaid, refreshed int
}

func (m *countingMetrics) InvoicesGenerated(n int) { m.mu.Lock(); m.generated += n; m.mu.Unlock() }
func (m *countingMetrics) GenerationSkipped()      { m.mu.Lock(); m.skipped++; m.mu.Unlock() }
func (m *countingMetrics) GenerationFailed(n int)  { m.mu.Lock(); m.failed += n; m.mu.Unlock() }
func (m *countingMetrics) PaymentRecorded(string, float64) {
	m.mu.Lock()
	m.payments++
	m.mu.Unlock()
}
func (m *countingMetrics) OverPayment()          { m.mu.Lock(); m.overpaid++; m.mu.Unlock() }
func (m *countingMetrics) StatusesUpdated(n int) { m.mu.Lock(); m.refreshed += n; m.mu.Unlock() }

// computeSummary mirrors the SQL rollup of RecomputeSummary. Invoiced and
// outstanding cover non-cancelled invoices of the period; collected covers
// payments dated in the period; expenses cover approved expenses dated in it.
func computeSummary(centerID uuid.UUID, period Period, invoices []Invoice, payments []Payment, expenses []Expense, at time.Time) FinancialSummary {
	sum := FinancialSummary{CenterID: centerID, Month: period.Month, Year: period.Year, UpdatedAt: at}
	from, to := period.Start(), period.End()
	inPeriod := func(t time.Time) bool {
		d := dateOnly(t)
		return !d.Before(from) && !d.After(to)
	}
	for _, inv := range invoices {
		if inv.CenterID != centerID || inv.Period() != period || inv.Status == StatusCancelled {
			continue
		}
		sum.TotalInvoiced = sum.TotalInvoiced.Add(inv.TotalAmount)
		sum.TotalOutstanding = sum.TotalOutstanding.Add(inv.Balance())
	}
	for _, p := range payments {
		if p.CenterID == centerID && inPeriod(p.PaymentDate) {
			sum.TotalCollected = sum.TotalCollected.Add(p.AmountPaid)
		}
	}
	for _, e := range expenses {
		if e.CenterID == centerID && e.Approved && inPeriod(e.ExpenseDate) {
			sum.TotalExpenses = sum.TotalExpenses.Add(e.Amount)
		}
	}
	sum.NetIncome = sum.TotalCollected.Sub(sum.TotalExpenses)
	return sum
}
