package finance

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

const defaultListLimit = 500

// inScope reports whether a record of centerID is visible under scope. A nil
// scope sees every center.
func inScope(scope, centerID uuid.UUID) bool {
	return scope == uuid.Nil || scope == centerID
}

func canView(caps rbac.Set) bool {
	return caps.HasAny(rbac.CapFinanceView, rbac.CapPaymentsRecord, rbac.CapInvoicesGenerate)
}

// ListInvoices returns invoice views as of today. The status filter applies to
// the effective status, not the persisted one.
func (s *Service) ListInvoices(ctx context.Context, caps rbac.Set, filter InvoiceFilter) ([]InvoiceView, error) {
	if !canView(caps) {
		return nil, ErrForbidden
	}
	if filter.Period != (Period{}) {
		if err := filter.Period.Validate(); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}
	return s.invoiceViews(ctx, filter)
}

// invoiceViews lists invoices without a row cap unless filter.Limit is set.
func (s *Service) invoiceViews(ctx context.Context, filter InvoiceFilter) ([]InvoiceView, error) {
	today := s.today()
	if filter.Status != "" {
		filter.AsOf = today
	}
	invoices, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, View(inv, today))
	}
	return out, nil
}

// GetInvoice returns one invoice with its items and payments.
func (s *Service) GetInvoice(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (InvoiceView, error) {
	if !canView(caps) {
		return InvoiceView{}, ErrForbidden
	}
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceView{}, err
	}
	if !inScope(scope, inv.CenterID) {
		return InvoiceView{}, ErrInvoiceNotFound
	}
	v := View(inv, s.today())
	if v.Items, err = s.repo.ListInvoiceItems(ctx, id); err != nil {
		return InvoiceView{}, err
	}
	if v.Payments, err = s.repo.ListPayments(ctx, PaymentFilter{InvoiceID: id}); err != nil {
		return InvoiceView{}, err
	}
	return v, nil
}

// ListPayments returns recorded payments.
func (s *Service) ListPayments(ctx context.Context, caps rbac.Set, filter PaymentFilter) ([]Payment, error) {
	if !canView(caps) {
		return nil, ErrForbidden
	}
	return s.repo.ListPayments(ctx, filter)
}

// ListLedger returns ledger entries in posting order.
func (s *Service) ListLedger(ctx context.Context, caps rbac.Set, filter LedgerFilter) ([]LedgerEntry, error) {
	if !canView(caps) {
		return nil, ErrForbidden
	}
	return s.repo.ListLedgerEntries(ctx, filter)
}

// ListExpenses returns expenses, approved or not.
func (s *Service) ListExpenses(ctx context.Context, caps rbac.Set, filter ExpenseFilter) ([]Expense, error) {
	if !caps.HasAny(rbac.CapFinanceView, rbac.CapExpensesRecord, rbac.CapExpensesApprove) {
		return nil, ErrForbidden
	}
	return s.repo.ListExpenses(ctx, filter)
}

// Summary returns the cached financial summary of a center's month.
func (s *Service) Summary(ctx context.Context, caps rbac.Set, centerID uuid.UUID, period Period) (FinancialSummary, error) {
	if !canView(caps) {
		return FinancialSummary{}, ErrForbidden
	}
	if centerID == uuid.Nil {
		return FinancialSummary{}, validationError("center_id is required")
	}
	if err := period.Validate(); err != nil {
		return FinancialSummary{}, err
	}
	loader := func(ctx context.Context) (FinancialSummary, error) {
		return s.repo.GetSummary(ctx, centerID, period)
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.Fetch(ctx, centerID, period, loader)
}

// PeriodReport assembles everything recorded for a center's month.
func (s *Service) PeriodReport(ctx context.Context, caps rbac.Set, centerID uuid.UUID, period Period) (PeriodReport, error) {
	if !canView(caps) {
		return PeriodReport{}, ErrForbidden
	}
	if centerID == uuid.Nil {
		return PeriodReport{}, validationError("center_id is required")
	}
	if err := period.Validate(); err != nil {
		return PeriodReport{}, err
	}
	report := PeriodReport{CenterID: centerID, Period: period, AsOf: s.today()}
	from, to := period.Start(), period.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Summary, err = s.Summary(gctx, caps, centerID, period)
		return err
	})
	g.Go(func() error {
		var err error
		report.Invoices, err = s.invoiceViews(gctx, InvoiceFilter{CenterID: centerID, Period: period})
		return err
	})
	g.Go(func() error {
		var err error
		report.Payments, err = s.repo.ListPayments(gctx, PaymentFilter{CenterID: centerID, From: from, To: to})
		return err
	})
	g.Go(func() error {
		var err error
		report.Expenses, err = s.repo.ListExpenses(gctx, ExpenseFilter{CenterID: centerID, From: from, To: to})
		return err
	})
	g.Go(func() error {
		var err error
		report.Ledger, err = s.repo.ListLedgerEntries(gctx, LedgerFilter{CenterID: centerID, From: from, To: to})
		return err
	})
	if err := g.Wait(); err != nil {
		return PeriodReport{}, err
	}
	return report, nil
}

// Centers lists every billing center.
func (s *Service) Centers(ctx context.Context) ([]Center, error) {
	return s.repo.ListCenters(ctx)
}
