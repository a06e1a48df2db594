package finance

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// RecordExpense stores an expense. Expenses recorded as approved are posted to
// the ledger immediately; others wait for ApproveExpense.
func (s *Service) RecordExpense(ctx context.Context, caps rbac.Set, in RecordExpenseInput) (Expense, error) {
	if !caps.Has(rbac.CapExpensesRecord) {
		return Expense{}, ErrForbidden
	}
	if in.Approved && !caps.Has(rbac.CapExpensesApprove) {
		return Expense{}, ErrForbidden
	}
	if in.CenterID == uuid.Nil {
		return Expense{}, validationError("center_id is required")
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return Expense{}, validationError("category is required")
	}
	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return Expense{}, validationError("amount must be greater than zero")
	}
	method := MethodCash
	if in.Method != "" {
		var err error
		if method, err = ParsePaymentMethod(string(in.Method)); err != nil {
			return Expense{}, err
		}
	}
	at := s.now()
	expenseDate := dateOnly(at.UTC())
	if !in.ExpenseDate.IsZero() {
		expenseDate = dateOnly(in.ExpenseDate)
	}

	var out Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCenter(ctx, in.CenterID); err != nil {
			return err
		}
		e := Expense{
			ID:          uuid.New(),
			CenterID:    in.CenterID,
			Category:    category,
			Description: strings.TrimSpace(in.Description),
			Amount:      amount,
			ExpenseDate: expenseDate,
			Method:      method,
			Approved:    in.Approved,
			CreatedAt:   at,
		}
		if in.Approved {
			e.ApprovedAt = &at
		}
		var err error
		if out, err = tx.InsertExpense(ctx, e); err != nil {
			return err
		}
		if !out.Approved {
			return nil
		}
		if err := post(ctx, tx, s.chart.ExpensePosting(out), at); err != nil {
			return err
		}
		_, err = tx.RecomputeSummary(ctx, out.CenterID, PeriodOf(out.ExpenseDate), at)
		return err
	})
	if err != nil {
		return Expense{}, err
	}
	if out.Approved {
		s.invalidate(ctx, out.CenterID, PeriodOf(out.ExpenseDate))
	}
	s.logger.Info("expense recorded", slog.String("expense_id", out.ID.String()), slog.Bool("approved", out.Approved))
	return out, nil
}

// ApproveExpense approves a pending expense and posts it.
func (s *Service) ApproveExpense(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (Expense, error) {
	if !caps.Has(rbac.CapExpensesApprove) {
		return Expense{}, ErrForbidden
	}
	if id == uuid.Nil {
		return Expense{}, validationError("expense id is required")
	}
	at := s.now()
	var out Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.LockExpense(ctx, id)
		if err != nil {
			return err
		}
		if !inScope(scope, e.CenterID) {
			return ErrExpenseNotFound
		}
		if e.Approved {
			return ErrExpenseApproved
		}
		if err := tx.MarkExpenseApproved(ctx, id, at); err != nil {
			return err
		}
		e.Approved, e.ApprovedAt = true, &at
		if err := post(ctx, tx, s.chart.ExpensePosting(e), at); err != nil {
			return err
		}
		if _, err := tx.RecomputeSummary(ctx, e.CenterID, PeriodOf(e.ExpenseDate), at); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Expense{}, err
	}
	s.invalidate(ctx, out.CenterID, PeriodOf(out.ExpenseDate))
	s.logger.Info("expense approved", slog.String("expense_id", out.ID.String()))
	return out, nil
}
