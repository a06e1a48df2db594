package finance

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// CancelInvoice voids an invoice that has not received any money. The revenue it
// recognised is reversed with an offsetting posting; nothing is deleted. A
// non-nil scope restricts the call to invoices of that center.
func (s *Service) CancelInvoice(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (Invoice, error) {
	if !caps.Has(rbac.CapInvoicesCancel) {
		return Invoice{}, ErrForbidden
	}
	if id == uuid.Nil {
		return Invoice{}, validationError("invoice id is required")
	}
	at := s.now()
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if inv, err = tx.LockInvoice(ctx, id); err != nil {
			return err
		}
		if !inScope(scope, inv.CenterID) {
			return ErrInvoiceNotFound
		}
		if inv.Status == StatusCancelled {
			return ErrInvoiceCancelled
		}
		if inv.PaidAmount.IsPositive() {
			return ErrInvoiceHasPayments
		}
		count, err := tx.CountInvoicePayments(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrInvoiceHasPayments
		}
		if err := tx.UpdateInvoice(ctx, id, inv.PaidAmount, StatusCancelled, at); err != nil {
			return err
		}
		inv.Status, inv.UpdatedAt = StatusCancelled, at
		if inv.TotalAmount.IsPositive() {
			if err := post(ctx, tx, s.chart.CancellationPosting(inv, dateOnly(at.UTC())), at); err != nil {
				return err
			}
		}
		_, err = tx.RecomputeSummary(ctx, inv.CenterID, inv.Period(), at)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.invalidate(ctx, inv.CenterID, inv.Period())
	s.logger.Info("invoice cancelled", slog.String("invoice_id", inv.ID.String()), slog.String("invoice_number", inv.InvoiceNumber))
	return inv, nil
}

// RefreshStatuses rewrites the persisted status of open invoices to the status
// derived for today. A nil center refreshes every center.
func (s *Service) RefreshStatuses(ctx context.Context, caps rbac.Set, centerID uuid.UUID) (RefreshResult, error) {
	if !caps.HasAny(rbac.CapInvoicesGenerate, rbac.CapPaymentsRecord) {
		return RefreshResult{}, ErrForbidden
	}
	at := s.now()
	today := dateOnly(at.UTC())
	var result RefreshResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = RefreshResult{}
		open, err := tx.ListOpenInvoices(ctx, centerID)
		if err != nil {
			return err
		}
		result.Scanned = len(open)
		for _, inv := range open {
			status := ResolveStatus(inv, today)
			if status == inv.Status {
				continue
			}
			if err := tx.UpdateInvoice(ctx, inv.ID, inv.PaidAmount, status, at); err != nil {
				return err
			}
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	s.metrics.StatusesUpdated(result.Updated)
	s.logger.Info("invoice statuses refreshed", slog.Int("scanned", result.Scanned), slog.Int("updated", result.Updated))
	return result, nil
}
