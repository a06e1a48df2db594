package finance

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
	"github.com/ssmspro2025/tms-sub000/internal/shared"
)

// PaymentIdempotencyModule scopes payment idempotency keys.
const PaymentIdempotencyModule = "finance.payment"

// RecordPayment stores a payment and, when it targets an invoice, applies it
// under a row lock. The payment row, invoice update, ledger pair and summaries
// commit together or not at all. Over-payment is kept as recorded and flagged.
func (s *Service) RecordPayment(ctx context.Context, caps rbac.Set, in RecordPaymentInput) (Payment, error) {
	if !caps.Has(rbac.CapPaymentsRecord) {
		return Payment{}, ErrForbidden
	}
	if in.CenterID == uuid.Nil || in.StudentID == uuid.Nil {
		return Payment{}, validationError("center_id and student_id are required")
	}
	amount := in.AmountPaid.Round(2)
	if !amount.IsPositive() {
		return Payment{}, validationError("amount_paid must be greater than zero")
	}
	method, err := ParsePaymentMethod(string(in.Method))
	if err != nil {
		return Payment{}, err
	}
	if in.InvoiceID != nil && *in.InvoiceID == uuid.Nil {
		in.InvoiceID = nil
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, PaymentIdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Payment{}, ErrDuplicatePayment
			}
			return Payment{}, err
		}
	}

	at := s.now()
	today := dateOnly(at.UTC())
	periods := []Period{PeriodOf(today)}
	var (
		payment  Payment
		invoice  Invoice
		overpaid bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		student, err := tx.GetStudent(ctx, in.StudentID)
		if err != nil {
			return err
		}
		if student.CenterID != in.CenterID {
			return validationError("student does not belong to center")
		}
		if in.InvoiceID != nil {
			invoice, err = tx.LockInvoice(ctx, *in.InvoiceID)
			if err != nil {
				return err
			}
			if invoice.CenterID != in.CenterID || invoice.StudentID != in.StudentID {
				return validationError("invoice does not belong to the student")
			}
			if invoice.Status == StatusCancelled {
				return ErrInvoiceCancelled
			}
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			ID:              uuid.New(),
			CenterID:        in.CenterID,
			StudentID:       in.StudentID,
			InvoiceID:       in.InvoiceID,
			AmountPaid:      amount,
			Method:          method,
			PaymentDate:     today,
			ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
			Notes:           strings.TrimSpace(in.Notes),
			CreatedAt:       at,
		})
		if err != nil {
			return err
		}
		if in.InvoiceID != nil {
			newPaid := invoice.PaidAmount.Add(amount)
			status := InvoiceStatus(invoice.TotalAmount, newPaid, invoice.DueDate, today)
			if err := tx.UpdateInvoice(ctx, invoice.ID, newPaid, status, at); err != nil {
				return err
			}
			overpaid = newPaid.GreaterThan(invoice.TotalAmount)
			invoice.PaidAmount, invoice.Status = newPaid, status
			if p := invoice.Period(); p != periods[0] {
				periods = append(periods, p)
			}
		}
		if err := post(ctx, tx, s.chart.PaymentPosting(payment), at); err != nil {
			return err
		}
		for _, p := range periods {
			if _, err := tx.RecomputeSummary(ctx, in.CenterID, p, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if key != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), key, PaymentIdempotencyModule); derr != nil {
				s.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return Payment{}, err
	}

	s.invalidate(ctx, in.CenterID, periods...)
	s.metrics.PaymentRecorded(string(method), amount.InexactFloat64())
	if overpaid {
		s.metrics.OverPayment()
		s.logger.Warn("invoice over-paid",
			slog.String("invoice_id", invoice.ID.String()),
			slog.String("invoice_number", invoice.InvoiceNumber),
			slog.String("total", invoice.TotalAmount.StringFixed(2)),
			slog.String("paid", invoice.PaidAmount.StringFixed(2)))
	}
	s.logger.Info("payment recorded",
		slog.String("payment_id", payment.ID.String()),
		slog.String("center_id", payment.CenterID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("method", string(method)))
	return payment, nil
}
