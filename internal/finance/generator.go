package finance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
	"github.com/ssmspro2025/tms-sub000/internal/shared"
)

// AlreadyExistsMessage accompanies a generation run that found the period billed.
const AlreadyExistsMessage = "skipped, invoices already exist"

// errPeriodRace aborts a run whose insert collided with invoices committed by a
// concurrent run for the same period.
var errPeriodRace = errors.New("finance: period invoiced concurrently")

func (in GenerateInput) validate() error {
	if in.CenterID == uuid.Nil {
		return validationError("center_id is required")
	}
	if err := (Period{Month: in.Month, Year: in.Year}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(in.AcademicYear) == "" {
		return validationError("academic_year is required")
	}
	if in.DueInDays < 0 {
		return validationError("due_in_days must not be negative")
	}
	if in.LateFeePerDay.IsNegative() {
		return validationError("late_fee_per_day must not be negative")
	}
	return nil
}

// GenerateMonthlyInvoices bills every active student of a center for one month.
// A period is billed at most once: a second run reports AlreadyExists and
// writes nothing. Students without billable assignments are skipped; a student
// whose invoice fails is rolled back alone and reported in Failures.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context, caps rbac.Set, in GenerateInput) (GenerateResult, error) {
	if !caps.Has(rbac.CapInvoicesGenerate) {
		return GenerateResult{}, ErrForbidden
	}
	in.AcademicYear = strings.TrimSpace(in.AcademicYear)
	if err := in.validate(); err != nil {
		return GenerateResult{}, err
	}
	period := Period{Month: in.Month, Year: in.Year}
	at := s.now()
	logger := s.logger.With(slog.String("center_id", in.CenterID.String()), slog.String("period", period.String()))

	var result GenerateResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = GenerateResult{Invoices: []Invoice{}}
		if err := tx.LockPeriod(ctx, shared.InvoicePeriodLockKey(in.CenterID, in.Year, in.Month)); err != nil {
			return err
		}
		center, err := tx.GetCenter(ctx, in.CenterID)
		if err != nil {
			return err
		}
		existing, err := tx.CountPeriodInvoices(ctx, center.ID, period)
		if err != nil {
			return err
		}
		if existing > 0 {
			result.AlreadyExists = true
			return nil
		}
		students, err := tx.ListActiveStudents(ctx, center.ID)
		if err != nil {
			return err
		}
		seq := 0
		for _, student := range students {
			if err := ctx.Err(); err != nil {
				return err
			}
			var created *Invoice
			err := tx.Savepoint(ctx, func(ctx context.Context, tx TxRepository) error {
				assignments, err := tx.ListActiveAssignments(ctx, student.ID, in.AcademicYear)
				if err != nil {
					return err
				}
				inv, items, ok := buildInvoice(center, student, assignments, in, seq+1, at)
				if !ok {
					return nil
				}
				inv, _, err = tx.InsertInvoice(ctx, inv, items)
				if err != nil {
					return err
				}
				if err := post(ctx, tx, s.chart.InvoicePosting(inv), at); err != nil {
					return err
				}
				created = &inv
				return nil
			})
			switch {
			case errors.Is(err, ErrPeriodInvoiced):
				return errPeriodRace
			case err != nil:
				if ctx.Err() != nil {
					return err
				}
				logger.Error("invoice generation failed for student", slog.String("student_id", student.ID.String()), slog.Any("error", err))
				result.Failures = append(result.Failures, GenerationFailure{StudentID: student.ID, Error: err.Error()})
			case created == nil:
				result.SkippedStudents++
			default:
				seq++
				result.Invoices = append(result.Invoices, *created)
			}
		}
		result.InvoicesGenerated = len(result.Invoices)
		if result.InvoicesGenerated > 0 {
			if _, err := tx.RecomputeSummary(ctx, center.ID, period, at); err != nil {
				return fmt.Errorf("finance: recompute summary: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errPeriodRace) {
		result, err = GenerateResult{AlreadyExists: true}, nil
	}
	if err != nil {
		return GenerateResult{}, err
	}

	if result.AlreadyExists {
		result.Message = AlreadyExistsMessage
		result.Invoices = []Invoice{}
		s.metrics.GenerationSkipped()
		logger.Info("invoice generation skipped, period already invoiced")
		return result, nil
	}
	if result.InvoicesGenerated > 0 {
		s.invalidate(ctx, in.CenterID, period)
	}
	s.metrics.InvoicesGenerated(result.InvoicesGenerated)
	s.metrics.GenerationFailed(len(result.Failures))
	logger.Info("invoice generation completed",
		slog.Int("generated", result.InvoicesGenerated),
		slog.Int("skipped", result.SkippedStudents),
		slog.Int("failed", len(result.Failures)))
	return result, nil
}

// buildInvoice prices a student's assignments. It reports false when there is
// nothing to bill.
func buildInvoice(center Center, student fees.Student, assignments []fees.StudentFeeAssignment, in GenerateInput, seq int, at time.Time) (Invoice, []InvoiceItem, bool) {
	if len(assignments) == 0 {
		return Invoice{}, nil, false
	}
	inv := Invoice{
		ID:            uuid.New(),
		CenterID:      center.ID,
		StudentID:     student.ID,
		InvoiceNumber: InvoiceNumber(center, in.Year, in.Month, seq),
		InvoiceMonth:  in.Month,
		InvoiceYear:   in.Year,
		AcademicYear:  in.AcademicYear,
		InvoiceDate:   Period{Month: in.Month, Year: in.Year}.Start(),
		PaidAmount:    decimal.Zero,
		LateFeePerDay: in.LateFeePerDay.Round(2),
		Status:        StatusIssued,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	inv.DueDate = inv.InvoiceDate.AddDate(0, 0, in.DueInDays)

	total := decimal.Zero
	items := make([]InvoiceItem, 0, len(assignments))
	for _, a := range assignments {
		amount := a.Amount.Round(2)
		desc := strings.TrimSpace(a.FeeHeadingName)
		if desc == "" {
			desc = "Fee"
		}
		items = append(items, InvoiceItem{
			ID:           uuid.New(),
			InvoiceID:    inv.ID,
			FeeHeadingID: a.FeeHeadingID,
			Description:  desc,
			Quantity:     decimal.NewFromInt(1),
			UnitAmount:   amount,
			TotalAmount:  amount,
		})
		total = total.Add(amount)
	}
	if !total.IsPositive() {
		return Invoice{}, nil, false
	}
	inv.TotalAmount = total
	return inv, items, true
}

// InvoiceNumber formats the human-facing invoice number.
func InvoiceNumber(center Center, year, month, seq int) string {
	return fmt.Sprintf("INV-%s-%04d%02d-%04d", center.NumberPrefix(), year, month, seq)
}
