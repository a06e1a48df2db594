package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus derives the status of an invoice from its amounts and due date.
// Dates compare by calendar day. An invoice that received any money is never
// overdue; it is partial until fully paid.
func InvoiceStatus(total, paid decimal.Decimal, due, today time.Time) Status {
	switch {
	case total.IsZero() && paid.IsZero():
		return StatusDraft
	case paid.Sign() <= 0:
		if dateOnly(due).Before(dateOnly(today)) {
			return StatusOverdue
		}
		return StatusIssued
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	default:
		return StatusPartial
	}
}

// ResolveStatus returns the effective status of inv on today. Cancellation is
// terminal and survives any recomputation.
func ResolveStatus(inv Invoice, today time.Time) Status {
	if inv.Status == StatusCancelled {
		return StatusCancelled
	}
	return InvoiceStatus(inv.TotalAmount, inv.PaidAmount, inv.DueDate, today)
}

// DaysOverdue counts whole calendar days since the due date, zero when not past due.
func DaysOverdue(due, today time.Time) int {
	d := dateOnly(today).Sub(dateOnly(due))
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// LateFee accrues the invoice's per-day fee for each day past due. Settled and
// cancelled invoices accrue nothing.
func LateFee(inv Invoice, today time.Time) decimal.Decimal {
	switch ResolveStatus(inv, today) {
	case StatusPaid, StatusCancelled:
		return decimal.Zero
	}
	days := DaysOverdue(inv.DueDate, today)
	if days == 0 || inv.LateFeePerDay.Sign() <= 0 {
		return decimal.Zero
	}
	return inv.LateFeePerDay.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// View projects inv onto today.
func View(inv Invoice, today time.Time) InvoiceView {
	status := ResolveStatus(inv, today)
	v := InvoiceView{
		Invoice:         inv,
		EffectiveStatus: status,
		Balance:         inv.Balance(),
		LateFee:         LateFee(inv, today),
	}
	if status != StatusPaid && status != StatusCancelled {
		v.DaysOverdue = DaysOverdue(inv.DueDate, today)
	}
	return v
}
