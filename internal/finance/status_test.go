package finance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestInvoiceStatus(t *testing.T) {
	due := day(2024, time.May, 31)
	cases := []struct {
		name  string
		total string
		paid  string
		today time.Time
		want  Status
	}{
		{"empty invoice", "0", "0", day(2024, time.June, 5), StatusDraft},
		{"unpaid before due", "1000", "0", day(2024, time.May, 15), StatusIssued},
		{"unpaid on due date", "1000", "0", due, StatusIssued},
		{"unpaid after due", "1000", "0", day(2024, time.June, 1), StatusOverdue},
		{"partial after due stays partial", "1000", "400", day(2024, time.June, 10), StatusPartial},
		{"exactly paid", "1000", "1000", day(2024, time.June, 10), StatusPaid},
		{"over paid", "1000", "1200", day(2024, time.May, 1), StatusPaid},
		{"zero total with money", "0", "5", day(2024, time.May, 1), StatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, InvoiceStatus(dec(tc.total), dec(tc.paid), due, tc.today))
		})
	}
}

func TestInvoiceStatusIgnoresTimeOfDay(t *testing.T) {
	due := time.Date(2024, time.May, 31, 23, 59, 0, 0, time.UTC)
	today := time.Date(2024, time.May, 31, 0, 1, 0, 0, time.UTC)
	require.Equal(t, StatusIssued, InvoiceStatus(dec("10"), decimal.Zero, due, today))
	require.Equal(t, StatusOverdue, InvoiceStatus(dec("10"), decimal.Zero, due, today.AddDate(0, 0, 1)))
}

func TestInvoiceStatusDeterministic(t *testing.T) {
	due := day(2024, time.May, 31)
	today := day(2024, time.June, 3)
	first := InvoiceStatus(dec("750"), dec("100"), due, today)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, InvoiceStatus(dec("750"), dec("100"), due, today))
	}
}

func TestResolveStatusKeepsCancelled(t *testing.T) {
	inv := Invoice{TotalAmount: dec("500"), DueDate: day(2024, time.May, 1), Status: StatusCancelled}
	require.Equal(t, StatusCancelled, ResolveStatus(inv, day(2024, time.July, 1)))
	require.True(t, LateFee(inv, day(2024, time.July, 1)).IsZero())
}

func TestLateFee(t *testing.T) {
	inv := Invoice{
		TotalAmount:   dec("1000"),
		PaidAmount:    decimal.Zero,
		LateFeePerDay: dec("10"),
		DueDate:       day(2024, time.May, 31),
		Status:        StatusIssued,
	}
	require.True(t, LateFee(inv, day(2024, time.May, 20)).IsZero())
	require.True(t, LateFee(inv, day(2024, time.May, 31)).IsZero())
	require.True(t, LateFee(inv, day(2024, time.June, 5)).Equal(dec("50")))

	inv.PaidAmount = dec("300")
	require.True(t, LateFee(inv, day(2024, time.June, 5)).Equal(dec("50")), "partial invoices keep accruing")

	inv.PaidAmount = dec("1000")
	require.True(t, LateFee(inv, day(2024, time.June, 5)).IsZero())

	inv.PaidAmount = decimal.Zero
	inv.LateFeePerDay = decimal.Zero
	require.True(t, LateFee(inv, day(2024, time.June, 5)).IsZero())
}

func TestLateFeeNeverNegative(t *testing.T) {
	inv := Invoice{TotalAmount: dec("100"), LateFeePerDay: dec("2.5"), DueDate: day(2024, time.March, 15), Status: StatusIssued}
	for offset := -40; offset <= 40; offset++ {
		fee := LateFee(inv, inv.DueDate.AddDate(0, 0, offset))
		require.False(t, fee.IsNegative(), "offset %d", offset)
	}
}

func TestViewProjectsInvoice(t *testing.T) {
	inv := Invoice{TotalAmount: dec("800"), PaidAmount: dec("200"), LateFeePerDay: dec("1"), DueDate: day(2024, time.May, 31), Status: StatusIssued}
	v := View(inv, day(2024, time.June, 3))
	require.Equal(t, StatusPartial, v.EffectiveStatus)
	require.True(t, v.Balance.Equal(dec("600")))
	require.Equal(t, 3, v.DaysOverdue)
	require.True(t, v.LateFee.Equal(dec("3")))
}

func TestAcademicYearFor(t *testing.T) {
	require.Equal(t, "2024-2025", AcademicYearFor(Period{Month: 4, Year: 2024}))
	require.Equal(t, "2024-2025", AcademicYearFor(Period{Month: 3, Year: 2025}))
	require.Equal(t, "2023-2024", AcademicYearFor(Period{Month: 1, Year: 2024}))
}
