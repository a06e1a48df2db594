package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
)

// Sheet names of the period workbook.
const (
	SheetSummary  = "Summary"
	SheetInvoices = "Invoices"
	SheetPayments = "Payments"
	SheetExpenses = "Expenses"
	SheetLedger   = "Ledger"
)

// StatusLabel renders a status for people.
func StatusLabel(s finance.Status) string {
	return cases.Title(language.English).String(string(s))
}

// MethodLabel renders a payment method for people.
func MethodLabel(m finance.PaymentMethod) string {
	if m == finance.MethodUPI {
		return "UPI"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(m), "_", " "))
}

// WritePeriodXLSX renders a period report as a workbook with one sheet per
// section.
func WritePeriodXLSX(w io.Writer, report finance.PeriodReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetInvoices, SheetPayments, SheetExpenses, SheetLedger} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	sum := report.Summary
	summaryRows := [][]any{
		{"Center", report.CenterID.String()},
		{"Period", report.Period.String()},
		{"As Of", report.AsOf.Format(dateLayout)},
		{"Total Invoiced", sum.TotalInvoiced.InexactFloat64()},
		{"Total Collected", sum.TotalCollected.InexactFloat64()},
		{"Total Outstanding", sum.TotalOutstanding.InexactFloat64()},
		{"Total Expenses", sum.TotalExpenses.InexactFloat64()},
		{"Net Income", sum.NetIncome.InexactFloat64()},
	}
	if err := writeRows(f, SheetSummary, summaryRows); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(summaryRows)), bold); err != nil {
		return err
	}

	invoices := [][]any{{"Invoice", "Student", "Invoice Date", "Due Date", "Total", "Paid", "Balance", "Status", "Days Overdue", "Late Fee"}}
	for _, v := range report.Invoices {
		invoices = append(invoices, []any{
			v.InvoiceNumber, v.StudentID.String(), v.InvoiceDate.Format(dateLayout), v.DueDate.Format(dateLayout),
			v.TotalAmount.InexactFloat64(), v.PaidAmount.InexactFloat64(), v.Balance.InexactFloat64(),
			StatusLabel(v.EffectiveStatus), v.DaysOverdue, v.LateFee.InexactFloat64(),
		})
	}
	if err := writeTable(f, SheetInvoices, invoices, bold); err != nil {
		return err
	}

	payments := [][]any{{"Date", "Payment", "Student", "Invoice", "Method", "Amount", "Reference"}}
	for _, p := range report.Payments {
		invoice := ""
		if p.InvoiceID != nil {
			invoice = p.InvoiceID.String()
		}
		payments = append(payments, []any{
			p.PaymentDate.Format(dateLayout), p.ID.String(), p.StudentID.String(), invoice,
			MethodLabel(p.Method), p.AmountPaid.InexactFloat64(), p.ReferenceNumber,
		})
	}
	if err := writeTable(f, SheetPayments, payments, bold); err != nil {
		return err
	}

	expenses := [][]any{{"Date", "Category", "Description", "Method", "Amount", "Approved"}}
	for _, e := range report.Expenses {
		approved := "No"
		if e.Approved {
			approved = "Yes"
		}
		expenses = append(expenses, []any{
			e.ExpenseDate.Format(dateLayout), e.Category, e.Description, MethodLabel(e.Method), e.Amount.InexactFloat64(), approved,
		})
	}
	if err := writeTable(f, SheetExpenses, expenses, bold); err != nil {
		return err
	}

	ledger := [][]any{{"Date", "Account", "Account Name", "Debit", "Credit", "Reference Type", "Description"}}
	for _, e := range report.Ledger {
		ledger = append(ledger, []any{
			e.EntryDate.Format(dateLayout), e.AccountCode, e.AccountName,
			e.DebitAmount.InexactFloat64(), e.CreditAmount.InexactFloat64(), e.ReferenceType, e.Description,
		})
	}
	if err := writeTable(f, SheetLedger, ledger, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	_, err = f.WriteTo(w)
	return err
}

func writeTable(f *excelize.File, sheet string, rows [][]any, header int) error {
	if err := writeRows(f, sheet, rows); err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", end, header); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}
