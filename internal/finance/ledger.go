package finance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ledgerNamespace = uuid.MustParse("6f1d4c8e-2b7a-5e3f-9c41-0d8a7b6e5f21")

// EventID derives the posting identifier of a business event. The same event
// always maps to the same id, so a replayed posting is recognisable.
func EventID(referenceType string, referenceID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(ledgerNamespace, []byte(referenceType+":"+referenceID.String()))
}

// PostingLine is one account movement of a posting.
type PostingLine struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Posting is a balanced group of ledger lines for one business event.
type Posting struct {
	CenterID      uuid.UUID
	Date          time.Time
	ReferenceType string
	ReferenceID   uuid.UUID
	Description   string
	Lines         []PostingLine
}

// Validate ensures the posting is well-formed and balanced.
func (p Posting) Validate() error {
	if p.CenterID == uuid.Nil {
		return fmt.Errorf("finance: posting center required")
	}
	if p.ReferenceType == "" || p.ReferenceID == uuid.Nil {
		return fmt.Errorf("finance: posting reference required")
	}
	if len(p.Lines) < 2 {
		return ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for idx, line := range p.Lines {
		if line.Account.Code == "" {
			return fmt.Errorf("finance: line %d missing account", idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return fmt.Errorf("finance: line %d negative amount", idx)
		}
		if line.Debit.IsPositive() && line.Credit.IsPositive() {
			return fmt.Errorf("finance: line %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if !debit.Round(2).Equal(credit.Round(2)) {
		return ErrUnbalanced
	}
	return nil
}

// Entries expands the posting into ledger rows sharing one event id.
func (p Posting) Entries() []LedgerEntry {
	event := EventID(p.ReferenceType, p.ReferenceID)
	out := make([]LedgerEntry, 0, len(p.Lines))
	for _, line := range p.Lines {
		out = append(out, LedgerEntry{
			CenterID:      p.CenterID,
			EventID:       event,
			EntryDate:     dateOnly(p.Date),
			AccountCode:   line.Account.Code,
			AccountName:   line.Account.Name,
			DebitAmount:   line.Debit.Round(2),
			CreditAmount:  line.Credit.Round(2),
			ReferenceType: p.ReferenceType,
			ReferenceID:   p.ReferenceID,
			Description:   p.Description,
		})
	}
	return out
}

func pair(debit, credit Account, amount decimal.Decimal) []PostingLine {
	return []PostingLine{
		{Account: debit, Debit: amount, Credit: decimal.Zero},
		{Account: credit, Debit: decimal.Zero, Credit: amount},
	}
}

// InvoicePosting recognises billed revenue against receivables.
func (c Chart) InvoicePosting(inv Invoice) Posting {
	return Posting{
		CenterID:      inv.CenterID,
		Date:          inv.InvoiceDate,
		ReferenceType: RefInvoice,
		ReferenceID:   inv.ID,
		Description:   "Invoice " + inv.InvoiceNumber,
		Lines:         pair(c.Receivable, c.Revenue, inv.TotalAmount),
	}
}

// PaymentPosting settles receivables into cash or bank.
func (c Chart) PaymentPosting(p Payment) Posting {
	desc := fmt.Sprintf("Payment %s via %s", p.ID, p.Method)
	if p.ReferenceNumber != "" {
		desc += " ref " + p.ReferenceNumber
	}
	return Posting{
		CenterID:      p.CenterID,
		Date:          p.PaymentDate,
		ReferenceType: RefPayment,
		ReferenceID:   p.ID,
		Description:   desc,
		Lines:         pair(c.Settlement(p.Method), c.Receivable, p.AmountPaid),
	}
}

// ExpensePosting books an approved expense out of cash or bank.
func (c Chart) ExpensePosting(e Expense) Posting {
	return Posting{
		CenterID:      e.CenterID,
		Date:          e.ExpenseDate,
		ReferenceType: RefExpense,
		ReferenceID:   e.ID,
		Description:   "Expense " + e.Category,
		Lines:         pair(c.Expense, c.Settlement(e.Method), e.Amount),
	}
}

// CancellationPosting reverses the revenue recognised for inv.
func (c Chart) CancellationPosting(inv Invoice, on time.Time) Posting {
	return Posting{
		CenterID:      inv.CenterID,
		Date:          on,
		ReferenceType: RefInvoiceCancellation,
		ReferenceID:   inv.ID,
		Description:   "Cancel invoice " + inv.InvoiceNumber,
		Lines:         pair(c.Revenue, c.Receivable, inv.TotalAmount),
	}
}

// Balances sums debits and credits across entries.
func Balances(entries []LedgerEntry) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.DebitAmount)
		credit = credit.Add(e.CreditAmount)
	}
	return debit, credit
}
