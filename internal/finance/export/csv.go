package export

import (
	"encoding/csv"
	"io"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
)

const dateLayout = "2006-01-02"

// WriteLedgerCSV serialises ledger entries with a closing totals row.
func WriteLedgerCSV(w io.Writer, entries []finance.LedgerEntry) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Date", "Event", "Account", "Account Name", "Debit", "Credit", "Reference Type", "Reference", "Description"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{
			e.EntryDate.Format(dateLayout),
			e.EventID.String(),
			e.AccountCode,
			e.AccountName,
			e.DebitAmount.StringFixed(2),
			e.CreditAmount.StringFixed(2),
			e.ReferenceType,
			e.ReferenceID.String(),
			e.Description,
		}); err != nil {
			return err
		}
	}
	debit, credit := finance.Balances(entries)
	if err := writer.Write([]string{"", "", "", "Total", debit.StringFixed(2), credit.StringFixed(2), "", "", ""}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
