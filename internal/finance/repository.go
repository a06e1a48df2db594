package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
	"github.com/ssmspro2025/tms-sub000/internal/platform/db"
)

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)

// Repository provides PostgreSQL backed persistence for the engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a read-committed transaction. Row locks taken with
// FOR UPDATE then see the latest committed version instead of failing.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *Repository) GetCenter(ctx context.Context, id uuid.UUID) (Center, error) {
	return getCenter(ctx, r.pool, id)
}

func (r *Repository) ListCenters(ctx context.Context) ([]Center, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, invoice_prefix FROM centers ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Center
	for rows.Next() {
		var c Center
		if err := rows.Scan(&c.ID, &c.Name, &c.InvoicePrefix); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func (r *Repository) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, fee_heading_id, description, quantity, unit_amount, total_amount
FROM invoice_items WHERE invoice_id=$1 ORDER BY description, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceItem
	for rows.Next() {
		var (
			item    InvoiceItem
			heading *uuid.UUID
		)
		if err := rows.Scan(&item.ID, &item.InvoiceID, &heading, &item.Description, &item.Quantity, &item.UnitAmount, &item.TotalAmount); err != nil {
			return nil, err
		}
		if heading != nil {
			item.FeeHeadingID = *heading
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	var w where
	w.eq("center_id", filter.CenterID)
	w.eq("student_id", filter.StudentID)
	if filter.Period != (Period{}) {
		w.add("invoice_month=$%d", filter.Period.Month)
		w.add("invoice_year=$%d", filter.Period.Year)
	}
	if filter.Status != "" {
		if filter.AsOf.IsZero() {
			w.add("status=$%d", string(filter.Status))
		} else {
			w.args = append(w.args, dateOnly(filter.AsOf))
			w.add(effectiveStatusSQL(len(w.args))+"=$%d", string(filter.Status))
		}
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + w.sql() + ` ORDER BY invoice_year DESC, invoice_month DESC, invoice_number`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (r *Repository) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	var w where
	w.eq("center_id", filter.CenterID)
	w.eq("student_id", filter.StudentID)
	w.eq("invoice_id", filter.InvoiceID)
	w.dateRange("payment_date", filter.From, filter.To)
	rows, err := r.pool.Query(ctx, `SELECT id, center_id, student_id, invoice_id, amount_paid, payment_method, payment_date, reference_number, notes, created_at
FROM payments`+w.sql()+` ORDER BY payment_date, created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.CenterID, &p.StudentID, &p.InvoiceID, &p.AmountPaid, &p.Method, &p.PaymentDate, &p.ReferenceNumber, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	var w where
	w.eq("center_id", filter.CenterID)
	w.dateRange("entry_date", filter.From, filter.To)
	if filter.ReferenceType != "" {
		w.add("reference_type=$%d", filter.ReferenceType)
	}
	w.eq("reference_id", filter.ReferenceID)
	rows, err := r.pool.Query(ctx, `SELECT id, center_id, event_id, entry_date, account_code, account_name, debit_amount, credit_amount, reference_type, reference_id, description, created_at
FROM ledger_entries`+w.sql()+` ORDER BY entry_date, created_at, event_id, debit_amount DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.CenterID, &e.EventID, &e.EntryDate, &e.AccountCode, &e.AccountName, &e.DebitAmount, &e.CreditAmount, &e.ReferenceType, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ListExpenses(ctx context.Context, filter ExpenseFilter) ([]Expense, error) {
	var w where
	w.eq("center_id", filter.CenterID)
	w.dateRange("expense_date", filter.From, filter.To)
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM expenses`+w.sql()+` ORDER BY expense_date, created_at, id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSummary returns the stored summary, zero-valued when the month has no activity.
func (r *Repository) GetSummary(ctx context.Context, centerID uuid.UUID, period Period) (FinancialSummary, error) {
	sum, err := scanSummary(r.pool.QueryRow(ctx, `SELECT `+summaryColumns+` FROM financial_summaries
WHERE center_id=$1 AND month=$2 AND year=$3`, centerID, period.Month, period.Year))
	if errors.Is(err, pgx.ErrNoRows) {
		return FinancialSummary{
			CenterID:         centerID,
			Month:            period.Month,
			Year:             period.Year,
			TotalInvoiced:    decimal.Zero,
			TotalCollected:   decimal.Zero,
			TotalOutstanding: decimal.Zero,
			TotalExpenses:    decimal.Zero,
			NetIncome:        decimal.Zero,
		}, nil
	}
	return sum, err
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSavepoint(ctx, t.tx, func(nested pgx.Tx) error {
		return fn(ctx, &txRepo{tx: nested})
	})
}

func (t *txRepo) LockPeriod(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func (t *txRepo) CountPeriodInvoices(ctx context.Context, centerID uuid.UUID, period Period) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE center_id=$1 AND invoice_month=$2 AND invoice_year=$3`,
		centerID, period.Month, period.Year).Scan(&n)
	return n, err
}

func (t *txRepo) GetCenter(ctx context.Context, id uuid.UUID) (Center, error) {
	return getCenter(ctx, t.tx, id)
}

func (t *txRepo) GetStudent(ctx context.Context, id uuid.UUID) (fees.Student, error) {
	return fees.QueryStudent(ctx, t.tx, id)
}

func (t *txRepo) ListActiveStudents(ctx context.Context, centerID uuid.UUID) ([]fees.Student, error) {
	return fees.QueryActiveStudents(ctx, t.tx, centerID)
}

func (t *txRepo) ListActiveAssignments(ctx context.Context, studentID uuid.UUID, academicYear string) ([]fees.StudentFeeAssignment, error) {
	return fees.QueryActiveAssignments(ctx, t.tx, studentID, academicYear)
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice, items []InvoiceItem) (Invoice, []InvoiceItem, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoices (id, center_id, student_id, invoice_number, invoice_month, invoice_year, academic_year,
invoice_date, due_date, total_amount, paid_amount, late_fee_per_day, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		inv.ID, inv.CenterID, inv.StudentID, inv.InvoiceNumber, inv.InvoiceMonth, inv.InvoiceYear, inv.AcademicYear,
		inv.InvoiceDate, inv.DueDate, inv.TotalAmount, inv.PaidAmount, inv.LateFeePerDay, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_invoices_period_student") {
			return Invoice{}, nil, ErrPeriodInvoiced
		}
		return Invoice{}, nil, fmt.Errorf("finance: insert invoice: %w", err)
	}
	for _, item := range items {
		var heading *uuid.UUID
		if item.FeeHeadingID != uuid.Nil {
			id := item.FeeHeadingID
			heading = &id
		}
		if _, err := t.tx.Exec(ctx, `INSERT INTO invoice_items (id, invoice_id, fee_heading_id, description, quantity, unit_amount, total_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, item.ID, inv.ID, heading, item.Description, item.Quantity, item.UnitAmount, item.TotalAmount); err != nil {
			return Invoice{}, nil, fmt.Errorf("finance: insert invoice item: %w", err)
		}
	}
	return inv, items, nil
}

func (t *txRepo) LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	inv, err := scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func (t *txRepo) UpdateInvoice(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, status=$3, updated_at=$4 WHERE id=$1`, id, paid, status, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (t *txRepo) CountInvoicePayments(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id=$1`, invoiceID).Scan(&n)
	return n, err
}

func (t *txRepo) ListOpenInvoices(ctx context.Context, centerID uuid.UUID) ([]Invoice, error) {
	var center *uuid.UUID
	if centerID != uuid.Nil {
		center = &centerID
	}
	rows, err := t.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
WHERE status IN ('issued','partial','overdue') AND ($1::uuid IS NULL OR center_id=$1)
ORDER BY center_id, invoice_number FOR UPDATE`, center)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO payments (id, center_id, student_id, invoice_id, amount_paid, payment_method, payment_date, reference_number, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.CenterID, p.StudentID, p.InvoiceID, p.AmountPaid, p.Method, p.PaymentDate, p.ReferenceNumber, p.Notes, p.CreatedAt)
	if err != nil {
		return Payment{}, fmt.Errorf("finance: insert payment: %w", err)
	}
	return p, nil
}

func (t *txRepo) InsertExpense(ctx context.Context, e Expense) (Expense, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO expenses (id, center_id, category, description, amount, expense_date, payment_method, approved, approved_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.CenterID, e.Category, e.Description, e.Amount, e.ExpenseDate, e.Method, e.Approved, e.ApprovedAt, e.CreatedAt)
	if err != nil {
		return Expense{}, fmt.Errorf("finance: insert expense: %w", err)
	}
	return e, nil
}

func (t *txRepo) LockExpense(ctx context.Context, id uuid.UUID) (Expense, error) {
	e, err := scanExpense(t.tx.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound
	}
	return e, err
}

func (t *txRepo) MarkExpenseApproved(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE expenses SET approved=TRUE, approved_at=$2 WHERE id=$1`, id, at)
	return err
}

func (t *txRepo) InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO ledger_entries (center_id, event_id, entry_date, account_code, account_name, debit_amount, credit_amount, reference_type, reference_id, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.CenterID, e.EventID, e.EntryDate, e.AccountCode, e.AccountName, e.DebitAmount, e.CreditAmount, e.ReferenceType, e.ReferenceID, e.Description, e.CreatedAt)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("finance: insert ledger entries: %w", err)
	}
	return nil
}

func (t *txRepo) RecomputeSummary(ctx context.Context, centerID uuid.UUID, period Period, at time.Time) (FinancialSummary, error) {
	return scanSummary(t.tx.QueryRow(ctx, `WITH inv AS (
    SELECT COALESCE(SUM(total_amount), 0) AS invoiced,
           COALESCE(SUM(GREATEST(total_amount - paid_amount, 0)), 0) AS outstanding
    FROM invoices
    WHERE center_id=$1 AND invoice_month=$2 AND invoice_year=$3 AND status <> 'cancelled'
), pay AS (
    SELECT COALESCE(SUM(amount_paid), 0) AS collected
    FROM payments WHERE center_id=$1 AND payment_date BETWEEN $4 AND $5
), exp AS (
    SELECT COALESCE(SUM(amount), 0) AS spent
    FROM expenses WHERE center_id=$1 AND approved AND expense_date BETWEEN $4 AND $5
)
INSERT INTO financial_summaries (center_id, month, year, total_invoiced, total_collected, total_outstanding, total_expenses, net_income, updated_at)
SELECT $1, $2, $3, inv.invoiced, pay.collected, inv.outstanding, exp.spent, pay.collected - exp.spent, $6
FROM inv, pay, exp
ON CONFLICT (center_id, month, year) DO UPDATE SET
    total_invoiced = EXCLUDED.total_invoiced,
    total_collected = EXCLUDED.total_collected,
    total_outstanding = EXCLUDED.total_outstanding,
    total_expenses = EXCLUDED.total_expenses,
    net_income = EXCLUDED.net_income,
    updated_at = EXCLUDED.updated_at
RETURNING `+summaryColumns, centerID, period.Month, period.Year, period.Start(), period.End(), at))
}

const (
	invoiceColumns = `id, center_id, student_id, invoice_number, invoice_month, invoice_year, academic_year,
invoice_date, due_date, total_amount, paid_amount, late_fee_per_day, status, created_at, updated_at`
	expenseColumns = `id, center_id, category, description, amount, expense_date, payment_method, approved, approved_at, created_at`
	summaryColumns = `center_id, month, year, total_invoiced, total_collected, total_outstanding, total_expenses, net_income, updated_at`
)

func getCenter(ctx context.Context, q fees.Querier, id uuid.UUID) (Center, error) {
	var c Center
	err := q.QueryRow(ctx, `SELECT id, name, invoice_prefix FROM centers WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.InvoicePrefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return Center{}, ErrCenterNotFound
	}
	return c, err
}

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.CenterID, &inv.StudentID, &inv.InvoiceNumber, &inv.InvoiceMonth, &inv.InvoiceYear, &inv.AcademicYear,
		&inv.InvoiceDate, &inv.DueDate, &inv.TotalAmount, &inv.PaidAmount, &inv.LateFeePerDay, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	return inv, err
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanExpense(row pgx.Row) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.CenterID, &e.Category, &e.Description, &e.Amount, &e.ExpenseDate, &e.Method, &e.Approved, &e.ApprovedAt, &e.CreatedAt)
	return e, err
}

func scanSummary(row pgx.Row) (FinancialSummary, error) {
	var s FinancialSummary
	err := row.Scan(&s.CenterID, &s.Month, &s.Year, &s.TotalInvoiced, &s.TotalCollected, &s.TotalOutstanding, &s.TotalExpenses, &s.NetIncome, &s.UpdatedAt)
	return s, err
}

// where accumulates AND-ed predicates with positional arguments.
// effectiveStatusSQL derives an invoice's status on the date bound to
// parameter asOfArg, following InvoiceStatus and ResolveStatus.
func effectiveStatusSQL(asOfArg int) string {
	return fmt.Sprintf(`(CASE
    WHEN status = 'cancelled' THEN 'cancelled'
    WHEN total_amount = 0 AND paid_amount = 0 THEN 'draft'
    WHEN paid_amount <= 0 AND due_date < $%[1]d::date THEN 'overdue'
    WHEN paid_amount <= 0 THEN 'issued'
    WHEN paid_amount >= total_amount THEN 'paid'
    ELSE 'partial'
END)`, asOfArg)
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) eq(column string, id uuid.UUID) {
	if id != uuid.Nil {
		w.add(column+"=$%d", id)
	}
}

func (w *where) dateRange(column string, from, to time.Time) {
	if !from.IsZero() {
		w.add(column+">=$%d", dateOnly(from))
	}
	if !to.IsZero() {
		w.add(column+"<=$%d", dateOnly(to))
	}
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
