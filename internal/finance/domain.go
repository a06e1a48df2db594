// Package finance implements the reconciliation engine: monthly invoice
// generation, payment allocation, status and late-fee derivation and the
// double-entry ledger that records every money movement.
package finance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/platform/httpx"
)

// Status enumerates invoice lifecycle states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusIssued, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled:
		return s, nil
	}
	return "", validationError("unknown invoice status %q", raw)
}

// Open reports whether the status still expects money.
func (s Status) Open() bool {
	return s == StatusIssued || s == StatusPartial || s == StatusOverdue
}

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheque       PaymentMethod = "cheque"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodUPI          PaymentMethod = "upi"
	MethodCard         PaymentMethod = "card"
	MethodWallet       PaymentMethod = "wallet"
	MethodOther        PaymentMethod = "other"
)

// ParsePaymentMethod validates a raw method value.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case MethodCash, MethodCheque, MethodBankTransfer, MethodUPI, MethodCard, MethodWallet, MethodOther:
		return m, nil
	}
	return "", validationError("unknown payment method %q", raw)
}

// Period identifies a billing month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// PeriodOf returns the billing month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate checks the month and year ranges.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return validationError("month must be between 1 and 12")
	}
	if p.Year < 2000 || p.Year > 2200 {
		return validationError("year must be between 2000 and 2200")
	}
	return nil
}

// Start returns the first calendar day of the period.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last calendar day of the period.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// AcademicYearFor returns the school year label for a billing period. School
// years start in April, so March 2025 belongs to "2024-2025".
func AcademicYearFor(p Period) string {
	start := p.Year
	if p.Month < 4 {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// Center is the billing entity owning students and invoices.
type Center struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	InvoicePrefix string    `json:"invoice_prefix"`
}

// NumberPrefix returns the token used inside invoice numbers.
func (c Center) NumberPrefix() string {
	if p := strings.ToUpper(strings.TrimSpace(c.InvoicePrefix)); p != "" {
		return p
	}
	return strings.ToUpper(strings.ReplaceAll(c.ID.String(), "-", "")[:8])
}

// Invoice is a monthly bill for one student.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	CenterID      uuid.UUID       `json:"center_id"`
	StudentID     uuid.UUID       `json:"student_id"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceMonth  int             `json:"invoice_month"`
	InvoiceYear   int             `json:"invoice_year"`
	AcademicYear  string          `json:"academic_year"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	DueDate       time.Time       `json:"due_date"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	LateFeePerDay decimal.Decimal `json:"late_fee_per_day"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Period returns the billing month of the invoice.
func (inv Invoice) Period() Period {
	return Period{Month: inv.InvoiceMonth, Year: inv.InvoiceYear}
}

// Balance returns the outstanding amount, never below zero.
func (inv Invoice) Balance() decimal.Decimal {
	b := inv.TotalAmount.Sub(inv.PaidAmount)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

// InvoiceItem is a line of an invoice.
type InvoiceItem struct {
	ID           uuid.UUID       `json:"id"`
	InvoiceID    uuid.UUID       `json:"invoice_id"`
	FeeHeadingID uuid.UUID       `json:"fee_heading_id"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitAmount   decimal.Decimal `json:"unit_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// Payment is an immutable record of money received.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	CenterID        uuid.UUID       `json:"center_id"`
	StudentID       uuid.UUID       `json:"student_id"`
	InvoiceID       *uuid.UUID      `json:"invoice_id,omitempty"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Method          PaymentMethod   `json:"payment_method"`
	PaymentDate     time.Time       `json:"payment_date"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Ledger reference types.
const (
	RefInvoice             = "invoice"
	RefPayment             = "payment"
	RefExpense             = "expense"
	RefInvoiceCancellation = "invoice_cancellation"
)

// LedgerEntry is one side of a double-entry posting.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	CenterID      uuid.UUID       `json:"center_id"`
	EventID       uuid.UUID       `json:"event_id"`
	EntryDate     time.Time       `json:"entry_date"`
	AccountCode   string          `json:"account_code"`
	AccountName   string          `json:"account_name"`
	DebitAmount   decimal.Decimal `json:"debit_amount"`
	CreditAmount  decimal.Decimal `json:"credit_amount"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Expense is an operating cost of a center.
type Expense struct {
	ID          uuid.UUID       `json:"id"`
	CenterID    uuid.UUID       `json:"center_id"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	Method      PaymentMethod   `json:"payment_method"`
	Approved    bool            `json:"approved"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// FinancialSummary aggregates one center's month.
type FinancialSummary struct {
	CenterID         uuid.UUID       `json:"center_id"`
	Month            int             `json:"month"`
	Year             int             `json:"year"`
	TotalInvoiced    decimal.Decimal `json:"total_invoiced"`
	TotalCollected   decimal.Decimal `json:"total_collected"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalExpenses    decimal.Decimal `json:"total_expenses"`
	NetIncome        decimal.Decimal `json:"net_income"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// GenerateInput drives a monthly generation run.
type GenerateInput struct {
	CenterID      uuid.UUID       `json:"center_id" validate:"required"`
	Month         int             `json:"month" validate:"min=1,max=12"`
	Year          int             `json:"year" validate:"min=2000,max=2200"`
	AcademicYear  string          `json:"academic_year" validate:"required"`
	DueInDays     int             `json:"due_in_days" validate:"min=0"`
	LateFeePerDay decimal.Decimal `json:"late_fee_per_day"`
}

// GenerationFailure records a student skipped because of an error.
type GenerationFailure struct {
	StudentID uuid.UUID `json:"student_id"`
	Error     string    `json:"error"`
}

// GenerateResult reports the outcome of a generation run.
type GenerateResult struct {
	InvoicesGenerated int                 `json:"invoicesGenerated"`
	AlreadyExists     bool                `json:"alreadyExists,omitempty"`
	Message           string              `json:"message,omitempty"`
	Invoices          []Invoice           `json:"invoices"`
	SkippedStudents   int                 `json:"skippedStudents"`
	Failures          []GenerationFailure `json:"failures,omitempty"`
}

// RecordPaymentInput carries a payment submission.
type RecordPaymentInput struct {
	CenterID        uuid.UUID       `json:"center_id" validate:"required"`
	StudentID       uuid.UUID       `json:"student_id" validate:"required"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	Method          PaymentMethod   `json:"payment_method" validate:"required"`
	InvoiceID       *uuid.UUID      `json:"invoice_id,omitempty"`
	ReferenceNumber string          `json:"reference_number" validate:"max=100"`
	Notes           string          `json:"notes" validate:"max=500"`
	IdempotencyKey  string          `json:"-"`
}

// RecordExpenseInput carries an expense submission.
type RecordExpenseInput struct {
	CenterID    uuid.UUID       `json:"center_id" validate:"required"`
	Category    string          `json:"category" validate:"required,max=80"`
	Description string          `json:"description" validate:"max=500"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expense_date"`
	Method      PaymentMethod   `json:"payment_method"`
	Approved    bool            `json:"approved"`
}

// InvoiceFilter narrows invoice listings. Zero values match everything. When
// AsOf is set, Status matches the effective status on that day rather than the
// persisted one.
type InvoiceFilter struct {
	CenterID  uuid.UUID
	StudentID uuid.UUID
	Period    Period
	Status    Status
	AsOf      time.Time
	Limit     int
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	CenterID  uuid.UUID
	StudentID uuid.UUID
	InvoiceID uuid.UUID
	From      time.Time
	To        time.Time
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	CenterID      uuid.UUID
	From          time.Time
	To            time.Time
	ReferenceType string
	ReferenceID   uuid.UUID
}

// ExpenseFilter narrows expense listings.
type ExpenseFilter struct {
	CenterID uuid.UUID
	From     time.Time
	To       time.Time
}

// InvoiceView is an invoice as seen on a given day.
type InvoiceView struct {
	Invoice
	EffectiveStatus Status          `json:"effective_status"`
	Balance         decimal.Decimal `json:"balance"`
	DaysOverdue     int             `json:"days_overdue"`
	LateFee         decimal.Decimal `json:"late_fee"`
	Items           []InvoiceItem   `json:"items,omitempty"`
	Payments        []Payment       `json:"payments,omitempty"`
}

// PeriodReport bundles everything recorded for one center and month.
type PeriodReport struct {
	CenterID uuid.UUID        `json:"center_id"`
	Period   Period           `json:"period"`
	AsOf     time.Time        `json:"as_of"`
	Summary  FinancialSummary `json:"summary"`
	Invoices []InvoiceView    `json:"invoices"`
	Payments []Payment        `json:"payments"`
	Expenses []Expense        `json:"expenses"`
	Ledger   []LedgerEntry    `json:"ledger"`
}

// RefreshResult reports a status refresh run.
type RefreshResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

var (
	// ErrValidation marks invalid input.
	ErrValidation = fmt.Errorf("finance: %w", httpx.ErrValidation)
	// ErrForbidden indicates a missing capability.
	ErrForbidden = fmt.Errorf("finance: %w", httpx.ErrForbidden)
	// ErrCenterNotFound indicates a missing center.
	ErrCenterNotFound = fmt.Errorf("finance: center %w", httpx.ErrNotFound)
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = fmt.Errorf("finance: invoice %w", httpx.ErrNotFound)
	// ErrExpenseNotFound indicates a missing expense.
	ErrExpenseNotFound = fmt.Errorf("finance: expense %w", httpx.ErrNotFound)
	// ErrInvoiceCancelled rejects money movements against a cancelled invoice.
	ErrInvoiceCancelled = fmt.Errorf("finance: invoice is cancelled: %w", httpx.ErrConflict)
	// ErrInvoiceHasPayments rejects cancelling an invoice that received money.
	ErrInvoiceHasPayments = fmt.Errorf("finance: invoice has payments: %w", httpx.ErrConflict)
	// ErrExpenseApproved rejects approving twice.
	ErrExpenseApproved = fmt.Errorf("finance: expense already approved: %w", httpx.ErrConflict)
	// ErrDuplicatePayment rejects a replayed idempotency key.
	ErrDuplicatePayment = fmt.Errorf("finance: duplicate payment submission: %w", httpx.ErrConflict)
	// ErrPeriodInvoiced is returned by repositories when the period already holds
	// an invoice for the student.
	ErrPeriodInvoiced = errors.New("finance: period already invoiced")
	// ErrUnbalanced flags a posting whose debits and credits differ.
	ErrUnbalanced = errors.New("finance: posting not balanced")
	// ErrTooFewLines flags a posting with fewer than two lines.
	ErrTooFewLines = errors.New("finance: posting requires at least two lines")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
