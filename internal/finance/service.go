package finance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/fees"
)

// RepositoryPort defines read access and transactional entry for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCenter(ctx context.Context, id uuid.UUID) (Center, error)
	ListCenters(ctx context.Context) ([]Center, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
	ListExpenses(ctx context.Context, filter ExpenseFilter) ([]Expense, error)
	GetSummary(ctx context.Context, centerID uuid.UUID, period Period) (FinancialSummary, error)
}

// TxRepository exposes the writes performed inside one unit of work.
type TxRepository interface {
	// Savepoint runs fn in a nested unit that rolls back alone on error.
	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LockPeriod(ctx context.Context, key string) error
	CountPeriodInvoices(ctx context.Context, centerID uuid.UUID, period Period) (int, error)
	GetCenter(ctx context.Context, id uuid.UUID) (Center, error)
	GetStudent(ctx context.Context, id uuid.UUID) (fees.Student, error)
	ListActiveStudents(ctx context.Context, centerID uuid.UUID) ([]fees.Student, error)
	ListActiveAssignments(ctx context.Context, studentID uuid.UUID, academicYear string) ([]fees.StudentFeeAssignment, error)
	InsertInvoice(ctx context.Context, inv Invoice, items []InvoiceItem) (Invoice, []InvoiceItem, error)
	LockInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	UpdateInvoice(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status Status, at time.Time) error
	CountInvoicePayments(ctx context.Context, invoiceID uuid.UUID) (int, error)
	ListOpenInvoices(ctx context.Context, centerID uuid.UUID) ([]Invoice, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertExpense(ctx context.Context, e Expense) (Expense, error)
	LockExpense(ctx context.Context, id uuid.UUID) (Expense, error)
	MarkExpenseApproved(ctx context.Context, id uuid.UUID, at time.Time) error
	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	RecomputeSummary(ctx context.Context, centerID uuid.UUID, period Period, at time.Time) (FinancialSummary, error)
}

// SummaryCache fronts the summary read path.
type SummaryCache interface {
	Fetch(ctx context.Context, centerID uuid.UUID, period Period, loader func(context.Context) (FinancialSummary, error)) (FinancialSummary, error)
	Invalidate(ctx context.Context, centerID uuid.UUID, periods ...Period) error
}

// IdempotencyGuard claims submission keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// MetricsRecorder receives engine events.
type MetricsRecorder interface {
	InvoicesGenerated(count int)
	GenerationSkipped()
	GenerationFailed(count int)
	PaymentRecorded(method string, amount float64)
	OverPayment()
	StatusesUpdated(count int)
}

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	Chart       Chart
	Cache       SummaryCache
	Idempotency IdempotencyGuard
	Metrics     MetricsRecorder
}

// Service is the reconciliation engine.
type Service struct {
	repo        RepositoryPort
	logger      *slog.Logger
	chart       Chart
	cache       SummaryCache
	idempotency IdempotencyGuard
	metrics     MetricsRecorder
	now         func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	chart := cfg.Chart
	if chart == (Chart{}) {
		chart = DefaultChart()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		repo:        repo,
		logger:      logger.With(slog.String("component", "finance")),
		chart:       chart,
		cache:       cfg.Cache,
		idempotency: cfg.Idempotency,
		metrics:     metrics,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Chart returns the accounts postings are made against.
func (s *Service) Chart() Chart {
	return s.chart
}

func (s *Service) today() time.Time {
	return dateOnly(s.now().UTC())
}

// post validates a posting and appends its entries.
func post(ctx context.Context, tx TxRepository, p Posting, at time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	entries := p.Entries()
	for i := range entries {
		entries[i].CreatedAt = at
	}
	return tx.InsertLedgerEntries(ctx, entries)
}

// invalidate drops cached summaries after a commit. Failures only cost freshness.
func (s *Service) invalidate(ctx context.Context, centerID uuid.UUID, periods ...Period) {
	if s.cache == nil || len(periods) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, centerID, periods...); err != nil {
		s.logger.Warn("summary cache invalidation failed", slog.String("center_id", centerID.String()), slog.Any("error", err))
	}
}

type nopMetrics struct{}

func (nopMetrics) InvoicesGenerated(int)           {}
func (nopMetrics) GenerationSkipped()              {}
func (nopMetrics) GenerationFailed(int)            {}
func (nopMetrics) PaymentRecorded(string, float64) {}
func (nopMetrics) OverPayment()                    {}
func (nopMetrics) StatusesUpdated(int)             {}
