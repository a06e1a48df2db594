// Package financehttp exposes the reconciliation engine over JSON.
package financehttp

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
	"github.com/ssmspro2025/tms-sub000/internal/finance/export"
	"github.com/ssmspro2025/tms-sub000/internal/platform/httpx"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

const (
	// HeaderIdempotencyKey deduplicates payment submissions.
	HeaderIdempotencyKey = "Idempotency-Key"
	dateLayout           = "2006-01-02"
	xlsxContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// FinanceService is the engine contract used by the handler.
type FinanceService interface {
	GenerateMonthlyInvoices(ctx context.Context, caps rbac.Set, in finance.GenerateInput) (finance.GenerateResult, error)
	RecordPayment(ctx context.Context, caps rbac.Set, in finance.RecordPaymentInput) (finance.Payment, error)
	RecordExpense(ctx context.Context, caps rbac.Set, in finance.RecordExpenseInput) (finance.Expense, error)
	ApproveExpense(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (finance.Expense, error)
	CancelInvoice(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (finance.Invoice, error)
	RefreshStatuses(ctx context.Context, caps rbac.Set, centerID uuid.UUID) (finance.RefreshResult, error)
	ListInvoices(ctx context.Context, caps rbac.Set, filter finance.InvoiceFilter) ([]finance.InvoiceView, error)
	GetInvoice(ctx context.Context, caps rbac.Set, scope, id uuid.UUID) (finance.InvoiceView, error)
	ListPayments(ctx context.Context, caps rbac.Set, filter finance.PaymentFilter) ([]finance.Payment, error)
	ListLedger(ctx context.Context, caps rbac.Set, filter finance.LedgerFilter) ([]finance.LedgerEntry, error)
	ListExpenses(ctx context.Context, caps rbac.Set, filter finance.ExpenseFilter) ([]finance.Expense, error)
	Summary(ctx context.Context, caps rbac.Set, centerID uuid.UUID, period finance.Period) (finance.FinancialSummary, error)
	PeriodReport(ctx context.Context, caps rbac.Set, centerID uuid.UUID, period finance.Period) (finance.PeriodReport, error)
}

// Config carries request defaults.
type Config struct {
	DueInDays        int
	LateFeePerDay    decimal.Decimal
	ExportsPerMinute int
	RequestTimeout   time.Duration
}

// Handler coordinates finance HTTP requests.
type Handler struct {
	logger    *slog.Logger
	service   FinanceService
	validator *validator.Validate
	rbac      rbac.Middleware
	cfg       Config
	now       func() time.Time
}

// NewHandler constructs the finance HTTP handler.
func NewHandler(logger *slog.Logger, service FinanceService, mw rbac.Middleware, cfg Config) *Handler {
	if cfg.ExportsPerMinute <= 0 {
		cfg.ExportsPerMinute = 10
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		rbac:      mw,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

type generateRequest struct {
	CenterID      uuid.UUID        `json:"center_id" validate:"required"`
	Month         int              `json:"month" validate:"min=1,max=12"`
	Year          int              `json:"year" validate:"min=2000,max=2200"`
	AcademicYear  string           `json:"academic_year" validate:"max=20"`
	DueInDays     *int             `json:"due_in_days" validate:"omitempty,min=0,max=365"`
	LateFeePerDay *decimal.Decimal `json:"late_fee_per_day"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decode(w, r, &req) || !h.allowCenter(w, r, req.CenterID) {
		return
	}
	in := finance.GenerateInput{
		CenterID:      req.CenterID,
		Month:         req.Month,
		Year:          req.Year,
		AcademicYear:  strings.TrimSpace(req.AcademicYear),
		DueInDays:     h.cfg.DueInDays,
		LateFeePerDay: h.cfg.LateFeePerDay,
	}
	if in.AcademicYear == "" {
		in.AcademicYear = finance.AcademicYearFor(finance.Period{Month: req.Month, Year: req.Year})
	}
	if req.DueInDays != nil {
		in.DueInDays = *req.DueInDays
	}
	if req.LateFeePerDay != nil {
		in.LateFeePerDay = *req.LateFeePerDay
	}
	out, err := h.service.GenerateMonthlyInvoices(r.Context(), caps(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.InvoicesGenerated == 0 {
		status = http.StatusOK
	}
	httpx.JSON(w, status, out)
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var in finance.RecordPaymentInput
	if !h.decode(w, r, &in) || !h.allowCenter(w, r, in.CenterID) {
		return
	}
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	out, err := h.service.RecordPayment(r.Context(), caps(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	var in finance.RecordExpenseInput
	if !h.decode(w, r, &in) || !h.allowCenter(w, r, in.CenterID) {
		return
	}
	out, err := h.service.RecordExpense(r.Context(), caps(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) handleApproveExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	out, err := h.service.ApproveExpense(r.Context(), caps(r), scope(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	out, err := h.service.CancelInvoice(r.Context(), caps(r), scope(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleRefreshStatuses(w http.ResponseWriter, r *http.Request) {
	// Admins may omit center_id to refresh every center.
	centerID := uuid.Nil
	if strings.TrimSpace(r.URL.Query().Get("center_id")) != "" || !isAdmin(r) {
		var ok bool
		if centerID, ok = h.centerParam(w, r); !ok {
			return
		}
	}
	out, err := h.service.RefreshStatuses(r.Context(), caps(r), centerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := finance.InvoiceFilter{CenterID: centerID}
	var err error
	if filter.Period, err = optionalPeriod(q.Get("month"), q.Get("year")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := q.Get("status"); raw != "" {
		if filter.Status, err = finance.ParseStatus(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if filter.StudentID, err = optionalUUID(q.Get("student_id"), "student_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, badRequest("invalid limit"))
			return
		}
	}
	out, err := h.service.ListInvoices(r.Context(), caps(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	out, err := h.service.GetInvoice(r.Context(), caps(r), scope(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := finance.PaymentFilter{CenterID: centerID}
	var err error
	if filter.StudentID, err = optionalUUID(q.Get("student_id"), "student_id"); err == nil {
		filter.InvoiceID, err = optionalUUID(q.Get("invoice_id"), "invoice_id")
	}
	if err == nil {
		filter.From, filter.To, err = dateRange(q.Get("from"), q.Get("to"))
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListPayments(r.Context(), caps(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListLedger(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := finance.LedgerFilter{CenterID: centerID, ReferenceType: strings.TrimSpace(q.Get("reference_type"))}
	var err error
	if filter.ReferenceID, err = optionalUUID(q.Get("reference_id"), "reference_id"); err == nil {
		filter.From, filter.To, err = dateRange(q.Get("from"), q.Get("to"))
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListLedger(r.Context(), caps(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return
	}
	from, to, err := dateRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ListExpenses(r.Context(), caps(r), finance.ExpenseFilter{CenterID: centerID, From: from, To: to})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	centerID, period, ok := h.periodParams(w, r)
	if !ok {
		return
	}
	out, err := h.service.Summary(r.Context(), caps(r), centerID, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handlePeriodXLSX(w http.ResponseWriter, r *http.Request) {
	centerID, period, ok := h.periodParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.exportContext(r)
	defer cancel()
	report, err := h.service.PeriodReport(ctx, caps(r), centerID, period)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WritePeriodXLSX(&buf, report); err != nil {
		h.fail(w, r, fmt.Errorf("render xlsx: %w", err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"finance-%s.xlsx\"", period))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleLedgerCSV(w http.ResponseWriter, r *http.Request) {
	centerID, period, ok := h.periodParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.exportContext(r)
	defer cancel()
	entries, err := h.service.ListLedger(ctx, caps(r), finance.LedgerFilter{CenterID: centerID, From: period.Start(), To: period.End()})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteLedgerCSV(&buf, entries); err != nil {
		h.fail(w, r, fmt.Errorf("render csv: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"ledger-%s.csv\"", period))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) exportContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.cfg.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, badRequest(err.Error()))
		return false
	}
	return true
}

func (h *Handler) centerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("center_id"))
	if raw == "" {
		if p, ok := rbac.PrincipalFromContext(r.Context()); ok && p.CenterID != uuid.Nil {
			return p.CenterID, true
		}
		httpx.RespondError(w, badRequest("center_id is required"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.RespondError(w, badRequest("invalid center_id"))
		return uuid.Nil, false
	}
	return id, h.allowCenter(w, r, id)
}

func (h *Handler) periodParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, finance.Period, bool) {
	centerID, ok := h.centerParam(w, r)
	if !ok {
		return uuid.Nil, finance.Period{}, false
	}
	q := r.URL.Query()
	period, err := optionalPeriod(q.Get("month"), q.Get("year"))
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, finance.Period{}, false
	}
	if period == (finance.Period{}) {
		period = finance.PeriodOf(h.now().UTC())
	}
	return centerID, period, true
}

func (h *Handler) allowCenter(w http.ResponseWriter, r *http.Request, centerID uuid.UUID) bool {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok || !p.CanAccessCenter(centerID) {
		httpx.RespondError(w, finance.ErrForbidden)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if h.logger != nil {
		h.logger.Error("finance request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func caps(r *http.Request) rbac.Set {
	return rbac.CapabilitiesFromContext(r.Context())
}

// scope limits record lookups to the caller's center; admins are unscoped.
func isAdmin(r *http.Request) bool {
	p, ok := rbac.PrincipalFromContext(r.Context())
	return ok && p.Role == rbac.RoleAdmin
}

func scope(r *http.Request) uuid.UUID {
	p, ok := rbac.PrincipalFromContext(r.Context())
	if !ok || p.Role == rbac.RoleAdmin {
		return uuid.Nil
	}
	return p.CenterID
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.RespondError(w, badRequest("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw, name string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

func optionalPeriod(month, year string) (finance.Period, error) {
	if month == "" && year == "" {
		return finance.Period{}, nil
	}
	m, err := strconv.Atoi(month)
	if err != nil {
		return finance.Period{}, badRequest("invalid month")
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return finance.Period{}, badRequest("invalid year")
	}
	p := finance.Period{Month: m, Year: y}
	if err := p.Validate(); err != nil {
		return finance.Period{}, err
	}
	return p, nil
}

func dateRange(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return time.Time{}, time.Time{}, badRequest("invalid from date")
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return time.Time{}, time.Time{}, badRequest("invalid to date")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, badRequest("to date before from date")
	}
	return start, end, nil
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", finance.ErrValidation, msg)
}
