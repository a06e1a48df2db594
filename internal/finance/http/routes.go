package financehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// MountRoutes registers finance endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.cfg.ExportsPerMinute, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	viewers := h.rbac.RequireAny(rbac.CapFinanceView, rbac.CapPaymentsRecord, rbac.CapInvoicesGenerate)

	r.Group(func(gr chi.Router) {
		gr.Use(viewers)
		gr.Get("/invoices", h.handleListInvoices)
		gr.Get("/invoices/{id}", h.handleGetInvoice)
		gr.Get("/payments", h.handleListPayments)
		gr.Get("/ledger", h.handleListLedger)
		gr.Get("/summary", h.handleSummary)
		gr.Group(func(er chi.Router) {
			er.Use(limiter)
			er.Get("/reports/period.xlsx", h.handlePeriodXLSX)
			er.Get("/reports/ledger.csv", h.handleLedgerCSV)
		})
	})
	r.With(h.rbac.RequireAny(rbac.CapInvoicesGenerate)).Post("/invoices/generate", h.handleGenerate)
	r.With(h.rbac.RequireAny(rbac.CapInvoicesGenerate, rbac.CapPaymentsRecord)).Post("/invoices/refresh-status", h.handleRefreshStatuses)
	r.With(h.rbac.RequireAny(rbac.CapInvoicesCancel)).Post("/invoices/{id}/cancel", h.handleCancelInvoice)
	r.With(h.rbac.RequireAny(rbac.CapPaymentsRecord)).Post("/payments", h.handleRecordPayment)

	r.With(h.rbac.RequireAny(rbac.CapFinanceView, rbac.CapExpensesRecord, rbac.CapExpensesApprove)).Get("/expenses", h.handleListExpenses)
	r.With(h.rbac.RequireAny(rbac.CapExpensesRecord)).Post("/expenses", h.handleRecordExpense)
	r.With(h.rbac.RequireAny(rbac.CapExpensesApprove)).Post("/expenses/{id}/approve", h.handleApproveExpense)
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := rbac.PrincipalFromContext(r.Context()); ok && p.CenterID != uuid.Nil {
		return "center:" + p.CenterID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
