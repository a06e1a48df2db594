package observability

import "github.com/prometheus/client_golang/prometheus"

// FinanceMetrics counts reconciliation engine events.
type FinanceMetrics struct {
	generated     prometheus.Counter
	skippedRuns   prometheus.Counter
	failures      prometheus.Counter
	payments      *prometheus.CounterVec
	paymentAmount *prometheus.CounterVec
	overPayments  prometheus.Counter
	statusUpdates prometheus.Counter
}

// NewFinanceMetrics registers the finance collectors on registerer.
func NewFinanceMetrics(registerer prometheus.Registerer) *FinanceMetrics {
	m := &FinanceMetrics{
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tms_finance_invoices_generated_total",
			Help: "Invoices created by monthly generation runs.",
		}),
		skippedRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tms_finance_generation_skipped_total",
			Help: "Generation runs skipped because the period was already invoiced.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tms_finance_generation_failures_total",
			Help: "Students whose invoice could not be generated.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tms_finance_payments_total",
			Help: "Payments recorded partitioned by method.",
		}, []string{"method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tms_finance_payment_amount_total",
			Help: "Sum of recorded payment amounts partitioned by method.",
		}, []string{"method"}),
		overPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tms_finance_overpayments_total",
			Help: "Payments that pushed an invoice above its total.",
		}),
		statusUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tms_finance_status_updates_total",
			Help: "Invoice statuses rewritten by the refresh job.",
		}),
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.generated, m.skippedRuns, m.failures, m.payments, m.paymentAmount, m.overPayments, m.statusUpdates)
	return m
}

func (m *FinanceMetrics) InvoicesGenerated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.generated.Add(float64(count))
}

func (m *FinanceMetrics) GenerationSkipped() {
	if m == nil {
		return
	}
	m.skippedRuns.Inc()
}

func (m *FinanceMetrics) GenerationFailed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.failures.Add(float64(count))
}

func (m *FinanceMetrics) PaymentRecorded(method string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method).Inc()
	m.paymentAmount.WithLabelValues(method).Add(amount)
}

func (m *FinanceMetrics) OverPayment() {
	if m == nil {
		return
	}
	m.overPayments.Inc()
}

func (m *FinanceMetrics) StatusesUpdated(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.statusUpdates.Add(float64(count))
}
