package jobs

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvoicesGenerate bills a month for one or all centers.
	TaskInvoicesGenerate = "finance:invoices:generate"
	// TaskInvoicesRefreshStatus rewrites persisted invoice statuses for today.
	TaskInvoicesRefreshStatus = "finance:invoices:refresh_status"

	allCenters = "all"
)

// InvoiceGenerationPayload configures a generation run. Zero month and year bill
// the current month; an empty academic year follows the April school year.
type InvoiceGenerationPayload struct {
	CenterID      string           `json:"center_id"`
	Month         int              `json:"month,omitempty"`
	Year          int              `json:"year,omitempty"`
	AcademicYear  string           `json:"academic_year,omitempty"`
	DueInDays     *int             `json:"due_in_days,omitempty"`
	LateFeePerDay *decimal.Decimal `json:"late_fee_per_day,omitempty"`
}

// StatusRefreshPayload scopes a status refresh.
type StatusRefreshPayload struct {
	CenterID string `json:"center_id"`
}

// NewInvoiceGenerationTask creates an Asynq task for monthly invoice generation.
func NewInvoiceGenerationTask(payload InvoiceGenerationPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.CenterID) == "" {
		payload.CenterID = allCenters
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoicesGenerate, body, asynq.Queue(QueueDefault)), nil
}

// NewStatusRefreshTask creates an Asynq task refreshing invoice statuses.
func NewStatusRefreshTask(centerID string) (*asynq.Task, error) {
	if strings.TrimSpace(centerID) == "" {
		centerID = allCenters
	}
	body, err := json.Marshal(StatusRefreshPayload{CenterID: centerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoicesRefreshStatus, body, asynq.Queue(QueueDefault)), nil
}

// parseCenter maps "all" (or empty) to uuid.Nil.
func parseCenter(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, allCenters) {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}
