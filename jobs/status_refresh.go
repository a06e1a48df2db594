package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
	jobmetrics "github.com/ssmspro2025/tms-sub000/internal/jobs"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// StatusRefresher is the engine surface used by the refresh job.
type StatusRefresher interface {
	RefreshStatuses(ctx context.Context, caps rbac.Set, centerID uuid.UUID) (finance.RefreshResult, error)
}

// StatusRefreshJob rewrites persisted invoice statuses nightly.
type StatusRefreshJob struct {
	Service StatusRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStatusRefreshJob constructs the job handler.
func NewStatusRefreshJob(service StatusRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusRefreshJob {
	return &StatusRefreshJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the refresh.
func (j *StatusRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("status refresh: service not configured")
	}
	var payload StatusRefreshPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("status refresh payload: %v: %w", err, asynq.SkipRetry)
	}
	centerID, err := parseCenter(payload.CenterID)
	if err != nil {
		return fmt.Errorf("status refresh center: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskInvoicesRefreshStatus)
	res, err := j.Service.RefreshStatuses(ctx, rbac.Defaults(rbac.RoleAdmin), centerID)
	if err != nil {
		j.log().Error("refresh statuses", slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("invoice statuses refreshed", slog.Int("scanned", res.Scanned), slog.Int("updated", res.Updated))
	return tracker.End(nil)
}

func (j *StatusRefreshJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoicesRefreshStatus))
	}
	return slog.Default().With(slog.String("job", TaskInvoicesRefreshStatus))
}
