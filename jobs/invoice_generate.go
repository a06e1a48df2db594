package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
	jobmetrics "github.com/ssmspro2025/tms-sub000/internal/jobs"
	"github.com/ssmspro2025/tms-sub000/internal/rbac"
)

// InvoiceGenerator is the engine surface used by the generation job.
type InvoiceGenerator interface {
	GenerateMonthlyInvoices(ctx context.Context, caps rbac.Set, in finance.GenerateInput) (finance.GenerateResult, error)
	Centers(ctx context.Context) ([]finance.Center, error)
}

// GenerationDefaults fill payload fields left empty.
type GenerationDefaults struct {
	DueInDays     int
	LateFeePerDay decimal.Decimal
}

// InvoiceGenerationJob bills a month for every requested center.
type InvoiceGenerationJob struct {
	Service  InvoiceGenerator
	Defaults GenerationDefaults
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewInvoiceGenerationJob constructs the job handler.
func NewInvoiceGenerationJob(service InvoiceGenerator, defaults GenerationDefaults, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceGenerationJob {
	return &InvoiceGenerationJob{
		Service:  service,
		Defaults: defaults,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the generation job. A center that fails does not stop the
// others; the joined error makes Asynq retry, and the retry skips centers whose
// period is already billed.
func (j *InvoiceGenerationJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("invoice generation: service not configured")
	}
	var payload InvoiceGenerationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invoice generation payload: %v: %w", err, asynq.SkipRetry)
	}
	centerID, err := parseCenter(payload.CenterID)
	if err != nil {
		return fmt.Errorf("invoice generation center: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskInvoicesGenerate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	in := j.input(payload)
	centers, err := resolveCenters(ctx, j.Service.Centers, centerID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve centers", slog.Any("error", err))
		return resultErr
	}

	caps := rbac.Defaults(rbac.RoleAdmin)
	generated := 0
	var errs []error
	for _, id := range centers {
		in.CenterID = id
		res, err := j.Service.GenerateMonthlyInvoices(ctx, caps, in)
		if err != nil {
			if ctx.Err() != nil {
				resultErr = ctx.Err()
				return resultErr
			}
			j.log().Error("generate invoices", slog.String("center_id", id.String()), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("center %s: %w", id, err))
			continue
		}
		generated += res.InvoicesGenerated
	}
	j.Metrics.AddCenters(TaskInvoicesGenerate, len(centers)-len(errs))
	j.log().Info("invoice generation job finished",
		slog.String("period", finance.Period{Month: in.Month, Year: in.Year}.String()),
		slog.Int("centers", len(centers)),
		slog.Int("generated", generated),
		slog.Int("failed_centers", len(errs)))
	resultErr = errors.Join(errs...)
	return resultErr
}

func (j *InvoiceGenerationJob) input(p InvoiceGenerationPayload) finance.GenerateInput {
	period := finance.Period{Month: p.Month, Year: p.Year}
	if p.Month == 0 || p.Year == 0 {
		period = finance.PeriodOf(j.now())
	}
	in := finance.GenerateInput{
		Month:         period.Month,
		Year:          period.Year,
		AcademicYear:  p.AcademicYear,
		DueInDays:     j.Defaults.DueInDays,
		LateFeePerDay: j.Defaults.LateFeePerDay,
	}
	if in.AcademicYear == "" {
		in.AcademicYear = finance.AcademicYearFor(period)
	}
	if p.DueInDays != nil {
		in.DueInDays = *p.DueInDays
	}
	if p.LateFeePerDay != nil {
		in.LateFeePerDay = *p.LateFeePerDay
	}
	return in
}

func (j *InvoiceGenerationJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *InvoiceGenerationJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoicesGenerate))
	}
	return slog.Default().With(slog.String("job", TaskInvoicesGenerate))
}

func resolveCenters(ctx context.Context, list func(context.Context) ([]finance.Center, error), centerID uuid.UUID) ([]uuid.UUID, error) {
	if centerID != uuid.Nil {
		return []uuid.UUID{centerID}, nil
	}
	centers, err := list(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(centers))
	for _, c := range centers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
