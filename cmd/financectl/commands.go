package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ssmspro2025/tms-sub000/internal/finance"
	"github.com/ssmspro2025/tms-sub000/internal/finance/export"
	"github.com/ssmspro2025/tms-sub000/internal/platform/db"
	"github.com/ssmspro2025/tms-sub000/jobs"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rt, err := openRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()
		if err := db.Migrate(cmd.Context(), rt.pool); err != nil {
			return err
		}
		rt.logger.Info("migrations applied")
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate monthly invoices for a center",
	Example: `  financectl generate --center 6f1c... --month 4 --year 2025
  financectl generate --all --enqueue`,
	RunE: runGenerate,
}

var payCmd = &cobra.Command{
	Use:     "pay",
	Short:   "Record a payment",
	Example: `  financectl pay --center 6f1c... --student 2b7a... --invoice 91de... --amount 400 --method upi`,
	RunE:    runPay,
}

var refreshStatusCmd = &cobra.Command{
	Use:   "refresh-status",
	Short: "Rewrite persisted invoice statuses for today",
	RunE:  runRefreshStatus,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a center's month as XLSX or the ledger as CSV",
	RunE:  runExport,
}

func init() {
	generateCmd.Flags().String("center", "", "Center id")
	generateCmd.Flags().Bool("all", false, "Generate for every center (requires --enqueue)")
	generateCmd.Flags().Int("month", 0, "Billing month (default: current)")
	generateCmd.Flags().Int("year", 0, "Billing year (default: current)")
	generateCmd.Flags().String("academic-year", "", "Academic year label (default: April school year)")
	generateCmd.Flags().Int("due-in-days", -1, "Days until due (default: DEFAULT_DUE_IN_DAYS)")
	generateCmd.Flags().String("late-fee", "", "Late fee per day (default: DEFAULT_LATE_FEE_PER_DAY)")
	generateCmd.Flags().Bool("enqueue", false, "Enqueue the run on the worker instead of executing it here")

	payCmd.Flags().String("center", "", "Center id")
	payCmd.Flags().String("student", "", "Student id")
	payCmd.Flags().String("invoice", "", "Invoice id (optional)")
	payCmd.Flags().String("amount", "", "Amount paid")
	payCmd.Flags().String("method", string(finance.MethodCash), "Payment method")
	payCmd.Flags().String("reference", "", "Reference number")
	payCmd.Flags().String("notes", "", "Notes")
	payCmd.Flags().String("idempotency-key", "", "Key rejecting duplicate submissions")
	_ = payCmd.MarkFlagRequired("center")
	_ = payCmd.MarkFlagRequired("student")
	_ = payCmd.MarkFlagRequired("amount")

	refreshStatusCmd.Flags().String("center", "", "Center id (default: every center)")
	refreshStatusCmd.Flags().Bool("enqueue", false, "Enqueue the refresh on the worker")

	exportCmd.Flags().String("center", "", "Center id")
	exportCmd.Flags().Int("month", 0, "Month (default: current)")
	exportCmd.Flags().Int("year", 0, "Year (default: current)")
	exportCmd.Flags().String("format", "xlsx", "xlsx or csv")
	exportCmd.Flags().String("out", "", "Output file (default: stdout)")
	_ = exportCmd.MarkFlagRequired("center")
}

func periodFlags(cmd *cobra.Command) finance.Period {
	month, _ := cmd.Flags().GetInt("month")
	year, _ := cmd.Flags().GetInt("year")
	if month == 0 || year == 0 {
		return finance.PeriodOf(time.Now().UTC())
	}
	return finance.Period{Month: month, Year: year}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rawCenter, _ := cmd.Flags().GetString("center")
	all, _ := cmd.Flags().GetBool("all")
	enqueue, _ := cmd.Flags().GetBool("enqueue")
	academicYear, _ := cmd.Flags().GetString("academic-year")
	dueInDays, _ := cmd.Flags().GetInt("due-in-days")
	rawFee, _ := cmd.Flags().GetString("late-fee")
	if all == (rawCenter != "") {
		return fmt.Errorf("exactly one of --center or --all is required")
	}
	if all && !enqueue {
		return fmt.Errorf("--all runs through the worker, add --enqueue")
	}
	period := periodFlags(cmd)

	var lateFee *decimal.Decimal
	if rawFee != "" {
		fee, err := decimal.NewFromString(rawFee)
		if err != nil {
			return fmt.Errorf("invalid --late-fee: %w", err)
		}
		lateFee = &fee
	}

	if enqueue {
		payload := jobs.InvoiceGenerationPayload{CenterID: rawCenter, Month: period.Month, Year: period.Year, AcademicYear: academicYear, LateFeePerDay: lateFee}
		if dueInDays >= 0 {
			payload.DueInDays = &dueInDays
		}
		return enqueueWith(cmd, func(c *jobs.Client) (*asynq.TaskInfo, error) {
			return c.EnqueueInvoiceGeneration(ctx, payload)
		})
	}

	centerID, err := parseID(rawCenter, "center")
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	in := finance.GenerateInput{
		CenterID:      centerID,
		Month:         period.Month,
		Year:          period.Year,
		AcademicYear:  academicYear,
		DueInDays:     rt.cfg.DefaultDueInDays,
		LateFeePerDay: rt.cfg.DefaultLateFeePerDay,
	}
	if in.AcademicYear == "" {
		in.AcademicYear = finance.AcademicYearFor(period)
	}
	if dueInDays >= 0 {
		in.DueInDays = dueInDays
	}
	if lateFee != nil {
		in.LateFeePerDay = *lateFee
	}
	res, err := rt.services.Finance.GenerateMonthlyInvoices(ctx, operatorCaps, in)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runPay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	rawCenter, _ := flags.GetString("center")
	rawStudent, _ := flags.GetString("student")
	rawInvoice, _ := flags.GetString("invoice")
	rawAmount, _ := flags.GetString("amount")
	method, _ := flags.GetString("method")
	reference, _ := flags.GetString("reference")
	notes, _ := flags.GetString("notes")
	key, _ := flags.GetString("idempotency-key")

	in := finance.RecordPaymentInput{Method: finance.PaymentMethod(method), ReferenceNumber: reference, Notes: notes, IdempotencyKey: key}
	var err error
	if in.CenterID, err = parseID(rawCenter, "center"); err != nil {
		return err
	}
	if in.StudentID, err = parseID(rawStudent, "student"); err != nil {
		return err
	}
	if rawInvoice != "" {
		id, err := parseID(rawInvoice, "invoice")
		if err != nil {
			return err
		}
		in.InvoiceID = &id
	}
	if in.AmountPaid, err = decimal.NewFromString(rawAmount); err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	payment, err := rt.services.Finance.RecordPayment(ctx, operatorCaps, in)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), payment)
}

func runRefreshStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rawCenter, _ := cmd.Flags().GetString("center")
	enqueue, _ := cmd.Flags().GetBool("enqueue")
	if enqueue {
		return enqueueWith(cmd, func(c *jobs.Client) (*asynq.TaskInfo, error) {
			return c.EnqueueStatusRefresh(ctx, rawCenter)
		})
	}
	centerID := uuid.Nil
	if rawCenter != "" {
		var err error
		if centerID, err = parseID(rawCenter, "center"); err != nil {
			return err
		}
	}
	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	res, err := rt.services.Finance.RefreshStatuses(ctx, operatorCaps, centerID)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runExport(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()
	rawCenter, _ := cmd.Flags().GetString("center")
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")
	centerID, err := parseID(rawCenter, "center")
	if err != nil {
		return err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "xlsx" && format != "csv" {
		return fmt.Errorf("unsupported --format %q", format)
	}
	period := periodFlags(cmd)

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	w := cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if format == "csv" {
		entries, err := rt.services.Finance.ListLedger(ctx, operatorCaps, finance.LedgerFilter{CenterID: centerID, From: period.Start(), To: period.End()})
		if err != nil {
			return err
		}
		return export.WriteLedgerCSV(w, entries)
	}
	report, err := rt.services.Finance.PeriodReport(ctx, operatorCaps, centerID, period)
	if err != nil {
		return err
	}
	return export.WritePeriodXLSX(w, report)
}

func enqueueWith(cmd *cobra.Command, fn func(*jobs.Client) (*asynq.TaskInfo, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()
	info, err := fn(client)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]string{"task_id": info.ID, "queue": info.Queue, "type": info.Type})
}
