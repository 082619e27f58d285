// Package task drives the billing engine's daily and monthly jobs.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/billing"
	"github.com/zllovesuki/stylo/invoice"
	"github.com/zllovesuki/stylo/proration"
	"github.com/zllovesuki/stylo/spec"

	"go.uber.org/zap"
)

var (
	// ErrUnknownTask is returned by RunOnce for a name that is not in spec.Tasks
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnsupportedOption is returned when a RunOptions field does not apply to the task
	ErrUnsupportedOption = errors.New("option not supported by task")
)

// Runner is the part of billing.Service the jobs drive
type Runner interface {
	CheckExpiredTrials(ctx context.Context, now time.Time) (billing.BatchResult, error)
	GenerateAllMonthlyInvoices(ctx context.Context, ref *time.Time) (billing.BatchResult, error)
	ProcessAllPendingInvoices(ctx context.Context, today time.Time) (billing.BatchResult, error)
	SendPaymentReminders(ctx context.Context, today time.Time) (billing.BatchResult, error)
	SuspendUnpaidSubscriptions(ctx context.Context, today time.Time, opts billing.SuspendOptions) (billing.BatchResult, error)

	GenerateMonthlyInvoice(ctx context.Context, businessID string, ref *time.Time) (*invoice.Invoice, error)
	PreviewMonthlyInvoice(ctx context.Context, businessID string, ref *time.Time) (*invoice.Invoice, error)
	ProcessBusinessInvoices(ctx context.Context, businessID string, today time.Time) (billing.BatchResult, error)
}

var _ Runner = &billing.Service{}

// JobsOptions contains the configuration for Jobs
type JobsOptions struct {
	Runner    Runner
	Logger    *zap.Logger
	Location  *time.Location   // Calendar used to decide what "today" is, defaults to spec.DefaultTimezone
	Now       func() time.Time // Optional, defaults to time.Now
	GraceDays int              // Suspension grace period, defaults to spec.SuspensionGraceDays
	DryRun    bool             // Suspension only reports
	Timeout   time.Duration    // Upper bound of one run, defaults to one hour
}

// RunOptions narrows a manual run
type RunOptions struct {
	Date       *time.Time // Civil date used as today, monthly_invoices bills the month before it
	BusinessID string     // Only monthly_invoices and pending_payments
	DryRun     bool       // Only monthly_invoices with a BusinessID, and suspend_unpaid
}

// Jobs runs a billing job by its spec.TaskType
type Jobs struct {
	JobsOptions
}

func NewJobs(option JobsOptions) (*Jobs, error) {
	if option.Runner == nil {
		return nil, fmt.Errorf("nil Runner is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Location == nil {
		loc, err := time.LoadLocation(spec.DefaultTimezone)
		if err != nil {
			return nil, err
		}
		option.Location = loc
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.GraceDays <= 0 {
		option.GraceDays = spec.SuspensionGraceDays
	}
	if option.Timeout <= 0 {
		option.Timeout = time.Hour
	}
	return &Jobs{
		JobsOptions: option,
	}, nil
}

// Run executes one job now and logs its result
func (j *Jobs) Run(ctx context.Context, task spec.TaskType) (billing.BatchResult, error) {
	return j.RunWith(ctx, task, RunOptions{})
}

// RunWith executes one job narrowed by opts and logs its result
func (j *Jobs) RunWith(ctx context.Context, task spec.TaskType, opts RunOptions) (billing.BatchResult, error) {
	now := j.Now()
	today := proration.DateOf(now, j.Location)
	var ref *time.Time
	if opts.Date != nil {
		today = proration.Normalize(*opts.Date)
		ref = &today
		// the trial sweep sees every trial that ended during the day
		now = time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, j.Location).Add(-time.Second)
	}
	logger := j.Logger.With(
		zap.String("Task", string(task)),
		zap.String("Today", today.Format("2006-01-02")),
	)
	if opts.BusinessID != "" {
		logger = logger.With(zap.String("BusinessID", opts.BusinessID))
	}
	if err := opts.check(task); err != nil {
		return billing.BatchResult{}, err
	}

	var (
		result billing.BatchResult
		err    error
	)
	switch {
	case task == spec.TrialSweepTask:
		result, err = j.Runner.CheckExpiredTrials(ctx, now)
	case task == spec.MonthlyInvoiceTask && opts.BusinessID != "":
		result, err = j.generateOne(ctx, logger, opts.BusinessID, ref, opts.DryRun)
	case task == spec.MonthlyInvoiceTask:
		// every business bills the month before its own today, unless a date is given
		result, err = j.Runner.GenerateAllMonthlyInvoices(ctx, ref)
	case task == spec.PendingPaymentTask && opts.BusinessID != "":
		result, err = j.Runner.ProcessBusinessInvoices(ctx, opts.BusinessID, today)
	case task == spec.PendingPaymentTask:
		result, err = j.Runner.ProcessAllPendingInvoices(ctx, today)
	case task == spec.PaymentReminderTask:
		result, err = j.Runner.SendPaymentReminders(ctx, today)
	case task == spec.SuspensionTask:
		result, err = j.Runner.SuspendUnpaidSubscriptions(ctx, today, billing.SuspendOptions{
			GraceDays: j.GraceDays,
			DryRun:    j.DryRun || opts.DryRun,
		})
	default:
		return result, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	if err != nil {
		logger.Error("Task run failed",
			zap.Error(err),
		)
		return result, err
	}
	logger.Info("Task run finished",
		zap.Int("Processed", result.Processed),
		zap.Int("Created", result.Created),
		zap.Int("Skipped", result.Skipped),
		zap.Int("Failed", result.Failed),
	)
	return result, nil
}

func (o RunOptions) check(task spec.TaskType) error {
	if o.BusinessID != "" && task != spec.MonthlyInvoiceTask && task != spec.PendingPaymentTask {
		return fmt.Errorf("%w: %s cannot target one business", ErrUnsupportedOption, task)
	}
	if o.DryRun && task == spec.MonthlyInvoiceTask && o.BusinessID == "" {
		return fmt.Errorf("%w: a dry run of %s needs a business", ErrUnsupportedOption, task)
	}
	if o.DryRun && task != spec.MonthlyInvoiceTask && task != spec.SuspensionTask {
		return fmt.Errorf("%w: %s has no dry run", ErrUnsupportedOption, task)
	}
	return nil
}

func (j *Jobs) generateOne(ctx context.Context, logger *zap.Logger, businessID string, ref *time.Time, dryRun bool) (billing.BatchResult, error) {
	result := billing.BatchResult{Processed: 1}
	generate := j.Runner.GenerateMonthlyInvoice
	if dryRun {
		generate = j.Runner.PreviewMonthlyInvoice
	}
	inv, err := generate(ctx, businessID, ref)
	if err != nil {
		result.Failed = 1
		return result, err
	}
	if inv == nil {
		result.Skipped = 1
		logger.Info("No invoice for period")
		return result, nil
	}
	if dryRun {
		logger.Info("Invoice would be generated",
			zap.String("Period", inv.Period()),
			zap.Int("StaffCount", inv.StaffCount),
			zap.String("Total", inv.Total.StringFixed(proration.MoneyPlaces)),
		)
		return result, nil
	}
	result.Created = 1
	return result, nil
}

// RunOnce runs the job called name, as given to the -run flag
func (j *Jobs) RunOnce(ctx context.Context, name string, opts RunOptions) (billing.BatchResult, error) {
	for _, t := range spec.Tasks {
		if string(t) == name {
			return j.RunWith(ctx, t, opts)
		}
	}
	return billing.BatchResult{}, fmt.Errorf("%w: %s", ErrUnknownTask, name)
}

// Func returns the cron entry of a job. Each run gets its own Timeout bound context.
func (j *Jobs) Func(task spec.TaskType) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.Timeout)
		defer cancel()
		j.Run(ctx, task)
	}
}
