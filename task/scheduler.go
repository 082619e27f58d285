package task

import (
	"context"
	"fmt"
	"time"

	"github.com/zllovesuki/stylo/spec"

	extErrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule maps every job to its cron spec
type Schedule map[spec.TaskType]string

// DefaultSchedule runs in the scheduler's location
var DefaultSchedule = Schedule{
	spec.TrialSweepTask:      "0 2 * * *",
	spec.MonthlyInvoiceTask:  "0 3 1 * *",
	spec.PaymentReminderTask: "0 9 * * *",
	spec.PendingPaymentTask:  "0 10 * * *",
	spec.SuspensionTask:      "0 23 * * *",
}

// SchedulerOptions contains the configuration for Scheduler
type SchedulerOptions struct {
	Jobs     *Jobs
	Logger   *zap.Logger
	Location *time.Location // Defaults to the location of Jobs
	Schedule Schedule       // Missing entries fall back to DefaultSchedule
}

// Scheduler runs the jobs on their cron specs
type Scheduler struct {
	SchedulerOptions
	cron *cron.Cron
}

// cronLogger lets cron log through zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler registers every job of spec.Tasks. An invalid cron spec is an error.
func NewScheduler(option SchedulerOptions) (*Scheduler, error) {
	if option.Jobs == nil {
		return nil, fmt.Errorf("nil Jobs is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Location == nil {
		option.Location = option.Jobs.Location
	}

	logger := cronLogger{logger: option.Logger.Sugar()}
	c := cron.New(
		cron.WithLocation(option.Location),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	for _, t := range spec.Tasks {
		expr, ok := option.Schedule[t]
		if !ok || expr == "" {
			expr = DefaultSchedule[t]
		}
		if _, err := c.AddFunc(expr, option.Jobs.Func(t)); err != nil {
			return nil, extErrors.Wrapf(err, "Cannot schedule task %s", t)
		}
		option.Logger.Info("Task scheduled",
			zap.String("Task", string(t)),
			zap.String("Schedule", expr),
			zap.String("Location", option.Location.String()),
		)
	}
	return &Scheduler{
		SchedulerOptions: option,
		cron:             c,
	}, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling. The returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next returns the next run of every job
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	next := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		next = append(next, e.Schedule.Next(time.Now().In(s.Location)))
	}
	return next
}
