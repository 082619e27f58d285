package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zllovesuki/stylo/app"
	"github.com/zllovesuki/stylo/config"
	"github.com/zllovesuki/stylo/task"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	runOnce := flag.String("run", "", "run one job (trial_sweep, monthly_invoices, pending_payments, payment_reminders, suspend_unpaid) and exit")
	date := flag.String("date", "", "with -run, use this date (YYYY-MM-DD) as today")
	businessID := flag.String("business", "", "with -run, only monthly_invoices or pending_payments of this business")
	dryRun := flag.Bool("dry-run", false, "with -run, only report what monthly_invoices or suspend_unpaid would do")
	flag.Parse()

	// Determine running environment and initialize structural logger
	env, dotFile := config.DotFile()
	logger, flush := app.NewLogger(env, "task", Version)
	defer flush()
	defer logger.Sync()

	// Load configurations from dotFile
	if err := config.LoadDotFile(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Cannot read configurations",
			zap.Error(err),
		)
	}

	billingApp, err := app.New(app.Options{
		Config:     cfg,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logger.Fatal("Cannot initialize billing",
			zap.Error(err),
		)
	}
	defer billingApp.Close()

	jobs, err := task.NewJobs(task.JobsOptions{
		Runner:   billingApp.Service,
		Logger:   logger,
		Location: cfg.Location(),
		DryRun:   cfg.SuspensionDryRun,
	})
	if err != nil {
		logger.Fatal("Cannot initialize billing jobs",
			zap.Error(err),
		)
	}

	if *runOnce != "" {
		opts := task.RunOptions{
			BusinessID: *businessID,
			DryRun:     *dryRun,
		}
		if *date != "" {
			d, err := time.Parse("2006-01-02", *date)
			if err != nil {
				logger.Fatal("Cannot parse -date",
					zap.Error(err),
				)
			}
			opts.Date = &d
		}
		if _, err := jobs.RunOnce(context.Background(), *runOnce, opts); err != nil {
			logger.Error("Billing job failed",
				zap.String("Task", *runOnce),
				zap.Error(err),
			)
		}
		return
	}

	scheduler, err := task.NewScheduler(task.SchedulerOptions{
		Jobs:     jobs,
		Logger:   logger,
		Schedule: cfg.Schedule(),
	})
	if err != nil {
		logger.Fatal("Cannot initialize billing scheduler",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	scheduler.Start()
	logger.Info("Billing task started")

	<-c

	logger.Info("Waiting for running jobs to finish")
	<-scheduler.Stop().Done()
}
