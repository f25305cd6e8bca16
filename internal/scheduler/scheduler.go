// Package scheduler repeats a job on a cron schedule until its context ends.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. A returned error is logged and does not
// stop the schedule.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron schedule.
type Scheduler struct {
	logger *slog.Logger

	// cron parser for validating/parsing cron expressions
	parser cron.Parser

	location       *time.Location
	runImmediately bool
	runs           atomic.Int64
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// RunImmediately runs the job once before waiting for the first
	// scheduled time.
	// Default: true
	RunImmediately bool

	// Location is the time zone schedules are evaluated in.
	// Default: time.Local
	Location *time.Location
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RunImmediately: true,
		Location:       time.Local,
	}
}

// NewScheduler creates a new scheduler. Expressions use the standard five
// fields or a descriptor such as @hourly or @every 30m.
func NewScheduler() *Scheduler {
	config := DefaultSchedulerConfig()
	return &Scheduler{
		logger:         slog.Default(),
		parser:         cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		location:       config.Location,
		runImmediately: config.RunImmediately,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(config SchedulerConfig) *Scheduler {
	s.runImmediately = config.RunImmediately
	if config.Location != nil {
		s.location = config.Location
	}
	return s
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now().In(s.location)), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Runs reports how many times the job has been started.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Run executes job on the schedule described by expr and blocks until ctx
// is cancelled. A run still in progress when the next one is due is not
// overlapped; the due run is skipped. Run waits for an in-flight job before
// returning.
func (s *Scheduler) Run(ctx context.Context, expr string, job Job) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s.run(ctx, schedule, job)
}

func (s *Scheduler) run(ctx context.Context, schedule cron.Schedule, job Job) error {
	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() { s.execute(ctx, job) }))

	if s.runImmediately {
		s.execute(ctx, job)
	}

	c.Start()
	s.logger.Info("scheduler started",
		slog.Time("next_run", schedule.Next(time.Now().In(s.location))))

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped", slog.Int64("runs", s.runs.Load()))
	return nil
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	run := s.runs.Add(1)
	start := time.Now()

	if err := job(ctx); err != nil {
		s.logger.Error("scheduled job failed",
			slog.Int64("run", run),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return
	}
	s.logger.Debug("scheduled job completed",
		slog.Int64("run", run),
		slog.Duration("duration", time.Since(start)))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
