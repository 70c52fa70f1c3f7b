/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron          *cron.Cron
	jobs          *Jobs
	logger        *zap.Logger
	cashSchedule  string
	sweepSchedule string
}

// NewScheduler creates a new scheduler instance. An empty schedule disables its job.
func NewScheduler(jobs *Jobs, logger *zap.Logger, cashSchedule, sweepSchedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.With(zap.String("component", "cron"))))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:          c,
		jobs:          jobs,
		logger:        logger.With(zap.String("component", "scheduler")),
		cashSchedule:  cashSchedule,
		sweepSchedule: sweepSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.register("cash monitor", s.cashSchedule, func() { s.jobs.CheckMachineCash() })
	s.register("session sweep", s.sweepSchedule, s.jobs.SweepSessions)
	s.cron.Start()
}

func (s *Scheduler) register(name, schedule string, fn func()) {
	if schedule == "" {
		s.logger.Info("job disabled", zap.String("job", name))
		return
	}
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		s.logger.Error("failed to schedule job", zap.String("job", name), zap.String("schedule", schedule), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job", zap.String("job", name), zap.String("schedule", schedule))
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
