/**
 * @description
 * Scheduled job implementations for the ATM service.
 */
package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CashReader is the slice of the repository the cash monitor needs.
type CashReader interface {
	MachineCash(ctx context.Context) (decimal.Decimal, error)
}

// SessionSweeper removes idle sessions.
type SessionSweeper interface {
	Sweep() int
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	cash      CashReader
	sessions  SessionSweeper
	events    *EventNotifier
	watermark decimal.Decimal
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewJobs creates a new Jobs runner. sessions may be nil when no HTTP front-end runs.
func NewJobs(cash CashReader, sessions SessionSweeper, events *EventNotifier, watermark decimal.Decimal, logger *zap.Logger) *Jobs {
	return &Jobs{
		cash:      cash,
		sessions:  sessions,
		events:    events,
		watermark: watermark,
		timeout:   30 * time.Second,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "jobs")),
	}
}

// CheckMachineCash reports machine cash below the watermark. It returns true when
// an alert was raised.
func (j *Jobs) CheckMachineCash() bool {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cash, err := j.cash.MachineCash(ctx)
	if err != nil {
		j.logger.Error("failed to read machine cash", zap.Error(err))
		return false
	}
	if !cash.LessThan(j.watermark) {
		j.logger.Debug("machine cash healthy", zap.String("cash", cash.StringFixed(2)))
		return false
	}

	j.logger.Warn("machine cash below watermark",
		zap.String("cash", cash.StringFixed(2)),
		zap.String("watermark", j.watermark.StringFixed(2)),
	)
	j.events.CashLow(ctx, cash, j.watermark, j.now().UTC())
	return true
}

// SweepSessions logs out idle HTTP sessions.
func (j *Jobs) SweepSessions() {
	if j.sessions == nil {
		return
	}
	if removed := j.sessions.Sweep(); removed > 0 {
		j.logger.Info("idle sessions closed", zap.Int("count", removed))
	}
}
