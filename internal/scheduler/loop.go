package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Loop drives the scanner on a fixed interval using cron. SkipIfStillRunning
// keeps overlapping scheduled runs from double-emitting; the scanner's own
// try-lock guards manually triggered scans as well.
type Loop struct {
	cron            *cron.Cron
	scanner         *Scanner
	intervalMinutes int
	log             *logrus.Logger
}

// NewLoop creates a scan loop with the given interval.
func NewLoop(scanner *Scanner, intervalMinutes int, log *logrus.Logger) *Loop {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(log)),
	))
	return &Loop{cron: c, scanner: scanner, intervalMinutes: intervalMinutes, log: log}
}

// Start schedules recurring scans until ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dm", l.intervalMinutes)
	_, err := l.cron.AddFunc(spec, func() {
		if err := l.scanner.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrScanInProgress) {
				l.log.Warnf("Reminder scan skipped: previous run still in flight")
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			l.log.Errorf("Reminder scan failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reminder scan: %w", err)
	}
	l.cron.Start()
	l.log.Infof("Reminder scan loop started, interval %dm", l.intervalMinutes)
	return nil
}

// Stop halts scheduling and waits for an in-flight scan to finish.
func (l *Loop) Stop() {
	ctx := l.cron.Stop()
	<-ctx.Done()
	l.log.Info("Reminder scan loop stopped")
}
