package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/models"
	"github.com/qistapp/installment-service/internal/notify"
	"github.com/qistapp/installment-service/internal/repository"
)

// ErrScanInProgress is returned when a scan is requested while the previous
// one is still running. It is logged and ignored; the next interval retries.
var ErrScanInProgress = errors.New("scan already in progress")

// Scanner walks every active plan, refreshes installment statuses against
// the clock, and emits reminder events exactly once per (installment, stage)
// under normal operation. The only state it keeps between runs is the
// persisted last reminder stage of each installment.
type Scanner struct {
	store              repository.Store
	sink               notify.Sink
	clk                clock.Clock
	log                *logrus.Logger
	upcomingWindowDays int
	defaultThreshold   int

	mu sync.Mutex
}

// NewScanner creates a reminder scanner.
func NewScanner(store repository.Store, sink notify.Sink, clk clock.Clock, log *logrus.Logger, upcomingWindowDays, defaultThreshold int) *Scanner {
	return &Scanner{
		store:              store,
		sink:               sink,
		clk:                clk,
		log:                log,
		upcomingWindowDays: upcomingWindowDays,
		defaultThreshold:   defaultThreshold,
	}
}

// stageFor computes the applicable reminder stage from the due date and the
// current time. Closed installments never get a stage.
func (s *Scanner) stageFor(inst *models.Installment, now time.Time) models.ReminderStage {
	if inst.Status.Closed() {
		return models.StageNone
	}
	today := clock.DateOf(now)
	due := clock.DateOf(inst.DueDate)
	switch {
	case due.Before(today):
		return models.StageOverdue
	case due.Equal(today):
		return models.StageDue
	default:
		days := int(due.Sub(today).Hours() / 24)
		if days <= s.upcomingWindowDays {
			return models.StageUpcoming
		}
		return models.StageNone
	}
}

// RunOnce executes a single scan. Overlapping invocations are rejected with
// ErrScanInProgress. Failures on one installment are isolated: they are
// logged and the batch continues; the next run retries them. The scan is
// cooperatively cancellable between installments.
func (s *Scanner) RunOnce(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrScanInProgress
	}
	defer s.mu.Unlock()

	now := s.clk.Now()
	plans, err := s.store.ActivePlans(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active plans: %w", err)
	}

	var scanned, emitted, failed int
	for _, sp := range plans {
		refreshed := make([]models.Installment, 0, len(sp.Installments))
		for i := range sp.Installments {
			if err := ctx.Err(); err != nil {
				return err
			}
			inst := sp.Installments[i]
			scanned++
			didEmit, err := s.processInstallment(ctx, &sp.Plan, &inst, now)
			if err != nil {
				failed++
				s.log.Errorf("Scan failed for installment %s: %v", inst.ID, err)
			}
			if didEmit {
				emitted++
			}
			refreshed = append(refreshed, inst)
		}

		if status := ledger.DerivePlanStatus(&sp.Plan, refreshed, s.defaultThreshold, now); status == models.PlanDefaulted {
			if err := s.store.UpdatePlanStatus(ctx, sp.Plan.ID, models.PlanDefaulted); err != nil {
				failed++
				s.log.Errorf("Failed to mark plan %s defaulted: %v", sp.Plan.ID, err)
			} else {
				s.log.Warnf("Plan %s defaulted: %d consecutive overdue installments", sp.Plan.ID, s.defaultThreshold)
			}
		}
	}

	s.log.Infof("Reminder scan complete: %d installments scanned, %d reminders emitted, %d failures", scanned, emitted, failed)
	return nil
}

// processInstallment refreshes one installment's status and emits a reminder
// when its stage advanced. The stage is persisted only after the sink
// accepted the event, so a failed emit is retried on the next run and
// downstream sinks deduplicate by (installment, stage).
func (s *Scanner) processInstallment(ctx context.Context, plan *models.InstallmentPlan, inst *models.Installment, now time.Time) (bool, error) {
	newStatus := ledger.DeriveStatus(inst, plan.Status, now)
	stage := s.stageFor(inst, now)

	statusChanged := newStatus != inst.Status
	stageAdvanced := stage.Rank() > inst.LastReminderStage.Rank()
	if !statusChanged && !stageAdvanced {
		return false, nil
	}

	inst.Status = newStatus
	if stageAdvanced {
		event := models.ReminderEvent{
			InstallmentID:     inst.ID,
			PlanID:            plan.ID,
			BuyerID:           plan.BuyerID,
			Stage:             stage,
			DueDate:           inst.DueDate,
			OutstandingAmount: inst.Outstanding(),
			EmittedAt:         now,
		}
		if err := s.sink.Deliver(ctx, event); err != nil {
			// Withhold the stage so the next run re-emits, but still
			// persist the status refresh.
			if statusChanged {
				inst.UpdatedAt = now
				if uerr := s.store.UpdateInstallment(ctx, inst); uerr != nil {
					return false, fmt.Errorf("emit failed (%v), status update failed: %w", err, uerr)
				}
			}
			return false, err
		}
		inst.LastReminderStage = stage
	}

	inst.UpdatedAt = now
	if err := s.store.UpdateInstallment(ctx, inst); err != nil {
		// A concurrent payment won the version race; the next run sees the
		// fresh state.
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.Warnf("Scan lost update race on installment %s, deferring to next run", inst.ID)
			return stageAdvanced, nil
		}
		return stageAdvanced, err
	}
	return stageAdvanced, nil
}
