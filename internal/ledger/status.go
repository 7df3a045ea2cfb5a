package ledger

import (
	"time"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/models"
)

// DeriveStatus computes an installment's status from ledger state and the
// current time. It is a pure function: storage never decides a status, it
// only records what this function derives.
//
// Waived is terminal and sticks regardless of time or payments. Overdue
// requires an active plan; installments on completed, defaulted or cancelled
// plans keep their last status.
func DeriveStatus(inst *models.Installment, planStatus models.PlanStatus, now time.Time) models.InstallmentStatus {
	if inst.Status == models.InstallmentWaived {
		return models.InstallmentWaived
	}
	if inst.PaidAmount.Equal(inst.ScheduledAmount) {
		return models.InstallmentPaid
	}
	today := clock.DateOf(now)
	due := clock.DateOf(inst.DueDate)
	if due.Before(today) && planStatus == models.PlanActive {
		return models.InstallmentOverdue
	}
	if inst.PaidAmount.IsZero() {
		return models.InstallmentScheduled
	}
	return models.InstallmentPartiallyPaid
}

// DerivePlanStatus computes the plan-level status from its installments.
// A plan completes when every installment is paid or waived. It defaults when
// the run of consecutive overdue installments starting at the earliest open
// one reaches defaultThreshold. Cancellation is an external action and is
// never derived.
func DerivePlanStatus(plan *models.InstallmentPlan, installments []models.Installment, defaultThreshold int, now time.Time) models.PlanStatus {
	if plan.Status != models.PlanActive {
		return plan.Status
	}

	open := 0
	consecutiveOverdue := 0
	counting := false
	for _, inst := range installments {
		status := DeriveStatus(&inst, plan.Status, now)
		if status.Closed() {
			continue
		}
		open++
		if open == 1 {
			counting = true
		}
		if counting && status == models.InstallmentOverdue {
			consecutiveOverdue++
		} else {
			counting = false
		}
	}

	if open == 0 {
		return models.PlanCompleted
	}
	if defaultThreshold > 0 && consecutiveOverdue >= defaultThreshold {
		return models.PlanDefaulted
	}
	return models.PlanActive
}
