package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/models"
)

var statusNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return statusNow.AddDate(0, 0, offset)
}

func inst(due time.Time, scheduled, paid string, status models.InstallmentStatus) models.Installment {
	return models.Installment{
		DueDate:         due,
		ScheduledAmount: decimal.RequireFromString(scheduled),
		PaidAmount:      decimal.RequireFromString(paid),
		Status:          status,
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name       string
		inst       models.Installment
		planStatus models.PlanStatus
		want       models.InstallmentStatus
	}{
		{"fully paid", inst(day(10), "300", "300", models.InstallmentPartiallyPaid), models.PlanActive, models.InstallmentPaid},
		{"fully paid past due is still paid", inst(day(-10), "300", "300", models.InstallmentOverdue), models.PlanActive, models.InstallmentPaid},
		{"unpaid before due date", inst(day(10), "300", "0", models.InstallmentScheduled), models.PlanActive, models.InstallmentScheduled},
		{"unpaid on due date", inst(day(0), "300", "0", models.InstallmentScheduled), models.PlanActive, models.InstallmentScheduled},
		{"partial before due date", inst(day(10), "300", "150", models.InstallmentScheduled), models.PlanActive, models.InstallmentPartiallyPaid},
		{"partial on due date", inst(day(0), "300", "150", models.InstallmentScheduled), models.PlanActive, models.InstallmentPartiallyPaid},
		{"unpaid past due on active plan", inst(day(-1), "300", "0", models.InstallmentScheduled), models.PlanActive, models.InstallmentOverdue},
		{"partial past due on active plan", inst(day(-1), "300", "150", models.InstallmentPartiallyPaid), models.PlanActive, models.InstallmentOverdue},
		{"unpaid past due on cancelled plan", inst(day(-1), "300", "0", models.InstallmentScheduled), models.PlanCancelled, models.InstallmentScheduled},
		{"partial past due on defaulted plan", inst(day(-1), "300", "150", models.InstallmentPartiallyPaid), models.PlanDefaulted, models.InstallmentPartiallyPaid},
		{"waived is terminal", inst(day(-30), "300", "0", models.InstallmentWaived), models.PlanActive, models.InstallmentWaived},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ledger.DeriveStatus(&tc.inst, tc.planStatus, statusNow)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveStatus_DueDateIsCalendarDriven(t *testing.T) {
	// Due earlier today is not overdue until the next calendar day.
	i := inst(statusNow.Add(-6*time.Hour), "300", "0", models.InstallmentScheduled)
	assert.Equal(t, models.InstallmentScheduled, ledger.DeriveStatus(&i, models.PlanActive, statusNow))

	nextDay := statusNow.AddDate(0, 0, 1)
	assert.Equal(t, models.InstallmentOverdue, ledger.DeriveStatus(&i, models.PlanActive, nextDay))
}

func TestDerivePlanStatus(t *testing.T) {
	activePlan := func() *models.InstallmentPlan {
		return &models.InstallmentPlan{Status: models.PlanActive}
	}

	t.Run("completed when all installments paid or waived", func(t *testing.T) {
		installments := []models.Installment{
			inst(day(-60), "300", "300", models.InstallmentPaid),
			inst(day(-30), "300", "0", models.InstallmentWaived),
			inst(day(0), "300", "300", models.InstallmentPaid),
		}
		got := ledger.DerivePlanStatus(activePlan(), installments, 3, statusNow)
		assert.Equal(t, models.PlanCompleted, got)
	})

	t.Run("defaulted when consecutive overdue run reaches threshold", func(t *testing.T) {
		installments := []models.Installment{
			inst(day(-90), "300", "300", models.InstallmentPaid),
			inst(day(-60), "300", "0", models.InstallmentOverdue),
			inst(day(-30), "300", "0", models.InstallmentOverdue),
			inst(day(-10), "300", "0", models.InstallmentOverdue),
			inst(day(30), "300", "0", models.InstallmentScheduled),
		}
		assert.Equal(t, models.PlanDefaulted, ledger.DerivePlanStatus(activePlan(), installments, 3, statusNow))
		assert.Equal(t, models.PlanActive, ledger.DerivePlanStatus(activePlan(), installments, 4, statusNow))
	})

	t.Run("waived installment does not break the overdue run", func(t *testing.T) {
		installments := []models.Installment{
			inst(day(-90), "300", "0", models.InstallmentOverdue),
			inst(day(-60), "300", "0", models.InstallmentWaived),
			inst(day(-30), "300", "0", models.InstallmentOverdue),
		}
		assert.Equal(t, models.PlanDefaulted, ledger.DerivePlanStatus(activePlan(), installments, 2, statusNow))
	})

	t.Run("stays active when the run is interrupted by a future installment", func(t *testing.T) {
		installments := []models.Installment{
			inst(day(-30), "300", "0", models.InstallmentOverdue),
			inst(day(30), "300", "0", models.InstallmentScheduled),
			inst(day(60), "300", "0", models.InstallmentScheduled),
		}
		assert.Equal(t, models.PlanActive, ledger.DerivePlanStatus(activePlan(), installments, 2, statusNow))
	})

	t.Run("terminal plans keep their status", func(t *testing.T) {
		plan := &models.InstallmentPlan{Status: models.PlanCancelled}
		installments := []models.Installment{
			inst(day(-60), "300", "0", models.InstallmentScheduled),
		}
		assert.Equal(t, models.PlanCancelled, ledger.DerivePlanStatus(plan, installments, 3, statusNow))
	})
}
