package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/models"
)

// ErrInvalidPlanTerms rejects plan terms before anything is persisted.
var ErrInvalidPlanTerms = errors.New("invalid plan terms")

// PlanTerms are the validated inputs to schedule generation.
type PlanTerms struct {
	BuyerID          uuid.UUID
	ProductRef       string
	PrincipalAmount  decimal.Decimal
	DownPayment      decimal.Decimal
	InstallmentCount int
	FrequencyDays    int
	StartDate        time.Time
}

// Validate checks the structural constraints on plan terms.
func (t PlanTerms) Validate() error {
	if t.BuyerID == uuid.Nil {
		return fmt.Errorf("%w: buyer id is required", ErrInvalidPlanTerms)
	}
	if t.InstallmentCount < 1 {
		return fmt.Errorf("%w: installment count must be at least 1, got %d", ErrInvalidPlanTerms, t.InstallmentCount)
	}
	if t.FrequencyDays < 1 {
		return fmt.Errorf("%w: frequency days must be at least 1, got %d", ErrInvalidPlanTerms, t.FrequencyDays)
	}
	if t.DownPayment.IsNegative() {
		return fmt.Errorf("%w: down payment cannot be negative", ErrInvalidPlanTerms)
	}
	if t.PrincipalAmount.LessThanOrEqual(t.DownPayment) {
		return fmt.Errorf("%w: principal must exceed down payment", ErrInvalidPlanTerms)
	}
	if t.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidPlanTerms)
	}
	return nil
}

// Generate builds a plan and its ordered installment schedule from the given
// terms. Due dates fall every FrequencyDays after the start date and the
// financed amount is split evenly, rounded down to cents, with the final
// installment absorbing the rounding remainder so the amounts sum exactly.
//
// Generate has no side effects; the caller persists the plan and its full
// schedule atomically.
func Generate(terms PlanTerms, now time.Time) (*models.InstallmentPlan, []models.Installment, error) {
	if err := terms.Validate(); err != nil {
		return nil, nil, err
	}

	plan := &models.InstallmentPlan{
		ID:               uuid.New(),
		BuyerID:          terms.BuyerID,
		ProductRef:       terms.ProductRef,
		PrincipalAmount:  terms.PrincipalAmount,
		DownPayment:      terms.DownPayment,
		InstallmentCount: terms.InstallmentCount,
		FrequencyDays:    terms.FrequencyDays,
		StartDate:        clock.DateOf(terms.StartDate),
		Status:           models.PlanActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	financed := plan.FinancedAmount()
	n := int64(terms.InstallmentCount)
	per := financed.Div(decimal.NewFromInt(n)).RoundDown(2)
	last := financed.Sub(per.Mul(decimal.NewFromInt(n - 1)))

	installments := make([]models.Installment, 0, terms.InstallmentCount)
	for i := 1; i <= terms.InstallmentCount; i++ {
		amount := per
		if i == terms.InstallmentCount {
			amount = last
		}
		installments = append(installments, models.Installment{
			ID:              uuid.New(),
			PlanID:          plan.ID,
			Sequence:        i,
			DueDate:         plan.StartDate.AddDate(0, 0, i*terms.FrequencyDays),
			ScheduledAmount: amount,
			PaidAmount:      decimal.Zero,
			Status:          models.InstallmentScheduled,
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return plan, installments, nil
}
