package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanStatus is the lifecycle status of an installment plan.
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanDefaulted PlanStatus = "defaulted"
	PlanCancelled PlanStatus = "cancelled"
)

// Terminal reports whether the plan can no longer transition.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanCancelled
}

// InstallmentPlan represents an installment-sale agreement between a
// shopkeeper and a buyer. A plan exclusively owns its installments.
type InstallmentPlan struct {
	ID               uuid.UUID       `json:"id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	ProductRef       string          `json:"product_ref"`
	PrincipalAmount  decimal.Decimal `json:"principal_amount"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	InstallmentCount int             `json:"installment_count"`
	FrequencyDays    int             `json:"frequency_days"`
	StartDate        time.Time       `json:"start_date"`
	Status           PlanStatus      `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// FinancedAmount is the part of the principal covered by installments.
func (p *InstallmentPlan) FinancedAmount() decimal.Decimal {
	return p.PrincipalAmount.Sub(p.DownPayment)
}
