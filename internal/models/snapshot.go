package models

import (
	"github.com/shopspring/decimal"
)

// PlanSnapshot is the dashboard view of a plan with its full schedule and
// running totals.
type PlanSnapshot struct {
	Plan         InstallmentPlan `json:"plan"`
	Installments []Installment   `json:"installments"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// InstallmentState is returned to the caller after a payment is applied.
type InstallmentState struct {
	Installment Installment `json:"installment"`
	PlanStatus  PlanStatus  `json:"plan_status"`
	Duplicate   bool        `json:"duplicate"` // true when an idempotency key was replayed
}
