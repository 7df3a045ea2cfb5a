package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReminderEvent is emitted to the notification layer when an installment
// crosses into a new reminder stage. Downstream sinks deduplicate by
// (InstallmentID, Stage) in case a failed scan run re-sends a stage.
type ReminderEvent struct {
	InstallmentID     uuid.UUID       `json:"installment_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	BuyerID           uuid.UUID       `json:"buyer_id"`
	Stage             ReminderStage   `json:"stage"`
	DueDate           time.Time       `json:"due_date"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	EmittedAt         time.Time       `json:"emitted_at"`
}
