package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstallmentStatus is the lifecycle status of a single installment.
type InstallmentStatus string

const (
	InstallmentScheduled     InstallmentStatus = "scheduled"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
	InstallmentWaived        InstallmentStatus = "waived"
)

// Closed reports whether the installment needs no further payment.
func (s InstallmentStatus) Closed() bool {
	return s == InstallmentPaid || s == InstallmentWaived
}

// ReminderStage is a reminder severity tier. Stages only ever progress
// forward for a given installment; StageNone means nothing was emitted yet.
type ReminderStage string

const (
	StageNone     ReminderStage = ""
	StageUpcoming ReminderStage = "upcoming"
	StageDue      ReminderStage = "due"
	StageOverdue  ReminderStage = "overdue"
)

// Rank orders stages by severity so monotonic progression can be enforced
// with a single comparison.
func (s ReminderStage) Rank() int {
	switch s {
	case StageUpcoming:
		return 1
	case StageDue:
		return 2
	case StageOverdue:
		return 3
	default:
		return 0
	}
}

// Installment is one scheduled payment obligation within a plan. Installments
// are never deleted, only transitioned. Version guards optimistic updates.
type Installment struct {
	ID                uuid.UUID         `json:"id"`
	PlanID            uuid.UUID         `json:"plan_id"`
	Sequence          int               `json:"sequence"`
	DueDate           time.Time         `json:"due_date"`
	ScheduledAmount   decimal.Decimal   `json:"scheduled_amount"`
	PaidAmount        decimal.Decimal   `json:"paid_amount"`
	Status            InstallmentStatus `json:"status"`
	LastReminderStage ReminderStage     `json:"last_reminder_stage,omitempty"`
	Version           int               `json:"-"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Outstanding is the unpaid remainder of the scheduled amount.
func (i *Installment) Outstanding() decimal.Decimal {
	return i.ScheduledAmount.Sub(i.PaidAmount)
}
