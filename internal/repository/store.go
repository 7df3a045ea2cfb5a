package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/qistapp/installment-service/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict signals a lost optimistic-lock race; callers retry
	// a bounded number of times before surfacing it.
	ErrVersionConflict = errors.New("version conflict")
)

// ScanPlan pairs an active plan with its full schedule for a reminder scan.
type ScanPlan struct {
	Plan         models.InstallmentPlan
	Installments []models.Installment
}

// Store provides persistence for plans, installments, payment events and
// reminder bookkeeping. Implementations must make RecordPayment atomic: the
// installment update, the payment event append and the optional plan status
// change commit together or not at all.
type Store interface {
	// CreatePlan persists a plan and its full schedule atomically.
	CreatePlan(ctx context.Context, plan *models.InstallmentPlan, installments []models.Installment) error
	Plan(ctx context.Context, id uuid.UUID) (*models.InstallmentPlan, error)
	PlanInstallments(ctx context.Context, planID uuid.UUID) ([]models.Installment, error)
	Installment(ctx context.Context, id uuid.UUID) (*models.Installment, error)

	// PaymentEventByKey returns the recorded event for an idempotency key,
	// or ErrNotFound when the key was never used on this installment.
	PaymentEventByKey(ctx context.Context, installmentID uuid.UUID, key string) (*models.PaymentEvent, error)

	// RecordPayment persists the mutated installment guarded by its loaded
	// version, appends the payment event, and applies planStatus when it is
	// non-empty. Returns ErrVersionConflict on a lost race.
	RecordPayment(ctx context.Context, inst *models.Installment, evt *models.PaymentEvent, planStatus models.PlanStatus) error

	// UpdateInstallment persists status / reminder-stage changes guarded by
	// the loaded version. Monetary fields change only through RecordPayment.
	UpdateInstallment(ctx context.Context, inst *models.Installment) error
	UpdatePlanStatus(ctx context.Context, planID uuid.UUID, status models.PlanStatus) error

	// ActivePlans returns every active plan with its schedule, ordered by
	// installment sequence.
	ActivePlans(ctx context.Context) ([]ScanPlan, error)
	// ListOverdue returns overdue installments, optionally for one buyer.
	ListOverdue(ctx context.Context, buyerID *uuid.UUID) ([]models.Installment, error)

	BuyerContact(ctx context.Context, buyerID uuid.UUID) (*models.BuyerContact, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) error
}
