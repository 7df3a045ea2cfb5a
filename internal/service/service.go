package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/models"
	"github.com/qistapp/installment-service/internal/repository"
	"github.com/qistapp/installment-service/internal/schedule"
)

// ErrPlanNotActive rejects external actions on terminal plans.
var ErrPlanNotActive = errors.New("plan is not active")

// Service handles the engine's boundary operations.
type Service struct {
	store  repository.Store
	ledger *ledger.Ledger
	clk    clock.Clock
	log    *logrus.Logger
}

// NewService initializes a new service.
func NewService(store repository.Store, ldg *ledger.Ledger, clk clock.Clock, log *logrus.Logger) *Service {
	return &Service{store: store, ledger: ldg, clk: clk, log: log}
}

// CreatePlan validates plan terms, generates the installment schedule and
// persists both atomically. Invalid terms leave nothing behind.
func (s *Service) CreatePlan(ctx context.Context, terms schedule.PlanTerms) (*models.PlanSnapshot, error) {
	plan, installments, err := schedule.Generate(terms, s.clk.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreatePlan(ctx, plan, installments); err != nil {
		return nil, fmt.Errorf("failed to persist plan: %w", err)
	}

	s.log.Infof("Plan %s created for buyer %s: %s over %d installments every %d days",
		plan.ID, plan.BuyerID, plan.FinancedAmount(), plan.InstallmentCount, plan.FrequencyDays)
	return snapshot(plan, installments), nil
}

// ApplyPayment applies a payment to an installment.
func (s *Service) ApplyPayment(ctx context.Context, installmentID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.InstallmentState, error) {
	return s.ledger.ApplyPayment(ctx, installmentID, amount, idempotencyKey)
}

// GetPlan returns a plan with its schedule and running totals.
func (s *Service) GetPlan(ctx context.Context, planID uuid.UUID) (*models.PlanSnapshot, error) {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	installments, err := s.store.PlanInstallments(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}
	return snapshot(plan, installments), nil
}

// ListOverdueInstallments returns overdue installments, optionally for one
// buyer.
func (s *Service) ListOverdueInstallments(ctx context.Context, buyerID *uuid.UUID) ([]models.Installment, error) {
	return s.store.ListOverdue(ctx, buyerID)
}

// WaiveInstallment marks an installment as waived.
func (s *Service) WaiveInstallment(ctx context.Context, installmentID uuid.UUID) (*models.InstallmentState, error) {
	return s.ledger.Waive(ctx, installmentID)
}

// CancelPlan cancels a plan. Cancellation is an explicit external action and
// only applies to active plans; the scan loop skips cancelled plans.
func (s *Service) CancelPlan(ctx context.Context, planID uuid.UUID) (*models.PlanSnapshot, error) {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != models.PlanActive {
		return nil, fmt.Errorf("%w: plan %s is %s", ErrPlanNotActive, planID, plan.Status)
	}
	if err := s.store.UpdatePlanStatus(ctx, planID, models.PlanCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel plan: %w", err)
	}
	plan.Status = models.PlanCancelled

	installments, err := s.store.PlanInstallments(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installments: %w", err)
	}
	s.log.Infof("Plan %s cancelled", planID)
	return snapshot(plan, installments), nil
}

// ListNotifications returns a user's in-app notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID) ([]models.Notification, error) {
	return s.store.ListNotifications(ctx, userID)
}

// MarkNotificationRead flags a notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, id)
}

func snapshot(plan *models.InstallmentPlan, installments []models.Installment) *models.PlanSnapshot {
	totalPaid := decimal.Zero
	outstanding := decimal.Zero
	for i := range installments {
		totalPaid = totalPaid.Add(installments[i].PaidAmount)
		if !installments[i].Status.Closed() {
			outstanding = outstanding.Add(installments[i].Outstanding())
		}
	}
	return &models.PlanSnapshot{
		Plan:         *plan,
		Installments: installments,
		TotalPaid:    totalPaid,
		Outstanding:  outstanding,
	}
}
