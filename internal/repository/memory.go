package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qistapp/installment-service/internal/models"
)

// Memory is an in-process Store used by the test suites and for running the
// service without a database. All methods are safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	plans         map[uuid.UUID]models.InstallmentPlan
	installments  map[uuid.UUID]models.Installment
	events        []models.PaymentEvent
	eventsByKey   map[string]models.PaymentEvent
	buyers        map[uuid.UUID]models.BuyerContact
	notifications map[uuid.UUID]models.Notification
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		plans:         make(map[uuid.UUID]models.InstallmentPlan),
		installments:  make(map[uuid.UUID]models.Installment),
		eventsByKey:   make(map[string]models.PaymentEvent),
		buyers:        make(map[uuid.UUID]models.BuyerContact),
		notifications: make(map[uuid.UUID]models.Notification),
	}
}

func eventKey(installmentID uuid.UUID, key string) string {
	return installmentID.String() + "/" + key
}

// RegisterBuyer seeds a buyer contact. Buyer CRUD is external to the engine.
func (m *Memory) RegisterBuyer(contact models.BuyerContact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyers[contact.BuyerID] = contact
}

func (m *Memory) CreatePlan(_ context.Context, plan *models.InstallmentPlan, installments []models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plans[plan.ID]; exists {
		return fmt.Errorf("plan %s already exists", plan.ID)
	}
	m.plans[plan.ID] = *plan
	for _, inst := range installments {
		m.installments[inst.ID] = inst
	}
	return nil
}

func (m *Memory) Plan(_ context.Context, id uuid.UUID) (*models.InstallmentPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	plan, ok := m.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &plan, nil
}

func (m *Memory) PlanInstallments(_ context.Context, planID uuid.UUID) ([]models.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.planInstallmentsLocked(planID), nil
}

func (m *Memory) planInstallmentsLocked(planID uuid.UUID) []models.Installment {
	var out []models.Installment
	for _, inst := range m.installments {
		if inst.PlanID == planID {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (m *Memory) Installment(_ context.Context, id uuid.UUID) (*models.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.installments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inst, nil
}

func (m *Memory) PaymentEventByKey(_ context.Context, installmentID uuid.UUID, key string) (*models.PaymentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evt, ok := m.eventsByKey[eventKey(installmentID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return &evt, nil
}

func (m *Memory) RecordPayment(_ context.Context, inst *models.Installment, evt *models.PaymentEvent, planStatus models.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.installments[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrVersionConflict
	}
	if _, dup := m.eventsByKey[eventKey(inst.ID, evt.IdempotencyKey)]; dup {
		return ErrVersionConflict
	}
	inst.Version++
	m.installments[inst.ID] = *inst
	m.events = append(m.events, *evt)
	m.eventsByKey[eventKey(inst.ID, evt.IdempotencyKey)] = *evt
	if planStatus != "" {
		plan, ok := m.plans[inst.PlanID]
		if !ok {
			return ErrNotFound
		}
		plan.Status = planStatus
		m.plans[inst.PlanID] = plan
	}
	return nil
}

func (m *Memory) UpdateInstallment(_ context.Context, inst *models.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.installments[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrVersionConflict
	}
	inst.Version++
	m.installments[inst.ID] = *inst
	return nil
}

func (m *Memory) UpdatePlanStatus(_ context.Context, planID uuid.UUID, status models.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return ErrNotFound
	}
	plan.Status = status
	m.plans[planID] = plan
	return nil
}

func (m *Memory) ActivePlans(_ context.Context) ([]ScanPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ScanPlan
	for id, plan := range m.plans {
		if plan.Status != models.PlanActive {
			continue
		}
		out = append(out, ScanPlan{Plan: plan, Installments: m.planInstallmentsLocked(id)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plan.CreatedAt.Before(out[j].Plan.CreatedAt) })
	return out, nil
}

func (m *Memory) ListOverdue(_ context.Context, buyerID *uuid.UUID) ([]models.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Installment
	for _, inst := range m.installments {
		if inst.Status != models.InstallmentOverdue {
			continue
		}
		if buyerID != nil {
			plan, ok := m.plans[inst.PlanID]
			if !ok || plan.BuyerID != *buyerID {
				continue
			}
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (m *Memory) BuyerContact(_ context.Context, buyerID uuid.UUID) (*models.BuyerContact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	contact, ok := m.buyers[buyerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &contact, nil
}

func (m *Memory) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = *n
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID uuid.UUID) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	if !n.IsRead {
		now := time.Now().UTC()
		n.IsRead = true
		n.ReadAt = &now
		m.notifications[id] = n
	}
	return nil
}

// PaymentEvents returns a copy of the append-only audit trail.
func (m *Memory) PaymentEvents(installmentID uuid.UUID) []models.PaymentEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PaymentEvent
	for _, evt := range m.events {
		if evt.InstallmentID == installmentID {
			out = append(out, evt)
		}
	}
	return out
}
