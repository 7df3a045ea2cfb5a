package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qistapp/installment-service/internal/clock"
	"github.com/qistapp/installment-service/internal/models"
	"github.com/qistapp/installment-service/internal/repository"
)

var (
	// ErrInvalidAmount rejects non-positive payment amounts.
	ErrInvalidAmount = errors.New("invalid payment amount")
	// ErrOverpaymentRejected rejects amounts exceeding the outstanding
	// balance. The ledger never caps silently; callers split the excess
	// into the next installment explicitly.
	ErrOverpaymentRejected = errors.New("payment exceeds outstanding amount")
	// ErrInstallmentClosed rejects payments against paid or waived
	// installments.
	ErrInstallmentClosed = errors.New("installment is already settled")
	// ErrConflict is surfaced after bounded internal retries of a lost
	// optimistic-lock race; the call is safe to retry.
	ErrConflict = errors.New("concurrent modification conflict")
)

// maxAttempts bounds internal retries on version conflicts.
const maxAttempts = 3

const lockStripes = 64

// Ledger owns installment mutation. Payments against the same installment
// are serialized twice over: a striped in-process mutex keeps local callers
// from racing, and the store's version column guards against other service
// instances.
type Ledger struct {
	store            repository.Store
	clock            clock.Clock
	log              *logrus.Logger
	defaultThreshold int
	locks            [lockStripes]sync.Mutex
}

// New initializes a ledger.
func New(store repository.Store, clk clock.Clock, log *logrus.Logger, defaultThreshold int) *Ledger {
	return &Ledger{store: store, clock: clk, log: log, defaultThreshold: defaultThreshold}
}

func (l *Ledger) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &l.locks[h.Sum32()%lockStripes]
}

// ApplyPayment applies amount to an installment under the accounting
// invariants: the amount must be positive and must not exceed the
// outstanding balance. A replayed idempotency key returns the previously
// recorded result without touching state. Paying off the plan's last open
// installment completes the plan in the same transaction.
func (l *Ledger) ApplyPayment(ctx context.Context, installmentID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.InstallmentState, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if idempotencyKey == "" {
		// Callers that do not retry get a throwaway key.
		idempotencyKey = uuid.New().String()
	}

	mu := l.lockFor(installmentID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, err := l.applyOnce(ctx, installmentID, amount, idempotencyKey)
		if errors.Is(err, repository.ErrVersionConflict) {
			l.log.Warnf("Payment conflict on installment %s, attempt %d/%d", installmentID, attempt, maxAttempts)
			continue
		}
		return state, err
	}
	return nil, fmt.Errorf("%w: installment %s", ErrConflict, installmentID)
}

func (l *Ledger) applyOnce(ctx context.Context, installmentID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.InstallmentState, error) {
	if prior, err := l.store.PaymentEventByKey(ctx, installmentID, idempotencyKey); err == nil {
		return l.replay(ctx, installmentID, prior)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	inst, err := l.store.Installment(ctx, installmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installment: %w", err)
	}
	plan, err := l.store.Plan(ctx, inst.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	if inst.Status.Closed() {
		return nil, fmt.Errorf("%w: installment %s is %s", ErrInstallmentClosed, installmentID, inst.Status)
	}
	if amount.GreaterThan(inst.Outstanding()) {
		return nil, fmt.Errorf("%w: amount %s, outstanding %s", ErrOverpaymentRejected, amount, inst.Outstanding())
	}

	now := l.clock.Now()
	inst.PaidAmount = inst.PaidAmount.Add(amount)
	inst.Status = DeriveStatus(inst, plan.Status, now)
	inst.UpdatedAt = now

	// Paying off the last open installment completes the plan atomically
	// with the payment.
	var planStatus models.PlanStatus
	if inst.Status == models.InstallmentPaid {
		all, err := l.store.PlanInstallments(ctx, plan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan installments: %w", err)
		}
		for i := range all {
			if all[i].ID == inst.ID {
				all[i] = *inst
			}
		}
		if derived := DerivePlanStatus(plan, all, l.defaultThreshold, now); derived == models.PlanCompleted {
			planStatus = models.PlanCompleted
		}
	}

	evt := &models.PaymentEvent{
		ID:                  uuid.New(),
		InstallmentID:       inst.ID,
		IdempotencyKey:      idempotencyKey,
		AmountApplied:       amount,
		ResultingPaidAmount: inst.PaidAmount,
		AppliedAt:           now,
	}
	if err := l.store.RecordPayment(ctx, inst, evt, planStatus); err != nil {
		return nil, err
	}

	finalPlanStatus := plan.Status
	if planStatus != "" {
		finalPlanStatus = planStatus
	}
	l.log.Infof("Payment of %s applied to installment %s (plan %s): status %s, paid %s/%s",
		amount, inst.ID, plan.ID, inst.Status, inst.PaidAmount, inst.ScheduledAmount)
	if finalPlanStatus == models.PlanCompleted {
		l.log.Infof("Plan %s completed", plan.ID)
	}

	return &models.InstallmentState{Installment: *inst, PlanStatus: finalPlanStatus}, nil
}

// replay rebuilds the result of an already-recorded payment without mutating
// anything.
func (l *Ledger) replay(ctx context.Context, installmentID uuid.UUID, evt *models.PaymentEvent) (*models.InstallmentState, error) {
	inst, err := l.store.Installment(ctx, installmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installment: %w", err)
	}
	plan, err := l.store.Plan(ctx, inst.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	l.log.Infof("Replayed idempotency key %q for installment %s", evt.IdempotencyKey, installmentID)
	return &models.InstallmentState{Installment: *inst, PlanStatus: plan.Status, Duplicate: true}, nil
}

// Waive marks an installment as waived. Waived is terminal: the installment
// is excluded from reminders and counts toward plan completion.
func (l *Ledger) Waive(ctx context.Context, installmentID uuid.UUID) (*models.InstallmentState, error) {
	mu := l.lockFor(installmentID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		state, err := l.waiveOnce(ctx, installmentID)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		return state, err
	}
	return nil, fmt.Errorf("%w: installment %s", ErrConflict, installmentID)
}

func (l *Ledger) waiveOnce(ctx context.Context, installmentID uuid.UUID) (*models.InstallmentState, error) {
	inst, err := l.store.Installment(ctx, installmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load installment: %w", err)
	}
	plan, err := l.store.Plan(ctx, inst.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if inst.Status.Closed() {
		return nil, fmt.Errorf("%w: installment %s is %s", ErrInstallmentClosed, installmentID, inst.Status)
	}

	now := l.clock.Now()
	inst.Status = models.InstallmentWaived
	inst.UpdatedAt = now
	if err := l.store.UpdateInstallment(ctx, inst); err != nil {
		return nil, err
	}

	planStatus := plan.Status
	all, err := l.store.PlanInstallments(ctx, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan installments: %w", err)
	}
	if derived := DerivePlanStatus(plan, all, l.defaultThreshold, now); derived == models.PlanCompleted {
		if err := l.store.UpdatePlanStatus(ctx, plan.ID, models.PlanCompleted); err != nil {
			return nil, fmt.Errorf("failed to complete plan: %w", err)
		}
		planStatus = models.PlanCompleted
	}

	l.log.Infof("Installment %s waived (plan %s)", inst.ID, plan.ID)
	return &models.InstallmentState{Installment: *inst, PlanStatus: planStatus}, nil
}
