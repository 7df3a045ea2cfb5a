package ledger_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qistapp/installment-service/internal/ledger"
	"github.com/qistapp/installment-service/internal/models"
	"github.com/qistapp/installment-service/internal/repository"
	"github.com/qistapp/installment-service/internal/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type ledgerHarness struct {
	store  *repository.Memory
	clock  *fakeClock
	ledger *ledger.Ledger
	plan   *models.InstallmentPlan
	insts  []models.Installment
}

// newHarness seeds a 1000/100 plan split into three 300s due on day 30/60/90.
func newHarness(t *testing.T) *ledgerHarness {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := &fakeClock{now: start.Add(9 * time.Hour)}
	store := repository.NewMemory()

	plan, installments, err := schedule.Generate(schedule.PlanTerms{
		BuyerID:          uuid.New(),
		ProductRef:       "SKU-7",
		PrincipalAmount:  decimal.NewFromInt(1000),
		DownPayment:      decimal.NewFromInt(100),
		InstallmentCount: 3,
		FrequencyDays:    30,
		StartDate:        start,
	}, clk.Now())
	require.NoError(t, err)
	require.NoError(t, store.CreatePlan(context.Background(), plan, installments))

	return &ledgerHarness{
		store:  store,
		clock:  clk,
		ledger: ledger.New(store, clk, quietLogger(), 3),
		plan:   plan,
		insts:  installments,
	}
}

func TestApplyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		h := newHarness(t)
		for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-50)} {
			_, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, amount, uuid.NewString())
			assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
		}
		stored, err := h.store.Installment(ctx, h.insts[0].ID)
		require.NoError(t, err)
		assert.True(t, stored.PaidAmount.IsZero())
	})

	t.Run("rejects overpayment without mutating state", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(350), uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrOverpaymentRejected)

		stored, err := h.store.Installment(ctx, h.insts[0].ID)
		require.NoError(t, err)
		assert.True(t, stored.PaidAmount.IsZero())
		assert.Equal(t, models.InstallmentScheduled, stored.Status)
		assert.Empty(t, h.store.PaymentEvents(h.insts[0].ID))
	})

	t.Run("rejects overpayment of the remainder after a partial payment", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(200), uuid.NewString())
		require.NoError(t, err)

		_, err = h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(101), uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrOverpaymentRejected)
	})

	t.Run("full payment settles the installment", func(t *testing.T) {
		h := newHarness(t)
		state, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(300), uuid.NewString())
		require.NoError(t, err)

		assert.Equal(t, models.InstallmentPaid, state.Installment.Status)
		assert.True(t, decimal.NewFromInt(300).Equal(state.Installment.PaidAmount))
		assert.Equal(t, models.PlanActive, state.PlanStatus)
		assert.False(t, state.Duplicate)
	})

	t.Run("partial payments transition through partially paid to paid", func(t *testing.T) {
		h := newHarness(t)
		state, err := h.ledger.ApplyPayment(ctx, h.insts[1].ID, decimal.NewFromInt(150), uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, models.InstallmentPartiallyPaid, state.Installment.Status)

		state, err = h.ledger.ApplyPayment(ctx, h.insts[1].ID, decimal.NewFromInt(150), uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, models.InstallmentPaid, state.Installment.Status)

		events := h.store.PaymentEvents(h.insts[1].ID)
		require.Len(t, events, 2)
		assert.True(t, decimal.NewFromInt(150).Equal(events[0].ResultingPaidAmount))
		assert.True(t, decimal.NewFromInt(300).Equal(events[1].ResultingPaidAmount))
	})

	t.Run("rejects payments against settled installments", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(300), uuid.NewString())
		require.NoError(t, err)

		_, err = h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(1), uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrInstallmentClosed)
	})

	t.Run("paying the final open installment completes the plan", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 2; i++ {
			state, err := h.ledger.ApplyPayment(ctx, h.insts[i].ID, decimal.NewFromInt(300), uuid.NewString())
			require.NoError(t, err)
			assert.Equal(t, models.PlanActive, state.PlanStatus)
		}

		state, err := h.ledger.ApplyPayment(ctx, h.insts[2].ID, decimal.NewFromInt(300), uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, models.PlanCompleted, state.PlanStatus)

		plan, err := h.store.Plan(ctx, h.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanCompleted, plan.Status)
	})

	t.Run("replaying an idempotency key returns the recorded result once", func(t *testing.T) {
		h := newHarness(t)
		key := uuid.NewString()

		first, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(150), key)
		require.NoError(t, err)
		assert.False(t, first.Duplicate)

		second, err := h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(150), key)
		require.NoError(t, err)
		assert.True(t, second.Duplicate)
		assert.True(t, first.Installment.PaidAmount.Equal(second.Installment.PaidAmount))

		// One event, one application.
		assert.Len(t, h.store.PaymentEvents(h.insts[0].ID), 1)
		stored, err := h.store.Installment(ctx, h.insts[0].ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(150).Equal(stored.PaidAmount))
	})

	t.Run("concurrent payments totalling the scheduled amount settle exactly", func(t *testing.T) {
		h := newHarness(t)
		const workers = 10 // 10 x 30 = 300

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = h.ledger.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(30), uuid.NewString())
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "worker %d", i)
		}
		stored, err := h.store.Installment(ctx, h.insts[0].ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(300).Equal(stored.PaidAmount))
		assert.Equal(t, models.InstallmentPaid, stored.Status)
		assert.Len(t, h.store.PaymentEvents(h.insts[0].ID), workers)
	})

	t.Run("surfaces a conflict after bounded retries", func(t *testing.T) {
		h := newHarness(t)
		conflicted := &conflictStore{Store: h.store}
		ldg := ledger.New(conflicted, h.clock, quietLogger(), 3)

		_, err := ldg.ApplyPayment(ctx, h.insts[0].ID, decimal.NewFromInt(100), uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrConflict)
		assert.Equal(t, 3, conflicted.attempts)
	})
}

// conflictStore loses every optimistic write.
type conflictStore struct {
	repository.Store
	attempts int
}

func (s *conflictStore) RecordPayment(context.Context, *models.Installment, *models.PaymentEvent, models.PlanStatus) error {
	s.attempts++
	return repository.ErrVersionConflict
}

func TestWaive(t *testing.T) {
	ctx := context.Background()

	t.Run("waived installments are terminal", func(t *testing.T) {
		h := newHarness(t)
		state, err := h.ledger.Waive(ctx, h.insts[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.InstallmentWaived, state.Installment.Status)

		_, err = h.ledger.Waive(ctx, h.insts[1].ID)
		assert.ErrorIs(t, err, ledger.ErrInstallmentClosed)
		_, err = h.ledger.ApplyPayment(ctx, h.insts[1].ID, decimal.NewFromInt(10), uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrInstallmentClosed)
	})

	t.Run("waiving the last open installment completes the plan", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 2; i++ {
			_, err := h.ledger.ApplyPayment(ctx, h.insts[i].ID, decimal.NewFromInt(300), uuid.NewString())
			require.NoError(t, err)
		}

		state, err := h.ledger.Waive(ctx, h.insts[2].ID)
		require.NoError(t, err)
		assert.Equal(t, models.PlanCompleted, state.PlanStatus)
	})
}
