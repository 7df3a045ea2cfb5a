package service_test

import (
	"context"
	"io"
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
	"github.com/qistapp/installment-service/internal/service"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newService(t *testing.T) (*service.Service, *repository.Memory) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := repository.NewMemory()
	clk := fixedClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	ldg := ledger.New(store, clk, log, 3)
	return service.NewService(store, ldg, clk, log), store
}

func terms(buyerID uuid.UUID) schedule.PlanTerms {
	return schedule.PlanTerms{
		BuyerID:          buyerID,
		ProductRef:       "SKU-42",
		PrincipalAmount:  decimal.NewFromInt(1000),
		DownPayment:      decimal.NewFromInt(100),
		InstallmentCount: 3,
		FrequencyDays:    30,
		StartDate:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestService_CreatePlan(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the plan with its full schedule", func(t *testing.T) {
		svc, store := newService(t)
		snap, err := svc.CreatePlan(ctx, terms(uuid.New()))

		require.NoError(t, err)
		assert.Equal(t, models.PlanActive, snap.Plan.Status)
		require.Len(t, snap.Installments, 3)
		assert.True(t, snap.TotalPaid.IsZero())
		assert.True(t, decimal.NewFromInt(900).Equal(snap.Outstanding))

		stored, err := store.Plan(ctx, snap.Plan.ID)
		require.NoError(t, err)
		assert.Equal(t, snap.Plan.ID, stored.ID)
	})

	t.Run("invalid terms persist nothing", func(t *testing.T) {
		svc, store := newService(t)
		bad := terms(uuid.New())
		bad.InstallmentCount = 0

		_, err := svc.CreatePlan(ctx, bad)

		require.ErrorIs(t, err, schedule.ErrInvalidPlanTerms)
		plans, err := store.ActivePlans(ctx)
		require.NoError(t, err)
		assert.Empty(t, plans)
	})
}

func TestService_GetPlan(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	snap, err := svc.CreatePlan(ctx, terms(uuid.New()))
	require.NoError(t, err)

	_, err = svc.ApplyPayment(ctx, snap.Installments[0].ID, decimal.NewFromInt(300), "k1")
	require.NoError(t, err)
	_, err = svc.ApplyPayment(ctx, snap.Installments[1].ID, decimal.NewFromInt(120), "k2")
	require.NoError(t, err)

	got, err := svc.GetPlan(ctx, snap.Plan.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(420).Equal(got.TotalPaid), "total paid %s", got.TotalPaid)
	assert.True(t, decimal.NewFromInt(480).Equal(got.Outstanding), "outstanding %s", got.Outstanding)

	_, err = svc.GetPlan(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestService_CancelPlan(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	snap, err := svc.CreatePlan(ctx, terms(uuid.New()))
	require.NoError(t, err)

	cancelled, err := svc.CancelPlan(ctx, snap.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanCancelled, cancelled.Plan.Status)

	stored, err := store.Plan(ctx, snap.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanCancelled, stored.Status)

	_, err = svc.CancelPlan(ctx, snap.Plan.ID)
	assert.ErrorIs(t, err, service.ErrPlanNotActive)
}

func TestService_ListOverdueInstallments(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	buyerA := uuid.New()
	buyerB := uuid.New()
	snapA, err := svc.CreatePlan(ctx, terms(buyerA))
	require.NoError(t, err)
	snapB, err := svc.CreatePlan(ctx, terms(buyerB))
	require.NoError(t, err)

	for _, id := range []uuid.UUID{snapA.Installments[0].ID, snapB.Installments[0].ID} {
		inst, err := store.Installment(ctx, id)
		require.NoError(t, err)
		inst.Status = models.InstallmentOverdue
		require.NoError(t, store.UpdateInstallment(ctx, inst))
	}

	all, err := svc.ListOverdueInstallments(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := svc.ListOverdueInstallments(ctx, &buyerA)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, snapA.Installments[0].ID, onlyA[0].ID)
}
