package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

var fixedNow = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memStore
	cache *MemoryPoolCache

	cycles     *CycleService
	grantCalls *GrantCallService
	workplans  *WorkplanService
	approvals  *ApprovalService
	mous       *MOUService
	reports    *ReportService
	pool       *PoolService
}

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	store := newMemStore()
	cache := NewMemoryPoolCache(time.Minute)
	opts := append([]Option{
		WithTxRunner(store.runTx),
		WithClock(func() time.Time { return fixedNow }),
		WithEventSink(store),
		WithPoolCache(cache),
	}, extra...)

	return &fixture{
		store:      store,
		cache:      cache,
		cycles:     NewCycleService(store, store, store, opts...),
		grantCalls: NewGrantCallService(store, "usd", opts...),
		workplans:  NewWorkplanService(store, store, store, store, store, opts...),
		approvals:  NewApprovalService(store, store, store, store, opts...),
		mous:       NewMOUService(store, store, opts...),
		reports:    NewReportService(store, store, opts...),
		pool:       NewPoolService(store, store, store, store, "USD", opts...),
	}
}

func testCtx() context.Context {
	return composables.WithUser(context.Background(), &composables.User{ID: "u-1", Roles: []string{"admin"}})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

// budgetSetup is one open cycle with one included grant call and two state
// allocations.
type budgetSetup struct {
	cycle budget.Cycle
	gc    budget.GrantCall
}

func (f *fixture) seedGrantCall(t *testing.T, code, amount string) budget.GrantCall {
	t.Helper()
	gc, err := f.grantCalls.Create(testCtx(), CreateGrantCallInput{
		Code: code, Name: code + " call", Donor: "Donor", DonorCode: "LCC", Amount: dec(amount),
	})
	require.NoError(t, err)
	return gc
}

// seedBudget creates cycle "C1" with 600 of a 1000 grant call included and
// allocations Khartoum=400, Darfur=200.
func (f *fixture) seedBudget(t *testing.T) budgetSetup {
	t.Helper()
	ctx := testCtx()
	gc := f.seedGrantCall(t, "GC1", "1000")
	c, err := f.cycles.Create(ctx, CreateCycleInput{Name: "C1", Year: 2026})
	require.NoError(t, err)
	_, err = f.cycles.UpsertInclusion(ctx, c.ID, UpsertInclusionInput{GrantCallID: gc.ID, Amount: dec("600")})
	require.NoError(t, err)
	_, err = f.cycles.UpsertAllocations(ctx, c.ID, []AllocationInput{
		{State: "Khartoum", Amount: dec("400"), DecisionNo: "D-1"},
		{State: "Darfur", Amount: dec("200"), DecisionNo: "D-2"},
	})
	require.NoError(t, err)
	return budgetSetup{cycle: c, gc: gc}
}

func (f *fixture) submitted(t *testing.T, errCode, state, amount string) workplan.Workplan {
	t.Helper()
	ctx := testCtx()
	wp, err := f.workplans.Create(ctx, CreateWorkplanInput{
		ERRName:  "ERR " + errCode,
		ERRCode:  errCode,
		State:    state,
		Locality: "Locality",
		Title:    "Kitchen support",
		Amount:   dec(amount),
	})
	require.NoError(t, err)
	wp, err = f.workplans.Submit(ctx, wp.ID)
	require.NoError(t, err)
	return wp
}

func (f *fixture) pending(t *testing.T, b budgetSetup, errCode, state, amount string) workplan.Workplan {
	t.Helper()
	wp := f.submitted(t, errCode, state, amount)
	wp, err := f.workplans.PreAssign(testCtx(), wp.ID, PreAssignInput{CycleID: b.cycle.ID, GrantCallID: b.gc.ID})
	require.NoError(t, err)
	return wp
}

func (f *fixture) committed(t *testing.T, b budgetSetup, errCode, state, amount string) workplan.Workplan {
	t.Helper()
	wp := f.pending(t, b, errCode, state, amount)
	res, err := f.approvals.Approve(testCtx(), wp.ID, ApproveInput{Comment: "ok"})
	require.NoError(t, err)
	return res.Workplan
}

func (f *fixture) usage(t *testing.T, scope UsageScope) decimal.Decimal {
	t.Helper()
	totals, err := f.store.Usage(context.Background(), scope)
	require.NoError(t, err)
	return totals.Remaining()
}

// requireCode asserts err is a *ServiceError with the given code and status.
func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected *ServiceError, got %T: %v", err, err)
	require.Equal(t, code, svcErr.Code, svcErr.Message)
	require.Equal(t, status, svcErr.Status)
}

func idPtr(id uuid.UUID) *uuid.UUID { return &id }
