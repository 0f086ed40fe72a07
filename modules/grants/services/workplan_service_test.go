package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

func TestWorkplanService_CreateValidates(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx()

	_, err := f.workplans.Create(ctx, CreateWorkplanInput{ERRName: "ERR", ERRCode: "E1", State: "Khartoum", Title: "", Amount: dec("10")})
	requireCode(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)

	_, err = f.workplans.Create(ctx, CreateWorkplanInput{ERRName: "ERR", ERRCode: "E1", State: "Khartoum", Title: "T", Amount: dec("0")})
	requireCode(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)

	wp, err := f.workplans.Create(ctx, CreateWorkplanInput{ERRName: " ERR ", ERRCode: "e1", State: "  North   Kordofan ", Title: "T", Amount: dec("10")})
	require.NoError(t, err)
	require.Equal(t, "E1", wp.ERRCode)
	require.Equal(t, "North Kordofan", wp.State)
	require.Equal(t, workplan.StatusDraft, wp.Status)
	require.Equal(t, workplan.FundingUnassigned, wp.FundingStatus)
	require.Equal(t, "u-1", wp.CreatedBy)
}

func TestWorkplanService_DraftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx()

	wp, err := f.workplans.Create(ctx, CreateWorkplanInput{ERRName: "ERR", ERRCode: "E1", State: "Khartoum", Title: "T", Amount: dec("10")})
	require.NoError(t, err)

	title := "New title"
	wp, err = f.workplans.UpdateDraft(ctx, wp.ID, UpdateDraftInput{Title: &title, Amount: decPtr("25")})
	require.NoError(t, err)
	require.Equal(t, "New title", wp.Title)
	require.True(t, wp.Amount.Equal(dec("25")))

	_, err = f.workplans.Submit(ctx, wp.ID)
	require.NoError(t, err)

	_, err = f.workplans.UpdateDraft(ctx, wp.ID, UpdateDraftInput{Title: &title})
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)
	_, err = f.workplans.Submit(ctx, wp.ID)
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	_, err = f.workplans.Get(ctx, uuid.New())
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestWorkplanService_PreAssignSerials(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)

	first := f.pending(t, b, "E1", "Khartoum", "100")
	require.Equal(t, workplan.FundingPending, first.FundingStatus)
	require.Equal(t, "LCC-KHA-0126-0001", *first.GrantSerial)
	require.Equal(t, "LCC-KHA-0126-0001-001", *first.Serial)

	second := f.pending(t, b, "E2", "Khartoum", "50")
	require.Equal(t, "LCC-KHA-0126-0001", *second.GrantSerial, "same grant call, cycle and state share the grant serial")
	require.Equal(t, "LCC-KHA-0126-0001-002", *second.Serial)

	other := f.pending(t, b, "E3", "Darfur", "50")
	require.Equal(t, "LCC-DAR-0126-0001", *other.GrantSerial)
	require.Equal(t, "LCC-DAR-0126-0001-001", *other.Serial)

	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID}).Equal(dec("400")))
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID, State: "Khartoum"}).Equal(dec("250")))

	evs := f.store.fundingEvents()
	require.Len(t, evs, 3)
	require.Equal(t, string(workplan.TransitionPreAssign), evs[0].Transition)
	require.Equal(t, []uuid.UUID{b.cycle.ID}, evs[0].CycleIDs)
	require.Equal(t, events.EventVersionV1, evs[0].EventVersion)
}

func TestWorkplanService_PreAssignRejections(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()
	other := f.seedGrantCall(t, "GC2", "500")

	closed, err := f.cycles.Create(ctx, CreateCycleInput{Name: "Old", Year: 2025})
	require.NoError(t, err)
	_, err = f.cycles.Close(ctx, closed.ID)
	require.NoError(t, err)

	draft, err := f.workplans.Create(ctx, CreateWorkplanInput{ERRName: "ERR", ERRCode: "E9", State: "Khartoum", Title: "T", Amount: dec("10")})
	require.NoError(t, err)

	tests := []struct {
		name   string
		wp     workplan.Workplan
		in     PreAssignInput
		status int
		code   string
	}{
		{"exceeds state allocation", f.submitted(t, "E1", "Khartoum", "401"), PreAssignInput{b.cycle.ID, b.gc.ID}, http.StatusConflict, CodeInsufficientRemaining},
		{"state without allocation", f.submitted(t, "E1", "Kassala", "10"), PreAssignInput{b.cycle.ID, b.gc.ID}, http.StatusConflict, CodeInsufficientRemaining},
		{"grant call not included", f.submitted(t, "E1", "Khartoum", "10"), PreAssignInput{b.cycle.ID, other.ID}, http.StatusConflict, CodeInsufficientRemaining},
		{"unknown grant call", f.submitted(t, "E1", "Khartoum", "10"), PreAssignInput{b.cycle.ID, uuid.New()}, http.StatusNotFound, CodeNotFound},
		{"unknown cycle", f.submitted(t, "E1", "Khartoum", "10"), PreAssignInput{uuid.New(), b.gc.ID}, http.StatusNotFound, CodeNotFound},
		{"closed cycle", f.submitted(t, "E1", "Khartoum", "10"), PreAssignInput{closed.ID, b.gc.ID}, http.StatusConflict, CodeCycleClosed},
		{"draft workplan", draft, PreAssignInput{b.cycle.ID, b.gc.ID}, http.StatusConflict, CodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.workplans.PreAssign(ctx, tt.wp.ID, tt.in)
			requireCode(t, err, tt.status, tt.code)
			require.Equal(t, workplan.FundingUnassigned, f.store.getWorkplan(tt.wp.ID).FundingStatus)
		})
	}

	wp := f.pending(t, b, "E1", "Khartoum", "10")
	_, err = f.workplans.PreAssign(ctx, wp.ID, PreAssignInput{b.cycle.ID, b.gc.ID})
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)
}

func TestWorkplanService_PreAssignNonLatinState(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	_, err := f.cycles.UpsertAllocations(ctx, b.cycle.ID, []AllocationInput{
		{State: "Darfur", Amount: dec("100")},
		{State: "الخرطوم", Amount: dec("100")},
	})
	require.NoError(t, err)

	// The state code of a grant serial is built from latin letters only.
	wp := f.submitted(t, "E1", "الخرطوم", "10")
	_, err = f.workplans.PreAssign(ctx, wp.ID, PreAssignInput{b.cycle.ID, b.gc.ID})
	requireCode(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)

	got := f.store.getWorkplan(wp.ID)
	require.Equal(t, workplan.FundingUnassigned, got.FundingStatus)
	require.False(t, got.HasSerial())
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID, State: "الخرطوم"}).Equal(dec("100")))
}

func TestWorkplanService_ReleaseKeepsSerial(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	wp := f.pending(t, b, "E1", "Khartoum", "100")
	serial := *wp.Serial

	released, err := f.workplans.Release(ctx, wp.ID, "wrong state")
	require.NoError(t, err)
	require.Equal(t, workplan.FundingUnassigned, released.FundingStatus)
	require.Nil(t, released.CycleID)
	require.Equal(t, serial, *released.Serial)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID}).Equal(dec("600")))

	_, err = f.workplans.Release(ctx, wp.ID, "")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	again, err := f.workplans.PreAssign(ctx, wp.ID, PreAssignInput{b.cycle.ID, b.gc.ID})
	require.NoError(t, err)
	require.Equal(t, serial, *again.Serial)

	next := f.pending(t, b, "E2", "Khartoum", "10")
	require.Equal(t, "LCC-KHA-0126-0001-002", *next.Serial, "released serials are never handed out again")

	history, err := f.workplans.History(ctx, wp.ID)
	require.NoError(t, err)
	require.Len(t, history.Funding, 3)
	require.Equal(t, workplan.TransitionRelease, history.Funding[1].Transition)
	require.Equal(t, b.cycle.ID, *history.Funding[1].CycleID, "release history points at the cycle the money left")
	require.Equal(t, "wrong state", history.Funding[1].Reason)
}

func TestWorkplanService_ConcurrentPreAssignNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)

	const n = 12
	wps := make([]workplan.Workplan, n)
	for i := range wps {
		wps[i] = f.submitted(t, "E1", "Khartoum", "50")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for _, wp := range wps {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.workplans.PreAssign(testCtx(), id, PreAssignInput{b.cycle.ID, b.gc.ID})
			mu.Lock()
			defer mu.Unlock()
			var svcErr *ServiceError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &svcErr) && svcErr.Code == CodeInsufficientRemaining:
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(wp.ID)
	}
	wg.Wait()

	require.Equal(t, 8, ok)
	require.Equal(t, n-8, refused)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID, State: "Khartoum"}).IsZero())
}

type failingSink struct{ nopSink }

func (failingSink) FundingChanged(context.Context, events.FundingChangedV1) error {
	return errors.New("outbox unavailable")
}

func TestWorkplanService_PreAssignRollsBackOnEventFailure(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	wp := f.submitted(t, "E1", "Khartoum", "100")

	svc := NewWorkplanService(f.store, f.store, f.store, f.store, f.store,
		WithTxRunner(f.store.runTx), WithClock(func() time.Time { return fixedNow }), WithEventSink(failingSink{}))
	_, err := svc.PreAssign(testCtx(), wp.ID, PreAssignInput{b.cycle.ID, b.gc.ID})
	require.Error(t, err)

	got := f.store.getWorkplan(wp.ID)
	require.Equal(t, workplan.FundingUnassigned, got.FundingStatus)
	require.False(t, got.HasSerial())

	wp, err = f.workplans.PreAssign(testCtx(), wp.ID, PreAssignInput{b.cycle.ID, b.gc.ID})
	require.NoError(t, err)
	require.Equal(t, "LCC-KHA-0126-0001-001", *wp.Serial, "rolled back counters are not consumed")
}

func TestWorkplanService_List(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	f.pending(t, b, "E1", "Khartoum", "10")
	f.pending(t, b, "E2", "Darfur", "10")
	f.submitted(t, "E3", "Khartoum", "10")

	page, err := f.workplans.List(testCtx(), workplan.FindParams{State: "khartoum"})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Equal(t, 25, page.Limit)

	page, err = f.workplans.List(testCtx(), workplan.FindParams{
		CycleID:       idPtr(b.cycle.ID),
		FundingStatus: []workplan.FundingStatus{workplan.FundingPending},
		Limit:         1000,
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, page.Total)
	require.Equal(t, 100, page.Limit)

	f.workplans.SetPageLimits(1, 5)
	page, err = f.workplans.List(testCtx(), workplan.FindParams{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.EqualValues(t, 3, page.Total)
}
