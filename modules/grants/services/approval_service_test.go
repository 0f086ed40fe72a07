package services

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

func TestApprovalService_Approve(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	wp := f.pending(t, b, "E1", "Khartoum", "100")
	res, err := f.approvals.Approve(ctx, wp.ID, ApproveInput{Comment: " looks good "})
	require.NoError(t, err)
	require.Equal(t, workplan.FundingCommitted, res.Workplan.FundingStatus)
	require.Equal(t, workplan.DecisionApproved, res.Approval.Decision)
	require.True(t, res.Approval.ApprovedAmount.Equal(dec("100")))
	require.Equal(t, "looks good", res.Approval.Comment)
	require.Equal(t, "u-1", res.Approval.Approver)

	totals, err := f.store.Usage(ctx, UsageScope{CycleID: b.cycle.ID})
	require.NoError(t, err)
	require.True(t, totals.Committed.Equal(dec("100")))
	require.True(t, totals.Pending.IsZero())

	_, err = f.approvals.Approve(ctx, wp.ID, ApproveInput{})
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	_, err = f.approvals.Approve(ctx, f.submitted(t, "E2", "Khartoum", "5").ID, ApproveInput{})
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)
}

func TestApprovalService_ApproveAmountChange(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	lower := f.pending(t, b, "E1", "Khartoum", "100")
	res, err := f.approvals.Approve(ctx, lower.ID, ApproveInput{ApprovedAmount: decPtr("80")})
	require.NoError(t, err)
	require.True(t, res.Workplan.Amount.Equal(dec("80")))
	require.True(t, res.Workplan.RequestedAmount.Equal(dec("100")))

	// Khartoum has 400 - 80 = 320 left; 250 pending leaves 70 for an increase.
	higher := f.pending(t, b, "E2", "Khartoum", "250")
	_, err = f.approvals.Approve(ctx, higher.ID, ApproveInput{ApprovedAmount: decPtr("321")})
	requireCode(t, err, http.StatusConflict, CodeInsufficientRemaining)
	require.Equal(t, workplan.FundingPending, f.store.getWorkplan(higher.ID).FundingStatus)

	res, err = f.approvals.Approve(ctx, higher.ID, ApproveInput{ApprovedAmount: decPtr("320")})
	require.NoError(t, err)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID, State: "Khartoum"}).IsZero())

	_, err = f.approvals.Approve(ctx, f.pending(t, b, "E3", "Darfur", "10").ID, ApproveInput{ApprovedAmount: decPtr("-1")})
	requireCode(t, err, http.StatusUnprocessableEntity, CodeValidationFailed)
}

func TestApprovalService_Reject(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	pending := f.pending(t, b, "E1", "Khartoum", "100")
	res, err := f.approvals.Reject(ctx, pending.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, workplan.StatusRejected, res.Workplan.Status)
	require.Equal(t, workplan.FundingUnassigned, res.Workplan.FundingStatus)
	require.Equal(t, workplan.DecisionRejected, res.Approval.Decision)
	require.Nil(t, res.Approval.ApprovedAmount)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID}).Equal(dec("600")))

	unassigned := f.submitted(t, "E2", "Khartoum", "10")
	res, err = f.approvals.Reject(ctx, unassigned.ID, "")
	require.NoError(t, err)
	require.Equal(t, workplan.StatusRejected, res.Workplan.Status)

	_, err = f.approvals.Reject(ctx, unassigned.ID, "again")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	committed := f.committed(t, b, "E3", "Khartoum", "10")
	_, err = f.approvals.Reject(ctx, committed.ID, "")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	history, err := f.workplans.History(ctx, pending.ID)
	require.NoError(t, err)
	require.Len(t, history.Approvals, 1)
	require.Len(t, history.Funding, 2)
}

func TestApprovalService_Decommit(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	wp := f.committed(t, b, "E1", "Khartoum", "100")
	out, err := f.approvals.Decommit(ctx, wp.ID, "project cancelled")
	require.NoError(t, err)
	require.Equal(t, workplan.FundingUnassigned, out.FundingStatus)
	require.Nil(t, out.CycleID)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID}).Equal(dec("600")))

	_, err = f.approvals.Decommit(ctx, wp.ID, "")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	pending := f.pending(t, b, "E2", "Khartoum", "10")
	_, err = f.approvals.Decommit(ctx, pending.ID, "")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	_, err = f.approvals.Decommit(ctx, uuid.New(), "")
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestApprovalService_DecommitClosedCycle(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	wp := f.committed(t, b, "E1", "Khartoum", "100")
	_, err := f.cycles.Close(ctx, b.cycle.ID)
	require.NoError(t, err)

	_, err = f.approvals.Decommit(ctx, wp.ID, "")
	requireCode(t, err, http.StatusConflict, CodeCycleClosed)
	require.Equal(t, workplan.FundingCommitted, f.store.getWorkplan(wp.ID).FundingStatus)
}

func TestApprovalService_Reassign(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	gc2 := f.seedGrantCall(t, "GC2", "1000")
	_, err := f.cycles.UpsertInclusion(ctx, b.cycle.ID, UpsertInclusionInput{GrantCallID: gc2.ID, Amount: dec("300")})
	require.NoError(t, err)

	wp := f.committed(t, b, "E1", "Khartoum", "300")
	serial := *wp.Serial

	// Khartoum has only 100 left, but the move is checked net of the
	// workplan's own 300.
	moved, err := f.approvals.Reassign(ctx, wp.ID, ReassignInput{CycleID: b.cycle.ID, GrantCallID: gc2.ID, Reason: "donor swap"})
	require.NoError(t, err)
	require.Equal(t, workplan.FundingCommitted, moved.FundingStatus)
	require.Equal(t, gc2.ID, *moved.GrantCallID)
	require.Equal(t, "Khartoum", moved.State)
	require.Equal(t, serial, *moved.Serial)

	totals, err := f.store.Usage(ctx, UsageScope{CycleID: b.cycle.ID, GrantCallID: idPtr(b.gc.ID)})
	require.NoError(t, err)
	require.True(t, totals.Committed.IsZero())

	recorded := len(f.store.fundingEvents())
	same, err := f.approvals.Reassign(ctx, wp.ID, ReassignInput{CycleID: b.cycle.ID, GrantCallID: gc2.ID})
	require.NoError(t, err, "the current target is checked net of the workplan's own reservation")
	require.Equal(t, gc2.ID, *same.GrantCallID)
	require.Equal(t, workplan.FundingCommitted, same.FundingStatus)
	require.Len(t, f.store.fundingEvents(), recorded, "an unchanged target records no transition")

	_, err = f.approvals.Reassign(ctx, wp.ID, ReassignInput{CycleID: b.cycle.ID, GrantCallID: gc2.ID, State: "Darfur"})
	requireCode(t, err, http.StatusConflict, CodeInsufficientRemaining)

	_, err = f.approvals.Reassign(ctx, f.submitted(t, "E2", "Khartoum", "1").ID, ReassignInput{CycleID: b.cycle.ID, GrantCallID: gc2.ID})
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)
}

func TestApprovalService_ReassignAcrossCycles(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	c2, err := f.cycles.Create(ctx, CreateCycleInput{Name: "C2", Year: 2026})
	require.NoError(t, err)
	_, err = f.cycles.UpsertInclusion(ctx, c2.ID, UpsertInclusionInput{GrantCallID: b.gc.ID, Amount: dec("400")})
	require.NoError(t, err)
	_, err = f.cycles.UpsertAllocations(ctx, c2.ID, []AllocationInput{{State: "Darfur", Amount: dec("400")}})
	require.NoError(t, err)

	wp := f.pending(t, b, "E1", "Khartoum", "150")
	moved, err := f.approvals.Reassign(ctx, wp.ID, ReassignInput{CycleID: c2.ID, GrantCallID: b.gc.ID, State: "Darfur"})
	require.NoError(t, err)
	require.Equal(t, c2.ID, *moved.CycleID)
	require.Equal(t, "Darfur", moved.State)
	require.True(t, f.usage(t, UsageScope{CycleID: b.cycle.ID}).Equal(dec("600")))
	require.True(t, f.usage(t, UsageScope{CycleID: c2.ID, State: "Darfur"}).Equal(dec("250")))

	evs := f.store.fundingEvents()
	last := evs[len(evs)-1]
	require.Equal(t, string(workplan.TransitionReassign), last.Transition)
	require.ElementsMatch(t, []uuid.UUID{b.cycle.ID, c2.ID}, last.CycleIDs)

	_, err = f.cycles.Close(ctx, b.cycle.ID)
	require.NoError(t, err)
	_, err = f.approvals.Reassign(ctx, wp.ID, ReassignInput{CycleID: b.cycle.ID, GrantCallID: b.gc.ID, State: "Khartoum"})
	requireCode(t, err, http.StatusConflict, CodeCycleClosed)
}

func TestApprovalService_ListCommitted(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)

	f.pending(t, b, "E1", "Khartoum", "10")
	f.committed(t, b, "E2", "Khartoum", "10")
	f.committed(t, b, "E3", "Darfur", "10")

	items, err := f.approvals.ListCommitted(testCtx(), idPtr(b.cycle.ID))
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, wp := range items {
		require.True(t, wp.FundingStatus.Committed())
	}
}
