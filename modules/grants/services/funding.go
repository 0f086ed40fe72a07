package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/modules/grants/domain/serial"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

// fundingTarget is where a workplan's money is reserved.
type fundingTarget struct {
	CycleID     uuid.UUID
	GrantCallID uuid.UUID
	State       string
}

func targetOf(wp workplan.Workplan) (fundingTarget, bool) {
	if wp.CycleID == nil || wp.GrantCallID == nil {
		return fundingTarget{}, false
	}
	return fundingTarget{CycleID: *wp.CycleID, GrantCallID: *wp.GrantCallID, State: wp.State}, true
}

// fundingLedger holds the budget checks shared by every funding transition.
// Callers lock the workplan row first and the cycle rows second; budget-side
// writers lock only cycle rows, so the order never inverts.
type fundingLedger struct {
	cycles     CycleRepository
	grantCalls GrantCallRepository
	usage      UsageRepository
	workplans  WorkplanRepository
	serials    SerialRepository
	rt         *runtime
}

// lockOpenCycles locks the distinct cycles in id order and fails unless all
// of them exist and are open.
func (l *fundingLedger) lockOpenCycles(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]budget.Cycle, error) {
	out, err := l.lockCycles(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for _, c := range out {
		if !c.IsOpen() {
			return nil, cycleClosed()
		}
	}
	return out, nil
}

func (l *fundingLedger) lockCycles(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]budget.Cycle, error) {
	distinct := uniqueSortedIDs(ids)
	rows, err := l.cycles.LockCycles(ctx, distinct)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]budget.Cycle, len(rows))
	for _, c := range rows {
		out[c.ID] = c
	}
	for _, id := range distinct {
		if _, ok := out[id]; !ok {
			return nil, notFound("cycle")
		}
	}
	return out, nil
}

// checkRemaining verifies amount fits at cycle level, at grant-call level
// within the cycle and at state level. exclude drops the workplan's own
// current reservation so moves and increases are checked net of it.
func (l *fundingLedger) checkRemaining(ctx context.Context, t fundingTarget, amount decimal.Decimal, exclude uuid.UUID) error {
	if _, err := l.cycles.GetInclusion(ctx, t.CycleID, t.GrantCallID); err != nil {
		if isNoRows(err) {
			return insufficientRemaining("grant call is not included in the cycle")
		}
		return err
	}
	if _, err := l.cycles.GetAllocation(ctx, t.CycleID, t.State); err != nil {
		if isNoRows(err) {
			return insufficientRemaining(fmt.Sprintf("state %q has no allocation in the cycle", t.State))
		}
		return err
	}

	excl := &exclude
	if exclude == uuid.Nil {
		excl = nil
	}
	gc := t.GrantCallID
	scopes := []struct {
		name  string
		scope UsageScope
	}{
		{"cycle", UsageScope{CycleID: t.CycleID, ExcludeWorkplanID: excl}},
		{"grant call", UsageScope{CycleID: t.CycleID, GrantCallID: &gc, ExcludeWorkplanID: excl}},
		{"state", UsageScope{CycleID: t.CycleID, State: t.State, ExcludeWorkplanID: excl}},
	}
	for _, s := range scopes {
		totals, err := l.usage.Usage(ctx, s.scope)
		if err != nil {
			return err
		}
		if !totals.Covers(amount) {
			return insufficientRemaining(fmt.Sprintf("amount %s exceeds %s remaining %s",
				amount.StringFixed(2), s.name, totals.Remaining().StringFixed(2)))
		}
	}
	return nil
}

// assignSerials gives a workplan its grant and workplan serials. The grant
// serial is shared per (grant call, cycle, state); both sequences come from
// counters that advance inside the pre-assign transaction.
func (l *fundingLedger) assignSerials(ctx context.Context, wp *workplan.Workplan, gc budget.GrantCall, t fundingTarget) error {
	key := GrantSerialKey{GrantCallID: t.GrantCallID, CycleID: t.CycleID, State: t.State}
	grantSerial, ok, err := l.serials.FindGrantSerial(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		at := l.rt.now()
		stateCode, err := serial.StateCode(t.State)
		if err != nil {
			return err
		}
		seq, err := l.serials.NextSequence(ctx, serial.GrantScope(gc.DonorCode, stateCode, serial.Period(at)))
		if err != nil {
			return err
		}
		g, err := serial.NewGrant(gc.DonorCode, t.State, at, seq)
		if err != nil {
			return err
		}
		grantSerial = g.String()
		if err := l.serials.InsertGrantSerial(ctx, key, grantSerial); err != nil {
			return err
		}
	}

	seq, err := l.serials.NextSequence(ctx, serial.WorkplanScope(grantSerial))
	if err != nil {
		return err
	}
	ws, err := serial.NewWorkplan(grantSerial, seq)
	if err != nil {
		return err
	}
	s := ws.String()
	wp.GrantSerial = &grantSerial
	wp.Serial = &s
	return nil
}

// record persists the transition: the workplan row, its history entry and
// the outbox event, all in the caller's transaction.
func (l *fundingLedger) record(
	ctx context.Context,
	before, after workplan.Workplan,
	tr workplan.Transition,
	reason string,
) (workplan.Workplan, error) {
	after.UpdatedAt = l.rt.now()
	saved, err := l.workplans.UpdateWorkplan(ctx, after)
	if err != nil {
		return workplan.Workplan{}, err
	}

	// History rows describe where the money was (release, decommit) or where
	// it went (everything else).
	at := saved
	if saved.CycleID == nil {
		at = before
	}
	actor := composables.UseActor(ctx)
	if _, err := l.workplans.InsertFundingEvent(ctx, workplan.FundingEvent{
		ID:          uuid.New(),
		WorkplanID:  saved.ID,
		Transition:  tr,
		From:        before.FundingStatus,
		To:          saved.FundingStatus,
		CycleID:     at.CycleID,
		GrantCallID: at.GrantCallID,
		State:       at.State,
		Amount:      saved.Amount,
		Actor:       actor,
		Reason:      reason,
		At:          saved.UpdatedAt,
	}); err != nil {
		return workplan.Workplan{}, err
	}

	if err := l.rt.events.FundingChanged(ctx, events.FundingChangedV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		RequestID:       composables.UseRequestID(ctx),
		TransactionTime: saved.UpdatedAt,
		Actor:           actor,
		WorkplanID:      saved.ID,
		Transition:      string(tr),
		From:            string(before.FundingStatus),
		To:              string(saved.FundingStatus),
		CycleIDs:        touchedCycles(before, saved),
		GrantCallID:     at.GrantCallID,
		State:           at.State,
		Amount:          saved.Amount,
	}); err != nil {
		return workplan.Workplan{}, err
	}
	return saved, nil
}

// release clears a pending or committed reservation.
func (l *fundingLedger) release(ctx context.Context, wp workplan.Workplan, tr workplan.Transition, reason string) (workplan.Workplan, error) {
	next, err := workplan.Next(wp.FundingStatus, tr)
	if err != nil {
		return workplan.Workplan{}, err
	}
	if t, ok := targetOf(wp); ok {
		if _, err := l.lockOpenCycles(ctx, t.CycleID); err != nil {
			return workplan.Workplan{}, err
		}
	}
	after := wp
	after.FundingStatus = next
	after.CycleID = nil
	after.GrantCallID = nil
	return l.record(ctx, wp, after, tr, reason)
}

func touchedCycles(before, after workplan.Workplan) []uuid.UUID {
	var ids []uuid.UUID
	if before.CycleID != nil {
		ids = append(ids, *before.CycleID)
	}
	if after.CycleID != nil {
		ids = append(ids, *after.CycleID)
	}
	return uniqueSortedIDs(ids)
}

func uniqueSortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
