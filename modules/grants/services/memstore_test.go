package services

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/events"
	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

// memData is everything memStore keeps; it is copied on transaction start
// and restored on rollback.
type memData struct {
	cycles       map[uuid.UUID]budget.Cycle
	grantCalls   map[uuid.UUID]budget.GrantCall
	inclusions   map[[2]uuid.UUID]budget.Inclusion
	tranches     []budget.Tranche
	allocations  map[uuid.UUID][]budget.StateAllocation
	historical   []budget.HistoricalEntry
	workplans    map[uuid.UUID]workplan.Workplan
	funding      []workplan.FundingEvent
	approvals    []workplan.Approval
	counters     map[string]int
	grantSerials map[GrantSerialKey]string
	mous         map[uuid.UUID]mou.MOU
	financial    map[uuid.UUID]report.Financial
	program      map[uuid.UUID]report.Program
	fundingEvs   []events.FundingChangedV1
	budgetEvs    []events.BudgetChangedV1
}

func newMemData() memData {
	return memData{
		cycles:       map[uuid.UUID]budget.Cycle{},
		grantCalls:   map[uuid.UUID]budget.GrantCall{},
		inclusions:   map[[2]uuid.UUID]budget.Inclusion{},
		allocations:  map[uuid.UUID][]budget.StateAllocation{},
		workplans:    map[uuid.UUID]workplan.Workplan{},
		counters:     map[string]int{},
		grantSerials: map[GrantSerialKey]string{},
		mous:         map[uuid.UUID]mou.MOU{},
		financial:    map[uuid.UUID]report.Financial{},
		program:      map[uuid.UUID]report.Program{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d memData) clone() memData {
	allocs := make(map[uuid.UUID][]budget.StateAllocation, len(d.allocations))
	for k, v := range d.allocations {
		allocs[k] = append([]budget.StateAllocation(nil), v...)
	}
	return memData{
		cycles:       cloneMap(d.cycles),
		grantCalls:   cloneMap(d.grantCalls),
		inclusions:   cloneMap(d.inclusions),
		tranches:     append([]budget.Tranche(nil), d.tranches...),
		allocations:  allocs,
		historical:   append([]budget.HistoricalEntry(nil), d.historical...),
		workplans:    cloneMap(d.workplans),
		funding:      append([]workplan.FundingEvent(nil), d.funding...),
		approvals:    append([]workplan.Approval(nil), d.approvals...),
		counters:     cloneMap(d.counters),
		grantSerials: cloneMap(d.grantSerials),
		mous:         cloneMap(d.mous),
		financial:    cloneMap(d.financial),
		program:      cloneMap(d.program),
		fundingEvs:   append([]events.FundingChangedV1(nil), d.fundingEvs...),
		budgetEvs:    append([]events.BudgetChangedV1(nil), d.budgetEvs...),
	}
}

// memStore implements every repository and the event sink in memory. Its
// TxRunner serializes transactions, which stands in for the row locks.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    memData
}

func newMemStore() *memStore {
	return &memStore{d: newMemData()}
}

func (s *memStore) runTx(ctx context.Context, fn func(context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// cycles

func (s *memStore) CreateCycle(_ context.Context, c budget.Cycle) (budget.Cycle, error) {
	defer s.lock()()
	s.d.cycles[c.ID] = c
	return c, nil
}

func (s *memStore) ListCycles(context.Context) ([]budget.Cycle, error) {
	defer s.lock()()
	out := make([]budget.Cycle, 0, len(s.d.cycles))
	for _, c := range s.d.cycles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetCycle(_ context.Context, id uuid.UUID) (budget.Cycle, error) {
	defer s.lock()()
	c, ok := s.d.cycles[id]
	if !ok {
		return budget.Cycle{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *memStore) LockCycles(_ context.Context, ids []uuid.UUID) ([]budget.Cycle, error) {
	defer s.lock()()
	var out []budget.Cycle
	for _, id := range ids {
		if c, ok := s.d.cycles[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) SetCycleStatus(_ context.Context, id uuid.UUID, status budget.CycleStatus) (budget.Cycle, error) {
	defer s.lock()()
	c, ok := s.d.cycles[id]
	if !ok {
		return budget.Cycle{}, pgx.ErrNoRows
	}
	c.Status = status
	s.d.cycles[id] = c
	return c, nil
}

func (s *memStore) ListInclusions(_ context.Context, cycleID uuid.UUID) ([]budget.Inclusion, error) {
	defer s.lock()()
	var out []budget.Inclusion
	for k, inc := range s.d.inclusions {
		if k[0] == cycleID {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (s *memStore) GetInclusion(_ context.Context, cycleID, grantCallID uuid.UUID) (budget.Inclusion, error) {
	defer s.lock()()
	inc, ok := s.d.inclusions[[2]uuid.UUID{cycleID, grantCallID}]
	if !ok {
		return budget.Inclusion{}, pgx.ErrNoRows
	}
	return inc, nil
}

func (s *memStore) UpsertInclusion(_ context.Context, inc budget.Inclusion) (budget.Inclusion, error) {
	defer s.lock()()
	s.d.inclusions[[2]uuid.UUID{inc.CycleID, inc.GrantCallID}] = inc
	return inc, nil
}

func (s *memStore) SumInclusionsForGrantCall(_ context.Context, grantCallID, excludeCycleID uuid.UUID) (decimal.Decimal, error) {
	defer s.lock()()
	sum := decimal.Zero
	for k, inc := range s.d.inclusions {
		if k[1] == grantCallID && k[0] != excludeCycleID {
			sum = sum.Add(inc.Amount)
		}
	}
	return sum, nil
}

func (s *memStore) ListTranches(_ context.Context, cycleID uuid.UUID) ([]budget.Tranche, error) {
	defer s.lock()()
	var out []budget.Tranche
	for _, t := range s.d.tranches {
		if t.CycleID == cycleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) InsertTranche(_ context.Context, t budget.Tranche) (budget.Tranche, error) {
	defer s.lock()()
	s.d.tranches = append(s.d.tranches, t)
	return t, nil
}

func (s *memStore) ReleaseTranche(_ context.Context, cycleID uuid.UUID, number int, at time.Time) (budget.Tranche, error) {
	defer s.lock()()
	for i, t := range s.d.tranches {
		if t.CycleID == cycleID && t.Number == number {
			s.d.tranches[i].ReleasedAt = &at
			return s.d.tranches[i], nil
		}
	}
	return budget.Tranche{}, pgx.ErrNoRows
}

func (s *memStore) ListAllocations(_ context.Context, cycleID uuid.UUID) ([]budget.StateAllocation, error) {
	defer s.lock()()
	return append([]budget.StateAllocation(nil), s.d.allocations[cycleID]...), nil
}

func (s *memStore) GetAllocation(_ context.Context, cycleID uuid.UUID, state string) (budget.StateAllocation, error) {
	defer s.lock()()
	for _, a := range s.d.allocations[cycleID] {
		if strings.EqualFold(a.State, state) {
			return a, nil
		}
	}
	return budget.StateAllocation{}, pgx.ErrNoRows
}

func (s *memStore) UpsertAllocation(_ context.Context, a budget.StateAllocation) (budget.StateAllocation, error) {
	defer s.lock()()
	rows := s.d.allocations[a.CycleID]
	for i, existing := range rows {
		if strings.EqualFold(existing.State, a.State) {
			a.ID = existing.ID
			rows[i] = a
			return a, nil
		}
	}
	s.d.allocations[a.CycleID] = append(rows, a)
	return a, nil
}

func (s *memStore) ListHistorical(_ context.Context, cycleID uuid.UUID) ([]budget.HistoricalEntry, error) {
	defer s.lock()()
	var out []budget.HistoricalEntry
	for _, h := range s.d.historical {
		if h.CycleID == cycleID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *memStore) InsertHistorical(_ context.Context, h budget.HistoricalEntry) (budget.HistoricalEntry, error) {
	defer s.lock()()
	s.d.historical = append(s.d.historical, h)
	return h, nil
}

// grant calls

func (s *memStore) CreateGrantCall(_ context.Context, gc budget.GrantCall) (budget.GrantCall, error) {
	defer s.lock()()
	for _, existing := range s.d.grantCalls {
		if existing.Code == gc.Code {
			return budget.GrantCall{}, newServiceError(http.StatusConflict, CodeCodeConflict, "grant call code already exists", nil)
		}
	}
	s.d.grantCalls[gc.ID] = gc
	return gc, nil
}

func (s *memStore) ListGrantCalls(context.Context) ([]budget.GrantCall, error) {
	defer s.lock()()
	out := make([]budget.GrantCall, 0, len(s.d.grantCalls))
	for _, gc := range s.d.grantCalls {
		out = append(out, gc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) GetGrantCall(_ context.Context, id uuid.UUID) (budget.GrantCall, error) {
	defer s.lock()()
	gc, ok := s.d.grantCalls[id]
	if !ok {
		return budget.GrantCall{}, pgx.ErrNoRows
	}
	return gc, nil
}

func (s *memStore) LockGrantCall(ctx context.Context, id uuid.UUID) (budget.GrantCall, error) {
	return s.GetGrantCall(ctx, id)
}

// usage

func (s *memStore) Usage(_ context.Context, scope UsageScope) (pool.Totals, error) {
	defer s.lock()()
	return s.usageLocked(scope), nil
}

func (s *memStore) usageLocked(scope UsageScope) pool.Totals {
	var t pool.Totals
	switch {
	case scope.State != "":
		for _, a := range s.d.allocations[scope.CycleID] {
			if strings.EqualFold(a.State, scope.State) {
				t.Included = a.Amount
			}
		}
	case scope.GrantCallID != nil:
		if inc, ok := s.d.inclusions[[2]uuid.UUID{scope.CycleID, *scope.GrantCallID}]; ok {
			t.Included = inc.Amount
		}
	default:
		for k, inc := range s.d.inclusions {
			if k[0] == scope.CycleID {
				t.Included = t.Included.Add(inc.Amount)
			}
		}
	}

	for _, h := range s.d.historical {
		if h.CycleID != scope.CycleID {
			continue
		}
		if scope.State != "" && !strings.EqualFold(h.State, scope.State) {
			continue
		}
		if scope.GrantCallID != nil && (h.GrantCallID == nil || *h.GrantCallID != *scope.GrantCallID) {
			continue
		}
		t.Historical = t.Historical.Add(h.Amount)
	}

	for _, wp := range s.d.workplans {
		if wp.CycleID == nil || *wp.CycleID != scope.CycleID {
			continue
		}
		if scope.ExcludeWorkplanID != nil && wp.ID == *scope.ExcludeWorkplanID {
			continue
		}
		if scope.State != "" && !strings.EqualFold(wp.State, scope.State) {
			continue
		}
		if scope.GrantCallID != nil && (wp.GrantCallID == nil || *wp.GrantCallID != *scope.GrantCallID) {
			continue
		}
		switch {
		case wp.FundingStatus.Committed():
			t.Committed = t.Committed.Add(wp.Amount)
		case wp.FundingStatus == workplan.FundingPending:
			t.Pending = t.Pending.Add(wp.Amount)
		}
	}
	return t
}

func (s *memStore) PoolReport(_ context.Context, cycleID *uuid.UUID) (pool.Report, error) {
	defer s.lock()()
	var ids []uuid.UUID
	if cycleID != nil {
		ids = []uuid.UUID{*cycleID}
	} else {
		for id, c := range s.d.cycles {
			if c.IsOpen() {
				ids = append(ids, id)
			}
		}
	}

	var totals pool.Totals
	states := map[string]pool.Totals{}
	grants := map[uuid.UUID]pool.Totals{}
	for _, id := range ids {
		totals = totals.Add(s.usageLocked(UsageScope{CycleID: id}))
		for _, a := range s.d.allocations[id] {
			states[a.State] = states[a.State].Add(s.usageLocked(UsageScope{CycleID: id, State: a.State}))
		}
		for k := range s.d.inclusions {
			if k[0] != id {
				continue
			}
			gc := k[1]
			grants[gc] = grants[gc].Add(s.usageLocked(UsageScope{CycleID: id, GrantCallID: &gc}))
		}
	}

	r := pool.Report{CycleID: cycleID, Totals: totals.Summary()}
	for state, t := range states {
		r.ByState = append(r.ByState, pool.NewStateLine(state, t))
	}
	sort.Slice(r.ByState, func(i, j int) bool { return r.ByState[i].State < r.ByState[j].State })
	for id, t := range grants {
		r.ByGrantCall = append(r.ByGrantCall, pool.NewGrantCallLine(id, s.d.grantCalls[id].Code, t))
	}
	sort.Slice(r.ByGrantCall, func(i, j int) bool { return r.ByGrantCall[i].Code < r.ByGrantCall[j].Code })
	return r, nil
}

// workplans

func (s *memStore) CreateWorkplan(_ context.Context, wp workplan.Workplan) (workplan.Workplan, error) {
	defer s.lock()()
	s.d.workplans[wp.ID] = wp
	return wp, nil
}

func (s *memStore) UpdateWorkplan(_ context.Context, wp workplan.Workplan) (workplan.Workplan, error) {
	defer s.lock()()
	if _, ok := s.d.workplans[wp.ID]; !ok {
		return workplan.Workplan{}, pgx.ErrNoRows
	}
	s.d.workplans[wp.ID] = wp
	return wp, nil
}

func (s *memStore) GetWorkplan(_ context.Context, id uuid.UUID) (workplan.Workplan, error) {
	defer s.lock()()
	wp, ok := s.d.workplans[id]
	if !ok {
		return workplan.Workplan{}, pgx.ErrNoRows
	}
	return wp, nil
}

func (s *memStore) LockWorkplan(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	return s.GetWorkplan(ctx, id)
}

func (s *memStore) LockWorkplans(_ context.Context, ids []uuid.UUID) ([]workplan.Workplan, error) {
	defer s.lock()()
	sorted := uniqueSortedIDs(ids)
	var out []workplan.Workplan
	for _, id := range sorted {
		if wp, ok := s.d.workplans[id]; ok {
			out = append(out, wp)
		}
	}
	return out, nil
}

func (s *memStore) ListWorkplans(_ context.Context, p workplan.FindParams) ([]workplan.Workplan, int64, error) {
	defer s.lock()()
	var matched []workplan.Workplan
	for _, wp := range s.d.workplans {
		if p.State != "" && !strings.EqualFold(wp.State, p.State) {
			continue
		}
		if p.CycleID != nil && (wp.CycleID == nil || *wp.CycleID != *p.CycleID) {
			continue
		}
		if len(p.FundingStatus) > 0 {
			ok := false
			for _, fs := range p.FundingStatus {
				ok = ok || wp.FundingStatus == fs
			}
			if !ok {
				continue
			}
		}
		if p.Q != "" && !strings.Contains(strings.ToLower(wp.Title+" "+wp.ERRName), strings.ToLower(p.Q)) {
			continue
		}
		matched = append(matched, wp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	total := int64(len(matched))
	if p.Offset > len(matched) {
		p.Offset = len(matched)
	}
	matched = matched[p.Offset:]
	if p.Limit > 0 && p.Limit < len(matched) {
		matched = matched[:p.Limit]
	}
	return matched, total, nil
}

func (s *memStore) InsertFundingEvent(_ context.Context, ev workplan.FundingEvent) (workplan.FundingEvent, error) {
	defer s.lock()()
	s.d.funding = append(s.d.funding, ev)
	return ev, nil
}

func (s *memStore) ListFundingEvents(_ context.Context, workplanID uuid.UUID) ([]workplan.FundingEvent, error) {
	defer s.lock()()
	var out []workplan.FundingEvent
	for _, ev := range s.d.funding {
		if ev.WorkplanID == workplanID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memStore) InsertApproval(_ context.Context, a workplan.Approval) (workplan.Approval, error) {
	defer s.lock()()
	s.d.approvals = append(s.d.approvals, a)
	return a, nil
}

func (s *memStore) ListApprovals(_ context.Context, workplanID uuid.UUID) ([]workplan.Approval, error) {
	defer s.lock()()
	var out []workplan.Approval
	for _, a := range s.d.approvals {
		if a.WorkplanID == workplanID {
			out = append(out, a)
		}
	}
	return out, nil
}

// serials

func (s *memStore) NextSequence(_ context.Context, scope string) (int, error) {
	defer s.lock()()
	s.d.counters[scope]++
	return s.d.counters[scope], nil
}

func (s *memStore) PeekSequence(_ context.Context, scope string) (int, error) {
	defer s.lock()()
	return s.d.counters[scope] + 1, nil
}

func (s *memStore) FindGrantSerial(_ context.Context, key GrantSerialKey) (string, bool, error) {
	defer s.lock()()
	v, ok := s.d.grantSerials[key]
	return v, ok, nil
}

func (s *memStore) InsertGrantSerial(_ context.Context, key GrantSerialKey, serial string) error {
	defer s.lock()()
	s.d.grantSerials[key] = serial
	return nil
}

// mous

func (s *memStore) CreateMOU(_ context.Context, m mou.MOU) (mou.MOU, error) {
	defer s.lock()()
	s.d.mous[m.ID] = m
	return m, nil
}

func (s *memStore) GetMOU(_ context.Context, id uuid.UUID) (mou.MOU, error) {
	defer s.lock()()
	m, ok := s.d.mous[id]
	if !ok {
		return mou.MOU{}, pgx.ErrNoRows
	}
	return m, nil
}

func (s *memStore) LockMOU(ctx context.Context, id uuid.UUID) (mou.MOU, error) {
	return s.GetMOU(ctx, id)
}

func (s *memStore) ListMOUs(context.Context) ([]mou.MOU, error) {
	defer s.lock()()
	out := make([]mou.MOU, 0, len(s.d.mous))
	for _, m := range s.d.mous {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) MarkMOUSigned(_ context.Context, id uuid.UUID, at time.Time) (mou.MOU, error) {
	defer s.lock()()
	m, ok := s.d.mous[id]
	if !ok {
		return mou.MOU{}, pgx.ErrNoRows
	}
	m.Status = mou.StatusSigned
	m.SignedAt = &at
	s.d.mous[id] = m
	return m, nil
}

func (s *memStore) WorkplansInMOU(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	defer s.lock()()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []uuid.UUID
	for _, m := range s.d.mous {
		for _, id := range m.WorkplanIDs {
			if want[id] {
				out = append(out, id)
			}
		}
	}
	return uniqueSortedIDs(out), nil
}

// reports

func (s *memStore) CreateFinancial(_ context.Context, r report.Financial) (report.Financial, error) {
	defer s.lock()()
	s.d.financial[r.ID] = r
	return r, nil
}

func (s *memStore) GetFinancial(_ context.Context, id uuid.UUID) (report.Financial, error) {
	defer s.lock()()
	r, ok := s.d.financial[id]
	if !ok {
		return report.Financial{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *memStore) LockFinancial(ctx context.Context, id uuid.UUID) (report.Financial, error) {
	return s.GetFinancial(ctx, id)
}

func (s *memStore) SetFinancialStatus(_ context.Context, id uuid.UUID, status report.Status) (report.Financial, error) {
	defer s.lock()()
	r, ok := s.d.financial[id]
	if !ok {
		return report.Financial{}, pgx.ErrNoRows
	}
	r.Status = status
	s.d.financial[id] = r
	return r, nil
}

func (s *memStore) ListFinancial(_ context.Context, workplanID *uuid.UUID) ([]report.Financial, error) {
	defer s.lock()()
	var out []report.Financial
	for _, r := range s.d.financial {
		if workplanID == nil || r.WorkplanID == *workplanID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (s *memStore) SpentByWorkplan(_ context.Context, workplanID uuid.UUID) (decimal.Decimal, error) {
	defer s.lock()()
	sum := decimal.Zero
	for _, r := range s.d.financial {
		if r.WorkplanID == workplanID {
			sum = sum.Add(r.TotalSpent)
		}
	}
	return sum, nil
}

func (s *memStore) CreateProgram(_ context.Context, r report.Program) (report.Program, error) {
	defer s.lock()()
	s.d.program[r.ID] = r
	return r, nil
}

func (s *memStore) GetProgram(_ context.Context, id uuid.UUID) (report.Program, error) {
	defer s.lock()()
	r, ok := s.d.program[id]
	if !ok {
		return report.Program{}, pgx.ErrNoRows
	}
	return r, nil
}

func (s *memStore) LockProgram(ctx context.Context, id uuid.UUID) (report.Program, error) {
	return s.GetProgram(ctx, id)
}

func (s *memStore) SetProgramStatus(_ context.Context, id uuid.UUID, status report.Status) (report.Program, error) {
	defer s.lock()()
	r, ok := s.d.program[id]
	if !ok {
		return report.Program{}, pgx.ErrNoRows
	}
	r.Status = status
	s.d.program[id] = r
	return r, nil
}

func (s *memStore) ListProgram(_ context.Context, workplanID *uuid.UUID) ([]report.Program, error) {
	defer s.lock()()
	var out []report.Program
	for _, r := range s.d.program {
		if workplanID == nil || r.WorkplanID == *workplanID {
			out = append(out, r)
		}
	}
	return out, nil
}

// events

func (s *memStore) FundingChanged(_ context.Context, ev events.FundingChangedV1) error {
	defer s.lock()()
	s.d.fundingEvs = append(s.d.fundingEvs, ev)
	return nil
}

func (s *memStore) BudgetChanged(_ context.Context, ev events.BudgetChangedV1) error {
	defer s.lock()()
	s.d.budgetEvs = append(s.d.budgetEvs, ev)
	return nil
}

func (s *memStore) fundingEvents() []events.FundingChangedV1 {
	defer s.lock()()
	return append([]events.FundingChangedV1(nil), s.d.fundingEvs...)
}

func (s *memStore) getWorkplan(id uuid.UUID) workplan.Workplan {
	defer s.lock()()
	return s.d.workplans[id]
}
