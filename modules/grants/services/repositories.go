package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

// Repositories return pgx.ErrNoRows when a single row lookup finds nothing.
// Lock* methods take row locks and must run inside a transaction.

type CycleRepository interface {
	CreateCycle(ctx context.Context, c budget.Cycle) (budget.Cycle, error)
	ListCycles(ctx context.Context) ([]budget.Cycle, error)
	GetCycle(ctx context.Context, id uuid.UUID) (budget.Cycle, error)
	// LockCycles locks the cycles in id order and returns the ones found.
	LockCycles(ctx context.Context, ids []uuid.UUID) ([]budget.Cycle, error)
	SetCycleStatus(ctx context.Context, id uuid.UUID, status budget.CycleStatus) (budget.Cycle, error)

	ListInclusions(ctx context.Context, cycleID uuid.UUID) ([]budget.Inclusion, error)
	GetInclusion(ctx context.Context, cycleID, grantCallID uuid.UUID) (budget.Inclusion, error)
	UpsertInclusion(ctx context.Context, inc budget.Inclusion) (budget.Inclusion, error)
	// SumInclusionsForGrantCall sums the grant call's inclusions in every cycle but excludeCycleID.
	SumInclusionsForGrantCall(ctx context.Context, grantCallID, excludeCycleID uuid.UUID) (decimal.Decimal, error)

	ListTranches(ctx context.Context, cycleID uuid.UUID) ([]budget.Tranche, error)
	InsertTranche(ctx context.Context, t budget.Tranche) (budget.Tranche, error)
	ReleaseTranche(ctx context.Context, cycleID uuid.UUID, number int, at time.Time) (budget.Tranche, error)

	ListAllocations(ctx context.Context, cycleID uuid.UUID) ([]budget.StateAllocation, error)
	GetAllocation(ctx context.Context, cycleID uuid.UUID, state string) (budget.StateAllocation, error)
	UpsertAllocation(ctx context.Context, a budget.StateAllocation) (budget.StateAllocation, error)

	ListHistorical(ctx context.Context, cycleID uuid.UUID) ([]budget.HistoricalEntry, error)
	InsertHistorical(ctx context.Context, h budget.HistoricalEntry) (budget.HistoricalEntry, error)
}

type GrantCallRepository interface {
	CreateGrantCall(ctx context.Context, gc budget.GrantCall) (budget.GrantCall, error)
	ListGrantCalls(ctx context.Context) ([]budget.GrantCall, error)
	GetGrantCall(ctx context.Context, id uuid.UUID) (budget.GrantCall, error)
	LockGrantCall(ctx context.Context, id uuid.UUID) (budget.GrantCall, error)
}

// UsageScope narrows Usage to a cycle, optionally one grant call or one state
// inside it. ExcludeWorkplanID drops that workplan's own reservation.
type UsageScope struct {
	CycleID           uuid.UUID
	GrantCallID       *uuid.UUID
	State             string
	ExcludeWorkplanID *uuid.UUID
}

type UsageRepository interface {
	// Usage aggregates totals for the scope. Included is the state allocation
	// when State is set, the inclusion when GrantCallID is set and the sum of
	// inclusions otherwise.
	Usage(ctx context.Context, scope UsageScope) (pool.Totals, error)
	// PoolReport aggregates one cycle, or every open cycle when cycleID is nil.
	PoolReport(ctx context.Context, cycleID *uuid.UUID) (pool.Report, error)
}

type WorkplanRepository interface {
	CreateWorkplan(ctx context.Context, wp workplan.Workplan) (workplan.Workplan, error)
	UpdateWorkplan(ctx context.Context, wp workplan.Workplan) (workplan.Workplan, error)
	GetWorkplan(ctx context.Context, id uuid.UUID) (workplan.Workplan, error)
	LockWorkplan(ctx context.Context, id uuid.UUID) (workplan.Workplan, error)
	// LockWorkplans locks in id order and returns the ones found.
	LockWorkplans(ctx context.Context, ids []uuid.UUID) ([]workplan.Workplan, error)
	// ListWorkplans returns a page and the total count. Limit <= 0 means no limit.
	ListWorkplans(ctx context.Context, params workplan.FindParams) ([]workplan.Workplan, int64, error)

	InsertFundingEvent(ctx context.Context, ev workplan.FundingEvent) (workplan.FundingEvent, error)
	ListFundingEvents(ctx context.Context, workplanID uuid.UUID) ([]workplan.FundingEvent, error)

	InsertApproval(ctx context.Context, a workplan.Approval) (workplan.Approval, error)
	ListApprovals(ctx context.Context, workplanID uuid.UUID) ([]workplan.Approval, error)
}

// GrantSerialKey identifies the grant serial shared by workplans pre-assigned
// to the same grant call, state and cycle.
type GrantSerialKey struct {
	GrantCallID uuid.UUID
	CycleID     uuid.UUID
	State       string
}

type SerialRepository interface {
	// NextSequence atomically increments the counter of scope and returns the new value.
	NextSequence(ctx context.Context, scope string) (int, error)
	// PeekSequence returns the value NextSequence would return without consuming it.
	PeekSequence(ctx context.Context, scope string) (int, error)
	FindGrantSerial(ctx context.Context, key GrantSerialKey) (string, bool, error)
	InsertGrantSerial(ctx context.Context, key GrantSerialKey, serial string) error
}

type MOURepository interface {
	CreateMOU(ctx context.Context, m mou.MOU) (mou.MOU, error)
	GetMOU(ctx context.Context, id uuid.UUID) (mou.MOU, error)
	LockMOU(ctx context.Context, id uuid.UUID) (mou.MOU, error)
	ListMOUs(ctx context.Context) ([]mou.MOU, error)
	MarkMOUSigned(ctx context.Context, id uuid.UUID, at time.Time) (mou.MOU, error)
	// WorkplansInMOU returns the ids among workplanIDs already bound to an MOU.
	WorkplansInMOU(ctx context.Context, workplanIDs []uuid.UUID) ([]uuid.UUID, error)
}

type ReportRepository interface {
	CreateFinancial(ctx context.Context, r report.Financial) (report.Financial, error)
	GetFinancial(ctx context.Context, id uuid.UUID) (report.Financial, error)
	LockFinancial(ctx context.Context, id uuid.UUID) (report.Financial, error)
	SetFinancialStatus(ctx context.Context, id uuid.UUID, status report.Status) (report.Financial, error)
	ListFinancial(ctx context.Context, workplanID *uuid.UUID) ([]report.Financial, error)
	// SpentByWorkplan sums total_spent over every financial report of the workplan.
	SpentByWorkplan(ctx context.Context, workplanID uuid.UUID) (decimal.Decimal, error)

	CreateProgram(ctx context.Context, r report.Program) (report.Program, error)
	GetProgram(ctx context.Context, id uuid.UUID) (report.Program, error)
	LockProgram(ctx context.Context, id uuid.UUID) (report.Program, error)
	SetProgramStatus(ctx context.Context, id uuid.UUID, status report.Status) (report.Program, error)
	ListProgram(ctx context.Context, workplanID *uuid.UUID) ([]report.Program, error)
}
