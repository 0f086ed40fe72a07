package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
)

// CycleService manages funding cycles and the budget rows hanging off them.
// Every write locks the cycle row before reading totals.
type CycleService struct {
	cycles     CycleRepository
	grantCalls GrantCallRepository
	usage      UsageRepository
	ledger     *fundingLedger
	rt         *runtime
}

func NewCycleService(cycles CycleRepository, grantCalls GrantCallRepository, usage UsageRepository, opts ...Option) *CycleService {
	rt := newRuntime(opts)
	return &CycleService{
		cycles:     cycles,
		grantCalls: grantCalls,
		usage:      usage,
		ledger:     &fundingLedger{cycles: cycles, grantCalls: grantCalls, usage: usage, rt: rt},
		rt:         rt,
	}
}

type CreateCycleInput struct {
	Name string
	Year int
}

func (s *CycleService) Create(ctx context.Context, in CreateCycleInput) (budget.Cycle, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return budget.Cycle{}, validationError(budget.ErrNameRequired)
	}
	if err := budget.ValidateYear(in.Year); err != nil {
		return budget.Cycle{}, validationError(err)
	}
	now := s.rt.now()
	return inTx(ctx, s.rt, func(txCtx context.Context) (budget.Cycle, error) {
		return s.cycles.CreateCycle(txCtx, budget.Cycle{
			ID:        uuid.New(),
			Name:      name,
			Year:      in.Year,
			Status:    budget.CycleOpen,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
}

func (s *CycleService) List(ctx context.Context) ([]budget.Cycle, error) {
	return read(ctx, s.cycles.ListCycles)
}

type CycleDetail struct {
	budget.Cycle
	Inclusions  []budget.Inclusion       `json:"inclusions"`
	Tranches    []budget.Tranche         `json:"tranches"`
	Allocations []budget.StateAllocation `json:"allocations"`
	Historical  []budget.HistoricalEntry `json:"historical"`
}

func (s *CycleService) Get(ctx context.Context, id uuid.UUID) (CycleDetail, error) {
	return read(ctx, func(ctx context.Context) (CycleDetail, error) {
		c, err := s.cycles.GetCycle(ctx, id)
		if err != nil {
			return CycleDetail{}, orNotFound(err, "cycle")
		}
		out := CycleDetail{Cycle: c}
		if out.Inclusions, err = s.cycles.ListInclusions(ctx, id); err != nil {
			return CycleDetail{}, err
		}
		if out.Tranches, err = s.cycles.ListTranches(ctx, id); err != nil {
			return CycleDetail{}, err
		}
		if out.Allocations, err = s.cycles.ListAllocations(ctx, id); err != nil {
			return CycleDetail{}, err
		}
		if out.Historical, err = s.cycles.ListHistorical(ctx, id); err != nil {
			return CycleDetail{}, err
		}
		return out, nil
	})
}

func (s *CycleService) Close(ctx context.Context, id uuid.UUID) (budget.Cycle, error) {
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (budget.Cycle, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, id); err != nil {
			return budget.Cycle{}, err
		}
		c, err := s.cycles.SetCycleStatus(txCtx, id, budget.CycleClosed)
		if err != nil {
			return budget.Cycle{}, err
		}
		return c, s.rt.budgetChanged(txCtx, id, "cycle_closed", id)
	})
	if err == nil {
		s.rt.invalidate(ctx, "cycle_closed", id)
	}
	return out, err
}

type UpsertInclusionInput struct {
	GrantCallID uuid.UUID
	Amount      decimal.Decimal
}

// UpsertInclusion sets how much of a grant call is included in the cycle.
func (s *CycleService) UpsertInclusion(ctx context.Context, cycleID uuid.UUID, in UpsertInclusionInput) (budget.Inclusion, error) {
	if err := budget.RequirePositive(in.Amount); err != nil {
		return budget.Inclusion{}, validationError(err)
	}
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (budget.Inclusion, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, cycleID); err != nil {
			return budget.Inclusion{}, err
		}
		gc, err := s.grantCalls.LockGrantCall(txCtx, in.GrantCallID)
		if err != nil {
			return budget.Inclusion{}, orNotFound(err, "grant call")
		}

		elsewhere, err := s.cycles.SumInclusionsForGrantCall(txCtx, gc.ID, cycleID)
		if err != nil {
			return budget.Inclusion{}, err
		}
		if elsewhere.Add(in.Amount).GreaterThan(gc.Amount) {
			recordWriteConflict("overdrawn")
			return budget.Inclusion{}, newServiceError(http.StatusUnprocessableEntity, CodeGrantCallOverdrawn,
				fmt.Sprintf("grant call %s has %s left to include", gc.Code, gc.Amount.Sub(elsewhere).StringFixed(2)), nil)
		}

		gcID := gc.ID
		used, err := s.usage.Usage(txCtx, UsageScope{CycleID: cycleID, GrantCallID: &gcID})
		if err != nil {
			return budget.Inclusion{}, err
		}
		if used.Used().GreaterThan(in.Amount) {
			return budget.Inclusion{}, insufficientRemaining(fmt.Sprintf("%s is already used against the grant call in this cycle",
				used.Used().StringFixed(2)))
		}

		cycleTotals, err := s.usage.Usage(txCtx, UsageScope{CycleID: cycleID})
		if err != nil {
			return budget.Inclusion{}, err
		}
		newIncluded := cycleTotals.Included.Sub(used.Included).Add(in.Amount)
		if cycleTotals.Used().GreaterThan(newIncluded) {
			return budget.Inclusion{}, insufficientRemaining(fmt.Sprintf("%s is already used in this cycle",
				cycleTotals.Used().StringFixed(2)))
		}
		if err := s.ensureWithinIncluded(txCtx, cycleID, newIncluded); err != nil {
			return budget.Inclusion{}, err
		}

		inc, err := s.cycles.UpsertInclusion(txCtx, budget.Inclusion{CycleID: cycleID, GrantCallID: gc.ID, Amount: in.Amount})
		if err != nil {
			return budget.Inclusion{}, err
		}
		return inc, s.rt.budgetChanged(txCtx, cycleID, "inclusion_upserted", gc.ID)
	})
	if err == nil {
		s.rt.invalidate(ctx, "inclusion", cycleID)
	}
	return out, err
}

// ensureWithinIncluded rejects shrinking the included total below what
// tranches and state allocations already distribute.
func (s *CycleService) ensureWithinIncluded(ctx context.Context, cycleID uuid.UUID, included decimal.Decimal) error {
	tranches, err := s.cycles.ListTranches(ctx, cycleID)
	if err != nil {
		return err
	}
	tranched := decimal.Zero
	for _, t := range tranches {
		tranched = tranched.Add(t.Amount)
	}
	if tranched.GreaterThan(included) {
		return insufficientRemaining("tranches would exceed the included total")
	}

	allocations, err := s.cycles.ListAllocations(ctx, cycleID)
	if err != nil {
		return err
	}
	allocated := decimal.Zero
	for _, a := range allocations {
		allocated = allocated.Add(a.Amount)
	}
	if allocated.GreaterThan(included) {
		return insufficientRemaining("state allocations would exceed the included total")
	}
	return nil
}

func (s *CycleService) AddTranche(ctx context.Context, cycleID uuid.UUID, amount decimal.Decimal) (budget.Tranche, error) {
	if err := budget.RequirePositive(amount); err != nil {
		return budget.Tranche{}, validationError(err)
	}
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (budget.Tranche, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, cycleID); err != nil {
			return budget.Tranche{}, err
		}
		existing, err := s.cycles.ListTranches(txCtx, cycleID)
		if err != nil {
			return budget.Tranche{}, err
		}
		sum, next := amount, 1
		for _, t := range existing {
			sum = sum.Add(t.Amount)
			if t.Number >= next {
				next = t.Number + 1
			}
		}
		totals, err := s.usage.Usage(txCtx, UsageScope{CycleID: cycleID})
		if err != nil {
			return budget.Tranche{}, err
		}
		if sum.GreaterThan(totals.Included) {
			recordWriteConflict("overdrawn")
			return budget.Tranche{}, newServiceError(http.StatusUnprocessableEntity, CodeTranchesExceed,
				fmt.Sprintf("tranches would total %s of %s included", sum.StringFixed(2), totals.Included.StringFixed(2)), nil)
		}
		t, err := s.cycles.InsertTranche(txCtx, budget.Tranche{ID: uuid.New(), CycleID: cycleID, Number: next, Amount: amount})
		if err != nil {
			return budget.Tranche{}, err
		}
		return t, s.rt.budgetChanged(txCtx, cycleID, "tranche_added", t.ID)
	})
	if err == nil {
		s.rt.invalidate(ctx, "tranche", cycleID)
	}
	return out, err
}

func (s *CycleService) ReleaseTranche(ctx context.Context, cycleID uuid.UUID, number int) (budget.Tranche, error) {
	return inTx(ctx, s.rt, func(txCtx context.Context) (budget.Tranche, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, cycleID); err != nil {
			return budget.Tranche{}, err
		}
		tranches, err := s.cycles.ListTranches(txCtx, cycleID)
		if err != nil {
			return budget.Tranche{}, err
		}
		var found *budget.Tranche
		for i := range tranches {
			if tranches[i].Number == number {
				found = &tranches[i]
				break
			}
		}
		if found == nil {
			return budget.Tranche{}, notFound("tranche")
		}
		if found.ReleasedAt != nil {
			return budget.Tranche{}, newServiceError(http.StatusConflict, CodeTrancheReleased, "tranche is already released", nil)
		}
		t, err := s.cycles.ReleaseTranche(txCtx, cycleID, number, s.rt.now())
		if err != nil {
			return budget.Tranche{}, err
		}
		return t, s.rt.budgetChanged(txCtx, cycleID, "tranche_released", t.ID)
	})
}

type AllocationInput struct {
	State      string
	Amount     decimal.Decimal
	DecisionNo string
}

// UpsertAllocations replaces the allocations of the listed states. The
// resulting sum must stay within the cycle's included total and no state may
// drop below what is already drawn against it.
func (s *CycleService) UpsertAllocations(ctx context.Context, cycleID uuid.UUID, in []AllocationInput) ([]budget.StateAllocation, error) {
	if len(in) == 0 {
		return nil, validationError(budget.ErrStateRequired)
	}
	seen := make(map[string]struct{}, len(in))
	for i := range in {
		in[i].State = budget.NormalizeState(in[i].State)
		if in[i].State == "" {
			return nil, validationError(budget.ErrStateRequired)
		}
		key := strings.ToLower(in[i].State)
		if _, dup := seen[key]; dup {
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeValidationFailed,
				fmt.Sprintf("state %q is listed twice", in[i].State), nil)
		}
		seen[key] = struct{}{}
		if err := budget.RequireNonNegative(in[i].Amount); err != nil {
			return nil, validationError(err)
		}
	}

	out, err := inTx(ctx, s.rt, func(txCtx context.Context) ([]budget.StateAllocation, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, cycleID); err != nil {
			return nil, err
		}
		existing, err := s.cycles.ListAllocations(txCtx, cycleID)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]decimal.Decimal, len(existing)+len(in))
		for _, a := range existing {
			merged[strings.ToLower(a.State)] = a.Amount
		}
		for _, a := range in {
			used, err := s.usage.Usage(txCtx, UsageScope{CycleID: cycleID, State: a.State})
			if err != nil {
				return nil, err
			}
			if used.Used().GreaterThan(a.Amount) {
				return nil, insufficientRemaining(fmt.Sprintf("state %q already uses %s", a.State, used.Used().StringFixed(2)))
			}
			merged[strings.ToLower(a.State)] = a.Amount
		}

		total := decimal.Zero
		for _, amt := range merged {
			total = total.Add(amt)
		}
		cycleTotals, err := s.usage.Usage(txCtx, UsageScope{CycleID: cycleID})
		if err != nil {
			return nil, err
		}
		if total.GreaterThan(cycleTotals.Included) {
			recordWriteConflict("overdrawn")
			return nil, newServiceError(http.StatusUnprocessableEntity, CodeAllocationsExceed,
				fmt.Sprintf("allocations would total %s of %s included", total.StringFixed(2), cycleTotals.Included.StringFixed(2)), nil)
		}

		saved := make([]budget.StateAllocation, 0, len(in))
		for _, a := range in {
			row, err := s.cycles.UpsertAllocation(txCtx, budget.StateAllocation{
				ID:         uuid.New(),
				CycleID:    cycleID,
				State:      a.State,
				Amount:     a.Amount,
				DecisionNo: strings.TrimSpace(a.DecisionNo),
			})
			if err != nil {
				return nil, err
			}
			saved = append(saved, row)
		}
		return saved, s.rt.budgetChanged(txCtx, cycleID, "allocations_upserted", cycleID)
	})
	if err == nil {
		s.rt.invalidate(ctx, "allocation", cycleID)
	}
	return out, err
}

type HistoricalInput struct {
	State       string
	GrantCallID *uuid.UUID
	Amount      decimal.Decimal
	Note        string
}

// RecordHistorical books spend made before the portal existed. It draws on
// the cycle like any reservation and is checked the same way.
func (s *CycleService) RecordHistorical(ctx context.Context, cycleID uuid.UUID, in HistoricalInput) (budget.HistoricalEntry, error) {
	in.State = budget.NormalizeState(in.State)
	if in.State == "" {
		return budget.HistoricalEntry{}, validationError(budget.ErrStateRequired)
	}
	if err := budget.RequirePositive(in.Amount); err != nil {
		return budget.HistoricalEntry{}, validationError(err)
	}
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (budget.HistoricalEntry, error) {
		if _, err := s.ledger.lockOpenCycles(txCtx, cycleID); err != nil {
			return budget.HistoricalEntry{}, err
		}

		scopes := []UsageScope{{CycleID: cycleID}}
		if in.GrantCallID != nil {
			if _, err := s.cycles.GetInclusion(txCtx, cycleID, *in.GrantCallID); err != nil {
				if isNoRows(err) {
					return budget.HistoricalEntry{}, insufficientRemaining("grant call is not included in the cycle")
				}
				return budget.HistoricalEntry{}, err
			}
			scopes = append(scopes, UsageScope{CycleID: cycleID, GrantCallID: in.GrantCallID})
		}
		if _, err := s.cycles.GetAllocation(txCtx, cycleID, in.State); err == nil {
			scopes = append(scopes, UsageScope{CycleID: cycleID, State: in.State})
		} else if !isNoRows(err) {
			return budget.HistoricalEntry{}, err
		}
		for _, scope := range scopes {
			totals, err := s.usage.Usage(txCtx, scope)
			if err != nil {
				return budget.HistoricalEntry{}, err
			}
			if !totals.Covers(in.Amount) {
				return budget.HistoricalEntry{}, insufficientRemaining(fmt.Sprintf("amount %s exceeds remaining %s",
					in.Amount.StringFixed(2), totals.Remaining().StringFixed(2)))
			}
		}

		h, err := s.cycles.InsertHistorical(txCtx, budget.HistoricalEntry{
			ID:          uuid.New(),
			CycleID:     cycleID,
			State:       in.State,
			GrantCallID: in.GrantCallID,
			Amount:      in.Amount,
			Note:        strings.TrimSpace(in.Note),
			RecordedAt:  s.rt.now(),
		})
		if err != nil {
			return budget.HistoricalEntry{}, err
		}
		return h, s.rt.budgetChanged(txCtx, cycleID, "historical_recorded", h.ID)
	})
	if err == nil {
		s.rt.invalidate(ctx, "historical", cycleID)
	}
	return out, err
}
