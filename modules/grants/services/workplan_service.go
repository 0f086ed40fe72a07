package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

// WorkplanService covers F1: drafting, submission and the pre-assignment of
// submitted workplans to a cycle and grant call.
type WorkplanService struct {
	repo   WorkplanRepository
	ledger *fundingLedger
	rt     *runtime

	defaultLimit int
	maxLimit     int
}

func NewWorkplanService(
	repo WorkplanRepository,
	cycles CycleRepository,
	grantCalls GrantCallRepository,
	usage UsageRepository,
	serials SerialRepository,
	opts ...Option,
) *WorkplanService {
	rt := newRuntime(opts)
	return &WorkplanService{
		repo: repo,
		ledger: &fundingLedger{
			cycles:     cycles,
			grantCalls: grantCalls,
			usage:      usage,
			workplans:  repo,
			serials:    serials,
			rt:         rt,
		},
		rt:           rt,
		defaultLimit: 25,
		maxLimit:     100,
	}
}

// SetPageLimits overrides the default and maximum list page sizes.
func (s *WorkplanService) SetPageLimits(defaultLimit, maxLimit int) {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit >= s.defaultLimit {
		s.maxLimit = maxLimit
	}
}

type CreateWorkplanInput struct {
	ERRName  string
	ERRCode  string
	State    string
	Locality string
	Title    string
	Amount   decimal.Decimal
}

func (s *WorkplanService) Create(ctx context.Context, in CreateWorkplanInput) (workplan.Workplan, error) {
	now := s.rt.now()
	wp := workplan.Workplan{
		ID:              uuid.New(),
		ERRName:         strings.TrimSpace(in.ERRName),
		ERRCode:         strings.ToUpper(strings.TrimSpace(in.ERRCode)),
		State:           budget.NormalizeState(in.State),
		Locality:        strings.TrimSpace(in.Locality),
		Title:           strings.TrimSpace(in.Title),
		RequestedAmount: in.Amount,
		Amount:          in.Amount,
		Status:          workplan.StatusDraft,
		FundingStatus:   workplan.FundingUnassigned,
		CreatedBy:       composables.UseActor(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := wp.Validate(); err != nil {
		return workplan.Workplan{}, validationError(err)
	}
	return inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		return s.repo.CreateWorkplan(txCtx, wp)
	})
}

type UpdateDraftInput struct {
	Title    *string
	Locality *string
	Amount   *decimal.Decimal
}

// UpdateDraft edits a workplan that has not been submitted yet.
func (s *WorkplanService) UpdateDraft(ctx context.Context, id uuid.UUID, in UpdateDraftInput) (workplan.Workplan, error) {
	return inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		if wp.Status != workplan.StatusDraft {
			return workplan.Workplan{}, invalidTransition(workplan.ErrNotDraft)
		}
		if in.Title != nil {
			wp.Title = strings.TrimSpace(*in.Title)
		}
		if in.Locality != nil {
			wp.Locality = strings.TrimSpace(*in.Locality)
		}
		if in.Amount != nil {
			wp.Amount = *in.Amount
			wp.RequestedAmount = *in.Amount
		}
		if err := wp.Validate(); err != nil {
			return workplan.Workplan{}, validationError(err)
		}
		wp.UpdatedAt = s.rt.now()
		return s.repo.UpdateWorkplan(txCtx, wp)
	})
}

func (s *WorkplanService) Submit(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	return inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		if wp.Status != workplan.StatusDraft {
			return workplan.Workplan{}, invalidTransition(workplan.ErrNotDraft)
		}
		wp.Status = workplan.StatusSubmitted
		wp.UpdatedAt = s.rt.now()
		return s.repo.UpdateWorkplan(txCtx, wp)
	})
}

func (s *WorkplanService) Get(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	return read(ctx, func(ctx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.GetWorkplan(ctx, id)
		return wp, orNotFound(err, "workplan")
	})
}

type WorkplanPage struct {
	Items  []workplan.Workplan `json:"items"`
	Total  int64               `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (s *WorkplanService) List(ctx context.Context, params workplan.FindParams) (WorkplanPage, error) {
	if params.Limit <= 0 {
		params.Limit = s.defaultLimit
	}
	if params.Limit > s.maxLimit {
		params.Limit = s.maxLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	params.State = budget.NormalizeState(params.State)
	params.Q = strings.TrimSpace(params.Q)
	return read(ctx, func(ctx context.Context) (WorkplanPage, error) {
		items, total, err := s.repo.ListWorkplans(ctx, params)
		if err != nil {
			return WorkplanPage{}, err
		}
		return WorkplanPage{Items: items, Total: total, Limit: params.Limit, Offset: params.Offset}, nil
	})
}

type WorkplanHistory struct {
	Funding   []workplan.FundingEvent `json:"funding"`
	Approvals []workplan.Approval     `json:"approvals"`
}

func (s *WorkplanService) History(ctx context.Context, id uuid.UUID) (WorkplanHistory, error) {
	return read(ctx, func(ctx context.Context) (WorkplanHistory, error) {
		if _, err := s.repo.GetWorkplan(ctx, id); err != nil {
			return WorkplanHistory{}, orNotFound(err, "workplan")
		}
		funding, err := s.repo.ListFundingEvents(ctx, id)
		if err != nil {
			return WorkplanHistory{}, err
		}
		approvals, err := s.repo.ListApprovals(ctx, id)
		if err != nil {
			return WorkplanHistory{}, err
		}
		return WorkplanHistory{Funding: funding, Approvals: approvals}, nil
	})
}

type PreAssignInput struct {
	CycleID     uuid.UUID
	GrantCallID uuid.UUID
}

// PreAssign reserves the workplan amount in a cycle and grant call and
// assigns its serials on first assignment.
func (s *WorkplanService) PreAssign(ctx context.Context, id uuid.UUID, in PreAssignInput) (workplan.Workplan, error) {
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		if wp.Status != workplan.StatusSubmitted {
			return workplan.Workplan{}, invalidTransition(workplan.ErrNotSubmitted)
		}
		next, err := workplan.Next(wp.FundingStatus, workplan.TransitionPreAssign)
		if err != nil {
			return workplan.Workplan{}, err
		}
		if _, err := s.ledger.lockOpenCycles(txCtx, in.CycleID); err != nil {
			return workplan.Workplan{}, err
		}
		gc, err := s.ledger.grantCalls.GetGrantCall(txCtx, in.GrantCallID)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "grant call")
		}

		target := fundingTarget{CycleID: in.CycleID, GrantCallID: gc.ID, State: wp.State}
		if err := s.ledger.checkRemaining(txCtx, target, wp.Amount, wp.ID); err != nil {
			return workplan.Workplan{}, err
		}

		after := wp
		after.FundingStatus = next
		after.CycleID = &target.CycleID
		after.GrantCallID = &target.GrantCallID
		if !wp.HasSerial() {
			if err := s.ledger.assignSerials(txCtx, &after, gc, target); err != nil {
				return workplan.Workplan{}, err
			}
		}
		return s.ledger.record(txCtx, wp, after, workplan.TransitionPreAssign, "")
	})
	if err != nil {
		return workplan.Workplan{}, err
	}
	recordTransition(string(workplan.TransitionPreAssign))
	s.rt.invalidate(ctx, "pre_assign", in.CycleID)
	return out, nil
}

// Release returns a pending reservation to the pool. The workplan keeps its serial.
func (s *WorkplanService) Release(ctx context.Context, id uuid.UUID, reason string) (workplan.Workplan, error) {
	var cycleID uuid.UUID
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		if wp.CycleID != nil {
			cycleID = *wp.CycleID
		}
		return s.ledger.release(txCtx, wp, workplan.TransitionRelease, strings.TrimSpace(reason))
	})
	if err != nil {
		return workplan.Workplan{}, err
	}
	recordTransition(string(workplan.TransitionRelease))
	s.rt.invalidate(ctx, "release", cycleID)
	return out, nil
}
