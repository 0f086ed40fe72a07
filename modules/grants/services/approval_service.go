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

// ApprovalService covers F2: approving (commit), rejecting, decommitting and
// reassigning workplans.
type ApprovalService struct {
	repo   WorkplanRepository
	ledger *fundingLedger
	rt     *runtime
}

func NewApprovalService(
	repo WorkplanRepository,
	cycles CycleRepository,
	grantCalls GrantCallRepository,
	usage UsageRepository,
	opts ...Option,
) *ApprovalService {
	rt := newRuntime(opts)
	return &ApprovalService{
		repo:   repo,
		ledger: &fundingLedger{cycles: cycles, grantCalls: grantCalls, usage: usage, workplans: repo, rt: rt},
		rt:     rt,
	}
}

type ApproveInput struct {
	ApprovedAmount *decimal.Decimal
	Comment        string
}

type ApprovalResult struct {
	Workplan workplan.Workplan `json:"workplan"`
	Approval workplan.Approval `json:"approval"`
}

// Approve records the decision and commits the pending reservation. When the
// approved amount is larger than the pending one, the increase is checked
// against what remains.
func (s *ApprovalService) Approve(ctx context.Context, id uuid.UUID, in ApproveInput) (ApprovalResult, error) {
	if in.ApprovedAmount != nil {
		if err := budget.RequirePositive(*in.ApprovedAmount); err != nil {
			return ApprovalResult{}, validationError(err)
		}
	}
	var cycleID uuid.UUID
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (ApprovalResult, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return ApprovalResult{}, orNotFound(err, "workplan")
		}
		next, err := workplan.Next(wp.FundingStatus, workplan.TransitionCommit)
		if err != nil {
			return ApprovalResult{}, err
		}
		target, ok := targetOf(wp)
		if !ok {
			return ApprovalResult{}, invalidTransition(&workplan.TransitionError{Transition: workplan.TransitionCommit, From: wp.FundingStatus})
		}
		cycleID = target.CycleID
		if _, err := s.ledger.lockOpenCycles(txCtx, target.CycleID); err != nil {
			return ApprovalResult{}, err
		}

		amount := wp.Amount
		if in.ApprovedAmount != nil {
			amount = *in.ApprovedAmount
		}
		if amount.GreaterThan(wp.Amount) {
			if err := s.ledger.checkRemaining(txCtx, target, amount, wp.ID); err != nil {
				return ApprovalResult{}, err
			}
		}

		approval, err := s.repo.InsertApproval(txCtx, workplan.Approval{
			ID:             uuid.New(),
			WorkplanID:     wp.ID,
			Decision:       workplan.DecisionApproved,
			ApprovedAmount: &amount,
			Approver:       composables.UseActor(txCtx),
			Comment:        strings.TrimSpace(in.Comment),
			At:             s.rt.now(),
		})
		if err != nil {
			return ApprovalResult{}, err
		}

		after := wp
		after.FundingStatus = next
		after.Amount = amount
		saved, err := s.ledger.record(txCtx, wp, after, workplan.TransitionCommit, approval.Comment)
		if err != nil {
			return ApprovalResult{}, err
		}
		return ApprovalResult{Workplan: saved, Approval: approval}, nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	recordTransition(string(workplan.TransitionCommit))
	s.rt.invalidate(ctx, "commit", cycleID)
	return out, nil
}

// Reject records a rejection, marks the workplan rejected and releases a
// pending reservation. Committed workplans must be decommitted first.
func (s *ApprovalService) Reject(ctx context.Context, id uuid.UUID, comment string) (ApprovalResult, error) {
	comment = strings.TrimSpace(comment)
	var cycleID uuid.UUID
	released := false
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (ApprovalResult, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return ApprovalResult{}, orNotFound(err, "workplan")
		}
		if wp.Status != workplan.StatusSubmitted {
			return ApprovalResult{}, invalidTransition(workplan.ErrNotSubmitted)
		}
		switch wp.FundingStatus {
		case workplan.FundingUnassigned:
		case workplan.FundingPending:
			if wp.CycleID != nil {
				cycleID = *wp.CycleID
			}
			if wp, err = s.ledger.release(txCtx, wp, workplan.TransitionRelease, comment); err != nil {
				return ApprovalResult{}, err
			}
			released = true
		default:
			return ApprovalResult{}, invalidTransition(&workplan.TransitionError{Transition: "reject", From: wp.FundingStatus})
		}

		approval, err := s.repo.InsertApproval(txCtx, workplan.Approval{
			ID:         uuid.New(),
			WorkplanID: wp.ID,
			Decision:   workplan.DecisionRejected,
			Approver:   composables.UseActor(txCtx),
			Comment:    comment,
			At:         s.rt.now(),
		})
		if err != nil {
			return ApprovalResult{}, err
		}
		wp.Status = workplan.StatusRejected
		wp.UpdatedAt = s.rt.now()
		saved, err := s.repo.UpdateWorkplan(txCtx, wp)
		if err != nil {
			return ApprovalResult{}, err
		}
		return ApprovalResult{Workplan: saved, Approval: approval}, nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	if released {
		recordTransition(string(workplan.TransitionRelease))
		s.rt.invalidate(ctx, "reject", cycleID)
	}
	return out, nil
}

// Decommit releases the whole committed amount. Allocated workplans are bound
// by a signed MOU and cannot be decommitted.
func (s *ApprovalService) Decommit(ctx context.Context, id uuid.UUID, reason string) (workplan.Workplan, error) {
	var cycleID uuid.UUID
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		if wp.CycleID != nil {
			cycleID = *wp.CycleID
		}
		return s.ledger.release(txCtx, wp, workplan.TransitionDecommit, strings.TrimSpace(reason))
	})
	if err != nil {
		return workplan.Workplan{}, err
	}
	recordTransition(string(workplan.TransitionDecommit))
	s.rt.invalidate(ctx, "decommit", cycleID)
	return out, nil
}

type ReassignInput struct {
	CycleID     uuid.UUID
	GrantCallID uuid.UUID
	State       string // optional, defaults to the workplan's state
	Reason      string
}

// Reassign moves a pending or committed reservation to another cycle, grant
// call or state. Both cycles are locked in id order and the target is checked
// net of the workplan's own current reservation.
func (s *ApprovalService) Reassign(ctx context.Context, id uuid.UUID, in ReassignInput) (workplan.Workplan, error) {
	var touched []uuid.UUID
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (workplan.Workplan, error) {
		wp, err := s.repo.LockWorkplan(txCtx, id)
		if err != nil {
			return workplan.Workplan{}, orNotFound(err, "workplan")
		}
		next, err := workplan.Next(wp.FundingStatus, workplan.TransitionReassign)
		if err != nil {
			return workplan.Workplan{}, err
		}
		source, ok := targetOf(wp)
		if !ok {
			return workplan.Workplan{}, invalidTransition(&workplan.TransitionError{Transition: workplan.TransitionReassign, From: wp.FundingStatus})
		}
		state := budget.NormalizeState(in.State)
		if state == "" {
			state = wp.State
		}
		target := fundingTarget{CycleID: in.CycleID, GrantCallID: in.GrantCallID, State: state}
		touched = uniqueSortedIDs([]uuid.UUID{source.CycleID, target.CycleID})
		if _, err := s.ledger.lockOpenCycles(txCtx, touched...); err != nil {
			return workplan.Workplan{}, err
		}
		if _, err := s.ledger.grantCalls.GetGrantCall(txCtx, target.GrantCallID); err != nil {
			return workplan.Workplan{}, orNotFound(err, "grant call")
		}
		if err := s.ledger.checkRemaining(txCtx, target, wp.Amount, wp.ID); err != nil {
			return workplan.Workplan{}, err
		}
		// Reassigning onto the current target changes nothing.
		if target == source {
			touched = nil
			return wp, nil
		}

		after := wp
		after.FundingStatus = next
		after.CycleID = &target.CycleID
		after.GrantCallID = &target.GrantCallID
		after.State = target.State
		return s.ledger.record(txCtx, wp, after, workplan.TransitionReassign, strings.TrimSpace(in.Reason))
	})
	if err != nil {
		return workplan.Workplan{}, err
	}
	if len(touched) > 0 {
		recordTransition(string(workplan.TransitionReassign))
		s.rt.invalidate(ctx, "reassign", touched...)
	}
	return out, nil
}

// ListCommitted returns committed and allocated workplans, optionally for one cycle.
func (s *ApprovalService) ListCommitted(ctx context.Context, cycleID *uuid.UUID) ([]workplan.Workplan, error) {
	return read(ctx, func(ctx context.Context) ([]workplan.Workplan, error) {
		items, _, err := s.repo.ListWorkplans(ctx, workplan.FindParams{
			CycleID:       cycleID,
			FundingStatus: []workplan.FundingStatus{workplan.FundingCommitted, workplan.FundingAllocated},
		})
		return items, err
	})
}
