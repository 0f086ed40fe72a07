package workplan

import (
	"fmt"
	"strings"
)

type FundingStatus string

const (
	FundingUnassigned FundingStatus = "unassigned"
	FundingPending    FundingStatus = "pending"
	FundingCommitted  FundingStatus = "committed"
	FundingAllocated  FundingStatus = "allocated"
)

func ParseFundingStatus(s string) (FundingStatus, error) {
	switch st := FundingStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case FundingUnassigned, FundingPending, FundingCommitted, FundingAllocated:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}

// Reserves is true for statuses that count against a cycle's remaining money.
func (s FundingStatus) Reserves() bool {
	return s == FundingPending || s == FundingCommitted || s == FundingAllocated
}

// Committed is true for statuses reported as committed money. Allocated
// workplans have a signed MOU and still count as committed.
func (s FundingStatus) Committed() bool {
	return s == FundingCommitted || s == FundingAllocated
}

type Transition string

const (
	TransitionPreAssign Transition = "pre_assign"
	TransitionRelease   Transition = "release"
	TransitionCommit    Transition = "commit"
	TransitionDecommit  Transition = "decommit"
	TransitionReassign  Transition = "reassign"
	TransitionAllocate  Transition = "allocate"
)

// TransitionError is returned for a transition the current status does not allow.
type TransitionError struct {
	Transition Transition
	From       FundingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a workplan in funding status %q", e.Transition, e.From)
}

// Next returns the status reached by applying t to from.
//
//	unassigned --pre_assign--> pending --commit--> committed --allocate--> allocated
//	pending    --release-->  unassigned
//	committed  --decommit--> unassigned
//	pending|committed --reassign--> unchanged
func Next(from FundingStatus, t Transition) (FundingStatus, error) {
	switch {
	case t == TransitionPreAssign && from == FundingUnassigned:
		return FundingPending, nil
	case t == TransitionRelease && from == FundingPending:
		return FundingUnassigned, nil
	case t == TransitionCommit && from == FundingPending:
		return FundingCommitted, nil
	case t == TransitionDecommit && from == FundingCommitted:
		return FundingUnassigned, nil
	case t == TransitionAllocate && from == FundingCommitted:
		return FundingAllocated, nil
	case t == TransitionReassign && (from == FundingPending || from == FundingCommitted):
		return from, nil
	}
	return "", &TransitionError{Transition: t, From: from}
}
