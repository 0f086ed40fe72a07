package workplan

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusRejected  Status = "rejected"
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrERRRequired     = errors.New("err_name and err_code are required")
	ErrStateRequired   = errors.New("state is required")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrNotDraft        = errors.New("workplan is not a draft")
	ErrNotSubmitted    = errors.New("workplan is not submitted")
	ErrUnknownStatus   = errors.New("unknown funding status")
	ErrUnknownDecision = errors.New("unknown decision")
)

// Workplan is an F1 submission from an emergency room.
type Workplan struct {
	ID              uuid.UUID       `json:"id"`
	Serial          *string         `json:"serial,omitempty"`
	GrantSerial     *string         `json:"grant_serial,omitempty"`
	ERRName         string          `json:"err_name"`
	ERRCode         string          `json:"err_code"`
	State           string          `json:"state"`
	Locality        string          `json:"locality"`
	Title           string          `json:"title"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Amount          decimal.Decimal `json:"amount"`
	Status          Status          `json:"status"`
	FundingStatus   FundingStatus   `json:"funding_status"`
	CycleID         *uuid.UUID      `json:"cycle_id,omitempty"`
	GrantCallID     *uuid.UUID      `json:"grant_call_id,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Reserves reports whether the workplan currently holds money in a cycle.
func (w Workplan) Reserves() bool {
	return w.FundingStatus.Reserves() && w.CycleID != nil && w.GrantCallID != nil
}

func (w Workplan) HasSerial() bool {
	return w.Serial != nil && *w.Serial != ""
}

// Validate checks the fields required for a draft.
func (w Workplan) Validate() error {
	switch {
	case strings.TrimSpace(w.Title) == "":
		return ErrTitleRequired
	case strings.TrimSpace(w.ERRName) == "" || strings.TrimSpace(w.ERRCode) == "":
		return ErrERRRequired
	case strings.TrimSpace(w.State) == "":
		return ErrStateRequired
	case !w.Amount.IsPositive():
		return ErrInvalidAmount
	}
	return nil
}

// FundingEvent is one append-only entry of a workplan's funding history.
type FundingEvent struct {
	ID          uuid.UUID       `json:"id"`
	WorkplanID  uuid.UUID       `json:"workplan_id"`
	Transition  Transition      `json:"transition"`
	From        FundingStatus   `json:"from"`
	To          FundingStatus   `json:"to"`
	CycleID     *uuid.UUID      `json:"cycle_id,omitempty"`
	GrantCallID *uuid.UUID      `json:"grant_call_id,omitempty"`
	State       string          `json:"state"`
	Amount      decimal.Decimal `json:"amount"`
	Actor       string          `json:"actor"`
	Reason      string          `json:"reason"`
	At          time.Time       `json:"at"`
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Approval is the F2 decision on a workplan.
type Approval struct {
	ID             uuid.UUID        `json:"id"`
	WorkplanID     uuid.UUID        `json:"workplan_id"`
	Decision       Decision         `json:"decision"`
	ApprovedAmount *decimal.Decimal `json:"approved_amount,omitempty"`
	Approver       string           `json:"approver"`
	Comment        string           `json:"comment"`
	At             time.Time        `json:"at"`
}

// FindParams filters workplan listings.
type FindParams struct {
	State         string
	CycleID       *uuid.UUID
	FundingStatus []FundingStatus
	Q             string
	Limit         int
	Offset        int
}
