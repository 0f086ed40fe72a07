package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TopicFundingChangedV1 = "grants.funding.changed.v1"
	TopicBudgetChangedV1  = "grants.budget.changed.v1"
	EventVersionV1        = 1
)

// FundingChangedV1 is emitted for every workplan funding transition.
type FundingChangedV1 struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventVersion    int             `json:"event_version"`
	RequestID       string          `json:"request_id"`
	TransactionTime time.Time       `json:"transaction_time"`
	Actor           string          `json:"actor"`
	WorkplanID      uuid.UUID       `json:"workplan_id"`
	Transition      string          `json:"transition"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	CycleIDs        []uuid.UUID     `json:"cycle_ids"`
	GrantCallID     *uuid.UUID      `json:"grant_call_id,omitempty"`
	State           string          `json:"state"`
	Amount          decimal.Decimal `json:"amount"`
}

// BudgetChangedV1 is emitted when a cycle's budget side changes
// (inclusions, tranches, allocations, historical entries, close).
type BudgetChangedV1 struct {
	EventID         uuid.UUID `json:"event_id"`
	EventVersion    int       `json:"event_version"`
	RequestID       string    `json:"request_id"`
	TransactionTime time.Time `json:"transaction_time"`
	Actor           string    `json:"actor"`
	CycleID         uuid.UUID `json:"cycle_id"`
	ChangeType      string    `json:"change_type"`
	EntityID        uuid.UUID `json:"entity_id"`
}
