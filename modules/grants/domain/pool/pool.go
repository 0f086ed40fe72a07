// Package pool computes remaining budget from aggregated funding totals.
package pool

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Totals are the raw aggregates for one scope (cycle, state or grant call).
// Included is the inclusion total for a cycle or grant call and the state
// allocation for a state.
type Totals struct {
	Included   decimal.Decimal
	Historical decimal.Decimal
	Committed  decimal.Decimal
	Pending    decimal.Decimal
}

// Remaining is Included - Historical - Committed - Pending.
func (t Totals) Remaining() decimal.Decimal {
	return t.Included.Sub(t.Historical).Sub(t.Committed).Sub(t.Pending)
}

// Used is everything drawn against the scope.
func (t Totals) Used() decimal.Decimal {
	return t.Historical.Add(t.Committed).Add(t.Pending)
}

// Covers reports whether amount fits into what remains.
func (t Totals) Covers(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(t.Remaining())
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Included:   t.Included.Add(o.Included),
		Historical: t.Historical.Add(o.Historical),
		Committed:  t.Committed.Add(o.Committed),
		Pending:    t.Pending.Add(o.Pending),
	}
}

type Summary struct {
	Included   decimal.Decimal `json:"included"`
	Historical decimal.Decimal `json:"historical"`
	Committed  decimal.Decimal `json:"committed"`
	Pending    decimal.Decimal `json:"pending"`
	Remaining  decimal.Decimal `json:"remaining"`
}

func (t Totals) Summary() Summary {
	return Summary{
		Included:   t.Included,
		Historical: t.Historical,
		Committed:  t.Committed,
		Pending:    t.Pending,
		Remaining:  t.Remaining(),
	}
}

type StateLine struct {
	State      string          `json:"state"`
	Allocated  decimal.Decimal `json:"allocated"`
	Historical decimal.Decimal `json:"historical"`
	Committed  decimal.Decimal `json:"committed"`
	Pending    decimal.Decimal `json:"pending"`
	Remaining  decimal.Decimal `json:"remaining"`
}

func NewStateLine(state string, t Totals) StateLine {
	return StateLine{
		State:      state,
		Allocated:  t.Included,
		Historical: t.Historical,
		Committed:  t.Committed,
		Pending:    t.Pending,
		Remaining:  t.Remaining(),
	}
}

type GrantCallLine struct {
	GrantCallID uuid.UUID       `json:"grant_call_id"`
	Code        string          `json:"code"`
	Included    decimal.Decimal `json:"included"`
	Historical  decimal.Decimal `json:"historical"`
	Committed   decimal.Decimal `json:"committed"`
	Pending     decimal.Decimal `json:"pending"`
	Remaining   decimal.Decimal `json:"remaining"`
}

func NewGrantCallLine(id uuid.UUID, code string, t Totals) GrantCallLine {
	return GrantCallLine{
		GrantCallID: id,
		Code:        code,
		Included:    t.Included,
		Historical:  t.Historical,
		Committed:   t.Committed,
		Pending:     t.Pending,
		Remaining:   t.Remaining(),
	}
}

// Report is the pool summary for one cycle, or for every open cycle when
// CycleID is nil.
type Report struct {
	CycleID     *uuid.UUID      `json:"cycle_id,omitempty"`
	Totals      Summary         `json:"totals"`
	ByState     []StateLine     `json:"by_state"`
	ByGrantCall []GrantCallLine `json:"by_grant_call"`
}
