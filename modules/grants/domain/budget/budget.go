// Package budget holds the funding-side entities: cycles with their
// inclusions, tranches, state allocations and historical spend, and the
// grant calls whose money is included into cycles.
package budget

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CycleStatus string

const (
	CycleOpen   CycleStatus = "open"
	CycleClosed CycleStatus = "closed"
)

type GrantCallStatus string

const (
	GrantCallOpen   GrantCallStatus = "open"
	GrantCallClosed GrantCallStatus = "closed"
)

const DefaultCurrency = "USD"

var (
	ErrInvalidCode   = errors.New("code must be 2-10 upper-case letters or digits")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrNegative      = errors.New("amount must not be negative")
	ErrInvalidYear   = errors.New("year is out of range")
	ErrNameRequired  = errors.New("name is required")
	ErrStateRequired = errors.New("state is required")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

type Cycle struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Year      int         `json:"year"`
	Status    CycleStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (c Cycle) IsOpen() bool { return c.Status == CycleOpen }

// Inclusion is the part of a grant call's money included into a cycle.
type Inclusion struct {
	CycleID     uuid.UUID       `json:"cycle_id"`
	GrantCallID uuid.UUID       `json:"grant_call_id"`
	Amount      decimal.Decimal `json:"amount"`
}

type Tranche struct {
	ID         uuid.UUID       `json:"id"`
	CycleID    uuid.UUID       `json:"cycle_id"`
	Number     int             `json:"number"`
	Amount     decimal.Decimal `json:"amount"`
	ReleasedAt *time.Time      `json:"released_at,omitempty"`
}

type StateAllocation struct {
	ID         uuid.UUID       `json:"id"`
	CycleID    uuid.UUID       `json:"cycle_id"`
	State      string          `json:"state"`
	Amount     decimal.Decimal `json:"amount"`
	DecisionNo string          `json:"decision_no"`
}

// HistoricalEntry records money spent against a cycle outside the portal.
type HistoricalEntry struct {
	ID          uuid.UUID       `json:"id"`
	CycleID     uuid.UUID       `json:"cycle_id"`
	State       string          `json:"state"`
	GrantCallID *uuid.UUID      `json:"grant_call_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Note        string          `json:"note"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

type GrantCall struct {
	ID        uuid.UUID       `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Donor     string          `json:"donor"`
	DonorCode string          `json:"donor_code"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    GrantCallStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// NormalizeCode upper-cases and validates a grant call or donor code.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", ErrInvalidCode
	}
	return code, nil
}

// NormalizeState trims a state name and collapses inner whitespace.
func NormalizeState(state string) string {
	return strings.Join(strings.Fields(state), " ")
}

func ValidateYear(year int) error {
	if year < 2000 || year > 2100 {
		return ErrInvalidYear
	}
	return nil
}

func RequirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func RequireNonNegative(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegative
	}
	return nil
}

// Sum adds amounts with decimal precision.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
