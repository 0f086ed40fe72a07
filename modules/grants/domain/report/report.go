// Package report holds F4 financial and F5 program reports.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
)

var (
	ErrInvalidPeriod    = errors.New("period_end must not be before period_start")
	ErrNoLines          = errors.New("at least one line is required")
	ErrInvalidLine      = errors.New("line category is required and amount must be >= 0")
	ErrNegativeCount    = errors.New("counts must not be negative")
	ErrFamiliesTooLarge = errors.New("families must not exceed individuals")
	ErrNarrative        = errors.New("narrative is required")
)

// StatusError reports a report status change the current status does not allow.
type StatusError struct {
	From Status
	To   Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot move report from %q to %q", e.From, e.To)
}

// Advance validates draft -> submitted -> approved.
func Advance(from, to Status) error {
	if (from == StatusDraft && to == StatusSubmitted) || (from == StatusSubmitted && to == StatusApproved) {
		return nil
	}
	return &StatusError{From: from, To: to}
}

type Period struct {
	Start time.Time `json:"period_start"`
	End   time.Time `json:"period_end"`
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

type Line struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type Financial struct {
	ID          uuid.UUID       `json:"id"`
	WorkplanID  uuid.UUID       `json:"workplan_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Lines       []Line          `json:"lines"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
	Status      Status          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Total sums the line amounts.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

func (f Financial) Validate() error {
	if err := (Period{Start: f.PeriodStart, End: f.PeriodEnd}).Validate(); err != nil {
		return err
	}
	if len(f.Lines) == 0 {
		return ErrNoLines
	}
	for _, l := range f.Lines {
		if strings.TrimSpace(l.Category) == "" || l.Amount.IsNegative() {
			return ErrInvalidLine
		}
	}
	return nil
}

type Program struct {
	ID          uuid.UUID `json:"id"`
	WorkplanID  uuid.UUID `json:"workplan_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Individuals int       `json:"individuals"`
	Families    int       `json:"families"`
	Narrative   string    `json:"narrative"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (p Program) Validate() error {
	if err := (Period{Start: p.PeriodStart, End: p.PeriodEnd}).Validate(); err != nil {
		return err
	}
	if p.Individuals < 0 || p.Families < 0 {
		return ErrNegativeCount
	}
	if p.Families > p.Individuals {
		return ErrFamiliesTooLarge
	}
	if strings.TrimSpace(p.Narrative) == "" {
		return ErrNarrative
	}
	return nil
}
