package mou

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft  Status = "draft"
	StatusSigned Status = "signed"
)

var (
	ErrNoWorkplans      = errors.New("at least one workplan is required")
	ErrDuplicate        = errors.New("workplan listed more than once")
	ErrPartnerRequired  = errors.New("partner_name is required")
	ErrInvalidDateRange = errors.New("end_date must not be before start_date")
	ErrAlreadySigned    = errors.New("mou is already signed")
	ErrMissingSerial    = errors.New("workplan has no serial")
)

// MOU bundles committed workplans of one emergency room into an F3 agreement.
type MOU struct {
	ID          uuid.UUID       `json:"id"`
	Code        string          `json:"code"`
	WorkplanIDs []uuid.UUID     `json:"workplan_ids"`
	ERRCode     string          `json:"err_code"`
	PartnerName string          `json:"partner_name"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      Status          `json:"status"`
	SignedAt    *time.Time      `json:"signed_at,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the request-level fields of a new MOU.
func (m MOU) Validate() error {
	if len(m.WorkplanIDs) == 0 {
		return ErrNoWorkplans
	}
	seen := make(map[uuid.UUID]struct{}, len(m.WorkplanIDs))
	for _, id := range m.WorkplanIDs {
		if _, ok := seen[id]; ok {
			return ErrDuplicate
		}
		seen[id] = struct{}{}
	}
	if strings.TrimSpace(m.PartnerName) == "" {
		return ErrPartnerRequired
	}
	if m.EndDate.Before(m.StartDate) {
		return ErrInvalidDateRange
	}
	return nil
}

// Code derives the MOU code from the lowest workplan serial in the bundle.
func Code(serials []string) (string, error) {
	if len(serials) == 0 {
		return "", ErrNoWorkplans
	}
	sorted := append([]string(nil), serials...)
	sort.Strings(sorted)
	if sorted[0] == "" {
		return "", ErrMissingSerial
	}
	return "MOU-" + sorted[0], nil
}
