// Package dtos holds the JSON request bodies of the grants API and their
// conversion into service inputs.
package dtos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/constants"
	"github.com/fsystem/portal/pkg/intl"
)

const DateLayout = "2006-01-02"

// validate runs the shared validator and keys its errors "field.<path>".
func validate(ctx context.Context, v any) (map[string]string, bool) {
	errs := constants.Validate.StructCtx(ctx, v)
	if errs == nil {
		return nil, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(errs, &verrs) {
		return map[string]string{"detail": errs.Error()}, false
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if _, rest, ok := strings.Cut(name, "."); ok {
			name = rest
		}
		out["field."+name] = intl.Translate(ctx,
			"ValidationErrors."+fe.Tag(),
			fmt.Sprintf("%s failed %q validation", name, fe.Tag()),
			map[string]any{"Field": name},
		)
	}
	return out, false
}

func date(s string) time.Time {
	t, _ := time.Parse(DateLayout, strings.TrimSpace(s))
	return t
}

func id(s string) uuid.UUID {
	v, _ := uuid.Parse(strings.TrimSpace(s))
	return v
}

func optionalID(s *string) *uuid.UUID {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := id(*s)
	return &v
}

type CreateCycleDTO struct {
	Name string `json:"name" validate:"required"`
	Year int    `json:"year" validate:"required"`
}

func (d *CreateCycleDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *CreateCycleDTO) ToInput() services.CreateCycleInput {
	return services.CreateCycleInput{Name: d.Name, Year: d.Year}
}

type UpsertInclusionDTO struct {
	GrantCallID string           `json:"grant_call_id" validate:"required,uuid"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
}

func (d *UpsertInclusionDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *UpsertInclusionDTO) ToInput() services.UpsertInclusionInput {
	return services.UpsertInclusionInput{GrantCallID: id(d.GrantCallID), Amount: *d.Amount}
}

type AddTrancheDTO struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

func (d *AddTrancheDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

type AllocationDTO struct {
	State      string           `json:"state" validate:"required"`
	Amount     *decimal.Decimal `json:"amount" validate:"required"`
	DecisionNo string           `json:"decision_no"`
}

type UpsertAllocationsDTO struct {
	Allocations []AllocationDTO `json:"allocations" validate:"required,min=1,dive"`
}

func (d *UpsertAllocationsDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *UpsertAllocationsDTO) ToInput() []services.AllocationInput {
	out := make([]services.AllocationInput, 0, len(d.Allocations))
	for _, a := range d.Allocations {
		out = append(out, services.AllocationInput{State: a.State, Amount: *a.Amount, DecisionNo: a.DecisionNo})
	}
	return out
}

type HistoricalDTO struct {
	State       string           `json:"state" validate:"required"`
	GrantCallID *string          `json:"grant_call_id" validate:"omitempty,uuid"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Note        string           `json:"note"`
}

func (d *HistoricalDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *HistoricalDTO) ToInput() services.HistoricalInput {
	return services.HistoricalInput{
		State:       d.State,
		GrantCallID: optionalID(d.GrantCallID),
		Amount:      *d.Amount,
		Note:        d.Note,
	}
}

type CreateGrantCallDTO struct {
	Code      string           `json:"code" validate:"required"`
	Name      string           `json:"name" validate:"required"`
	Donor     string           `json:"donor" validate:"required"`
	DonorCode string           `json:"donor_code" validate:"required"`
	Amount    *decimal.Decimal `json:"amount" validate:"required"`
	Currency  string           `json:"currency" validate:"omitempty,len=3,alpha"`
}

func (d *CreateGrantCallDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *CreateGrantCallDTO) ToInput() services.CreateGrantCallInput {
	return services.CreateGrantCallInput{
		Code:      d.Code,
		Name:      d.Name,
		Donor:     d.Donor,
		DonorCode: d.DonorCode,
		Amount:    *d.Amount,
		Currency:  d.Currency,
	}
}
