package dtos

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/services"
)

type CreateMOUDTO struct {
	WorkplanIDs []string `json:"workplan_ids" validate:"required,min=1,dive,uuid"`
	PartnerName string   `json:"partner_name" validate:"required"`
	StartDate   string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string   `json:"end_date" validate:"required,datetime=2006-01-02"`
}

func (d *CreateMOUDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *CreateMOUDTO) ToInput() services.CreateMOUInput {
	ids := make([]uuid.UUID, 0, len(d.WorkplanIDs))
	for _, s := range d.WorkplanIDs {
		ids = append(ids, id(s))
	}
	return services.CreateMOUInput{
		WorkplanIDs: ids,
		PartnerName: d.PartnerName,
		StartDate:   date(d.StartDate),
		EndDate:     date(d.EndDate),
	}
}

type FinancialLineDTO struct {
	Category    string           `json:"category" validate:"required"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
}

type CreateFinancialDTO struct {
	WorkplanID  string             `json:"workplan_id" validate:"required,uuid"`
	PeriodStart string             `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string             `json:"period_end" validate:"required,datetime=2006-01-02"`
	Lines       []FinancialLineDTO `json:"lines" validate:"required,min=1,dive"`
}

func (d *CreateFinancialDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *CreateFinancialDTO) ToInput() services.CreateFinancialInput {
	lines := make([]services.FinancialLineInput, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, services.FinancialLineInput{Category: l.Category, Description: l.Description, Amount: *l.Amount})
	}
	return services.CreateFinancialInput{
		WorkplanID:  id(d.WorkplanID),
		PeriodStart: date(d.PeriodStart),
		PeriodEnd:   date(d.PeriodEnd),
		Lines:       lines,
	}
}

type CreateProgramDTO struct {
	WorkplanID  string `json:"workplan_id" validate:"required,uuid"`
	PeriodStart string `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"required,datetime=2006-01-02"`
	Individuals int    `json:"individuals" validate:"min=0"`
	Families    int    `json:"families" validate:"min=0,ltefield=Individuals"`
	Narrative   string `json:"narrative" validate:"required"`
}

func (d *CreateProgramDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *CreateProgramDTO) ToInput() services.CreateProgramInput {
	return services.CreateProgramInput{
		WorkplanID:  id(d.WorkplanID),
		PeriodStart: date(d.PeriodStart),
		PeriodEnd:   date(d.PeriodEnd),
		Individuals: d.Individuals,
		Families:    d.Families,
		Narrative:   d.Narrative,
	}
}

// InspectDTO is one authorization question for the inspect endpoint.
type InspectDTO struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
	Object  string `json:"object" validate:"required"`
	Action  string `json:"action" validate:"required"`
}

func (d *InspectDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }
