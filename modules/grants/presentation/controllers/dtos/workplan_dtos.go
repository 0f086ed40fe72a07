package dtos

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/services"
)

type CreateWorkplanDTO struct {
	ERRName  string           `json:"err_name" validate:"required"`
	ERRCode  string           `json:"err_code" validate:"required,alphanum,max=20"`
	State    string           `json:"state" validate:"required"`
	Locality string           `json:"locality"`
	Title    string           `json:"title" validate:"required"`
	Amount   *decimal.Decimal `json:"amount" validate:"required"`
}

func (d *CreateWorkplanDTO) Ok(ctx context.Context) (map[string]string, bool) {
	return validate(ctx, d)
}

func (d *CreateWorkplanDTO) ToInput() services.CreateWorkplanInput {
	return services.CreateWorkplanInput{
		ERRName:  d.ERRName,
		ERRCode:  d.ERRCode,
		State:    d.State,
		Locality: d.Locality,
		Title:    d.Title,
		Amount:   *d.Amount,
	}
}

// UpdateDraftDTO is a partial update; absent fields are left unchanged.
type UpdateDraftDTO struct {
	Title    *string          `json:"title" validate:"omitempty,min=1"`
	Locality *string          `json:"locality"`
	Amount   *decimal.Decimal `json:"amount"`
}

func (d *UpdateDraftDTO) Ok(ctx context.Context) (map[string]string, bool) {
	if d.Title == nil && d.Locality == nil && d.Amount == nil {
		return map[string]string{"detail": "nothing to update"}, false
	}
	return validate(ctx, d)
}

func (d *UpdateDraftDTO) ToInput() services.UpdateDraftInput {
	return services.UpdateDraftInput{Title: d.Title, Locality: d.Locality, Amount: d.Amount}
}

type PreAssignDTO struct {
	CycleID     string `json:"cycle_id" validate:"required,uuid"`
	GrantCallID string `json:"grant_call_id" validate:"required,uuid"`
}

func (d *PreAssignDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *PreAssignDTO) ToInput() services.PreAssignInput {
	return services.PreAssignInput{CycleID: id(d.CycleID), GrantCallID: id(d.GrantCallID)}
}

// ReasonDTO carries the optional free text of release, decommit and reject.
type ReasonDTO struct {
	Reason  string `json:"reason" validate:"max=2000"`
	Comment string `json:"comment" validate:"max=2000"`
}

func (d *ReasonDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

// Text returns whichever of reason or comment was sent.
func (d *ReasonDTO) Text() string {
	if d.Reason != "" {
		return d.Reason
	}
	return d.Comment
}

type ApproveDTO struct {
	ApprovedAmount *decimal.Decimal `json:"approved_amount"`
	Comment        string           `json:"comment" validate:"max=2000"`
}

func (d *ApproveDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *ApproveDTO) ToInput() services.ApproveInput {
	return services.ApproveInput{ApprovedAmount: d.ApprovedAmount, Comment: d.Comment}
}

type ReassignDTO struct {
	CycleID     string `json:"cycle_id" validate:"required,uuid"`
	GrantCallID string `json:"grant_call_id" validate:"required,uuid"`
	State       string `json:"state"`
	Reason      string `json:"reason" validate:"max=2000"`
}

func (d *ReassignDTO) Ok(ctx context.Context) (map[string]string, bool) { return validate(ctx, d) }

func (d *ReassignDTO) ToInput() services.ReassignInput {
	return services.ReassignInput{
		CycleID:     id(d.CycleID),
		GrantCallID: id(d.GrantCallID),
		State:       d.State,
		Reason:      d.Reason,
	}
}
