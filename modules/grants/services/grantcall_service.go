package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
)

type GrantCallService struct {
	repo            GrantCallRepository
	defaultCurrency string
	rt              *runtime
}

func NewGrantCallService(repo GrantCallRepository, defaultCurrency string, opts ...Option) *GrantCallService {
	currency := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if currency == "" {
		currency = budget.DefaultCurrency
	}
	return &GrantCallService{repo: repo, defaultCurrency: currency, rt: newRuntime(opts)}
}

type CreateGrantCallInput struct {
	Code      string
	Name      string
	Donor     string
	DonorCode string
	Amount    decimal.Decimal
	Currency  string
}

func (s *GrantCallService) Create(ctx context.Context, in CreateGrantCallInput) (budget.GrantCall, error) {
	code, err := budget.NormalizeCode(in.Code)
	if err != nil {
		return budget.GrantCall{}, validationError(err)
	}
	donorCode, err := budget.NormalizeCode(in.DonorCode)
	if err != nil {
		return budget.GrantCall{}, validationError(err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return budget.GrantCall{}, validationError(budget.ErrNameRequired)
	}
	if err := budget.RequirePositive(in.Amount); err != nil {
		return budget.GrantCall{}, validationError(err)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	return inTx(ctx, s.rt, func(txCtx context.Context) (budget.GrantCall, error) {
		return s.repo.CreateGrantCall(txCtx, budget.GrantCall{
			ID:        uuid.New(),
			Code:      code,
			Name:      name,
			Donor:     strings.TrimSpace(in.Donor),
			DonorCode: donorCode,
			Amount:    in.Amount,
			Currency:  currency,
			Status:    budget.GrantCallOpen,
			CreatedAt: s.rt.now(),
		})
	})
}

func (s *GrantCallService) List(ctx context.Context) ([]budget.GrantCall, error) {
	return read(ctx, s.repo.ListGrantCalls)
}

func (s *GrantCallService) Get(ctx context.Context, id uuid.UUID) (budget.GrantCall, error) {
	return read(ctx, func(ctx context.Context) (budget.GrantCall, error) {
		gc, err := s.repo.GetGrantCall(ctx, id)
		return gc, orNotFound(err, "grant call")
	})
}
