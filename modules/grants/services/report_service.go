package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

// ReportService covers F4 financial and F5 program reports. Both require an
// allocated workplan; financial reports may never spend more than the
// workplan amount in total.
type ReportService struct {
	repo      ReportRepository
	workplans WorkplanRepository
	rt        *runtime
}

func NewReportService(repo ReportRepository, workplans WorkplanRepository, opts ...Option) *ReportService {
	return &ReportService{repo: repo, workplans: workplans, rt: newRuntime(opts)}
}

type FinancialLineInput struct {
	Category    string
	Description string
	Amount      decimal.Decimal
}

type CreateFinancialInput struct {
	WorkplanID  uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Lines       []FinancialLineInput
}

type FinancialView struct {
	report.Financial
	Balance decimal.Decimal `json:"balance"`
}

func (s *ReportService) CreateFinancial(ctx context.Context, in CreateFinancialInput) (FinancialView, error) {
	lines := make([]report.Line, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, report.Line{
			Category:    strings.TrimSpace(l.Category),
			Description: strings.TrimSpace(l.Description),
			Amount:      l.Amount,
		})
	}
	now := s.rt.now()
	r := report.Financial{
		ID:          uuid.New(),
		WorkplanID:  in.WorkplanID,
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		Lines:       lines,
		TotalSpent:  report.Total(lines),
		Status:      report.StatusDraft,
		CreatedBy:   composables.UseActor(ctx),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Validate(); err != nil {
		return FinancialView{}, validationError(err)
	}

	return inTx(ctx, s.rt, func(txCtx context.Context) (FinancialView, error) {
		// The workplan row lock serializes concurrent reports of one workplan.
		wp, err := s.lockAllocated(txCtx, in.WorkplanID)
		if err != nil {
			return FinancialView{}, err
		}
		spent, err := s.repo.SpentByWorkplan(txCtx, wp.ID)
		if err != nil {
			return FinancialView{}, err
		}
		cumulative := spent.Add(r.TotalSpent)
		if cumulative.GreaterThan(wp.Amount) {
			recordWriteConflict("overspent")
			return FinancialView{}, newServiceError(http.StatusUnprocessableEntity, CodeReportOverspent,
				fmt.Sprintf("reported spend %s would exceed the workplan amount %s",
					cumulative.StringFixed(2), wp.Amount.StringFixed(2)), nil)
		}
		saved, err := s.repo.CreateFinancial(txCtx, r)
		if err != nil {
			return FinancialView{}, err
		}
		return FinancialView{Financial: saved, Balance: wp.Amount.Sub(cumulative)}, nil
	})
}

func (s *ReportService) SubmitFinancial(ctx context.Context, id uuid.UUID) (FinancialView, error) {
	return s.advanceFinancial(ctx, id, report.StatusSubmitted)
}

func (s *ReportService) ApproveFinancial(ctx context.Context, id uuid.UUID) (FinancialView, error) {
	return s.advanceFinancial(ctx, id, report.StatusApproved)
}

func (s *ReportService) advanceFinancial(ctx context.Context, id uuid.UUID, to report.Status) (FinancialView, error) {
	return inTx(ctx, s.rt, func(txCtx context.Context) (FinancialView, error) {
		r, err := s.repo.LockFinancial(txCtx, id)
		if err != nil {
			return FinancialView{}, orNotFound(err, "financial report")
		}
		if err := report.Advance(r.Status, to); err != nil {
			return FinancialView{}, err
		}
		saved, err := s.repo.SetFinancialStatus(txCtx, id, to)
		if err != nil {
			return FinancialView{}, err
		}
		return s.viewOf(txCtx, saved)
	})
}

func (s *ReportService) viewOf(ctx context.Context, r report.Financial) (FinancialView, error) {
	wp, err := s.workplans.GetWorkplan(ctx, r.WorkplanID)
	if err != nil {
		return FinancialView{}, orNotFound(err, "workplan")
	}
	spent, err := s.repo.SpentByWorkplan(ctx, r.WorkplanID)
	if err != nil {
		return FinancialView{}, err
	}
	return FinancialView{Financial: r, Balance: wp.Amount.Sub(spent)}, nil
}

type FinancialList struct {
	Items   []report.Financial `json:"items"`
	Spent   *decimal.Decimal   `json:"cumulative_spent,omitempty"`
	Balance *decimal.Decimal   `json:"balance,omitempty"`
}

// ListFinancial lists reports. Filtered by workplan, it also returns the
// cumulative spend and remaining balance of that workplan.
func (s *ReportService) ListFinancial(ctx context.Context, workplanID *uuid.UUID) (FinancialList, error) {
	return read(ctx, func(ctx context.Context) (FinancialList, error) {
		items, err := s.repo.ListFinancial(ctx, workplanID)
		if err != nil {
			return FinancialList{}, err
		}
		out := FinancialList{Items: items}
		if workplanID == nil {
			return out, nil
		}
		wp, err := s.workplans.GetWorkplan(ctx, *workplanID)
		if err != nil {
			return FinancialList{}, orNotFound(err, "workplan")
		}
		spent, err := s.repo.SpentByWorkplan(ctx, wp.ID)
		if err != nil {
			return FinancialList{}, err
		}
		balance := wp.Amount.Sub(spent)
		out.Spent, out.Balance = &spent, &balance
		return out, nil
	})
}

type CreateProgramInput struct {
	WorkplanID  uuid.UUID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Individuals int
	Families    int
	Narrative   string
}

func (s *ReportService) CreateProgram(ctx context.Context, in CreateProgramInput) (report.Program, error) {
	now := s.rt.now()
	r := report.Program{
		ID:          uuid.New(),
		WorkplanID:  in.WorkplanID,
		PeriodStart: in.PeriodStart,
		PeriodEnd:   in.PeriodEnd,
		Individuals: in.Individuals,
		Families:    in.Families,
		Narrative:   strings.TrimSpace(in.Narrative),
		Status:      report.StatusDraft,
		CreatedBy:   composables.UseActor(ctx),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Validate(); err != nil {
		return report.Program{}, validationError(err)
	}
	return inTx(ctx, s.rt, func(txCtx context.Context) (report.Program, error) {
		if _, err := s.lockAllocated(txCtx, in.WorkplanID); err != nil {
			return report.Program{}, err
		}
		return s.repo.CreateProgram(txCtx, r)
	})
}

func (s *ReportService) SubmitProgram(ctx context.Context, id uuid.UUID) (report.Program, error) {
	return s.advanceProgram(ctx, id, report.StatusSubmitted)
}

func (s *ReportService) ApproveProgram(ctx context.Context, id uuid.UUID) (report.Program, error) {
	return s.advanceProgram(ctx, id, report.StatusApproved)
}

func (s *ReportService) advanceProgram(ctx context.Context, id uuid.UUID, to report.Status) (report.Program, error) {
	return inTx(ctx, s.rt, func(txCtx context.Context) (report.Program, error) {
		r, err := s.repo.LockProgram(txCtx, id)
		if err != nil {
			return report.Program{}, orNotFound(err, "program report")
		}
		if err := report.Advance(r.Status, to); err != nil {
			return report.Program{}, err
		}
		return s.repo.SetProgramStatus(txCtx, id, to)
	})
}

func (s *ReportService) ListProgram(ctx context.Context, workplanID *uuid.UUID) ([]report.Program, error) {
	return read(ctx, func(ctx context.Context) ([]report.Program, error) {
		return s.repo.ListProgram(ctx, workplanID)
	})
}

func (s *ReportService) lockAllocated(ctx context.Context, id uuid.UUID) (workplan.Workplan, error) {
	wp, err := s.workplans.LockWorkplan(ctx, id)
	if err != nil {
		return workplan.Workplan{}, orNotFound(err, "workplan")
	}
	if wp.FundingStatus != workplan.FundingAllocated {
		return workplan.Workplan{}, newServiceError(http.StatusUnprocessableEntity, CodeWorkplanNotAllocated,
			"reports can only be filed for allocated workplans", nil)
	}
	return wp, nil
}
