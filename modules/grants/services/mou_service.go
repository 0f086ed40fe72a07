package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/pkg/composables"
)

// MOUService covers F3. Signing an MOU moves its workplans from committed to
// allocated.
type MOUService struct {
	repo      MOURepository
	workplans WorkplanRepository
	ledger    *fundingLedger
	rt        *runtime
}

func NewMOUService(repo MOURepository, workplans WorkplanRepository, opts ...Option) *MOUService {
	rt := newRuntime(opts)
	return &MOUService{
		repo:      repo,
		workplans: workplans,
		ledger:    &fundingLedger{workplans: workplans, rt: rt},
		rt:        rt,
	}
}

type CreateMOUInput struct {
	WorkplanIDs []uuid.UUID
	PartnerName string
	StartDate   time.Time
	EndDate     time.Time
}

func (s *MOUService) Create(ctx context.Context, in CreateMOUInput) (mou.MOU, error) {
	draft := mou.MOU{
		ID:          uuid.New(),
		WorkplanIDs: in.WorkplanIDs,
		PartnerName: strings.TrimSpace(in.PartnerName),
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Status:      mou.StatusDraft,
		CreatedBy:   composables.UseActor(ctx),
		CreatedAt:   s.rt.now(),
	}
	if err := draft.Validate(); err != nil {
		return mou.MOU{}, validationError(err)
	}

	return inTx(ctx, s.rt, func(txCtx context.Context) (mou.MOU, error) {
		wps, err := s.workplans.LockWorkplans(txCtx, in.WorkplanIDs)
		if err != nil {
			return mou.MOU{}, err
		}
		if len(wps) != len(in.WorkplanIDs) {
			return mou.MOU{}, notFound("workplan")
		}

		total := decimal.Zero
		serials := make([]string, 0, len(wps))
		for _, wp := range wps {
			if wp.FundingStatus != workplan.FundingCommitted {
				return mou.MOU{}, invalidTransition(fmt.Errorf("workplan %s is %s, only committed workplans can enter an mou", wp.ID, wp.FundingStatus))
			}
			if wp.ERRCode != wps[0].ERRCode {
				return mou.MOU{}, newServiceError(http.StatusUnprocessableEntity, CodeMOUMixedERR,
					"all workplans of an mou must belong to the same emergency room", nil)
			}
			if !wp.HasSerial() {
				return mou.MOU{}, validationError(mou.ErrMissingSerial)
			}
			serials = append(serials, *wp.Serial)
			total = total.Add(wp.Amount)
		}

		bound, err := s.repo.WorkplansInMOU(txCtx, in.WorkplanIDs)
		if err != nil {
			return mou.MOU{}, err
		}
		if len(bound) > 0 {
			recordWriteConflict("mou")
			return mou.MOU{}, newServiceError(http.StatusConflict, CodeMOUConflict,
				fmt.Sprintf("workplan %s is already part of an mou", bound[0]), nil)
		}

		code, err := mou.Code(serials)
		if err != nil {
			return mou.MOU{}, err
		}
		draft.Code = code
		draft.ERRCode = wps[0].ERRCode
		draft.TotalAmount = total
		return s.repo.CreateMOU(txCtx, draft)
	})
}

// Sign marks the MOU signed and allocates each of its workplans.
func (s *MOUService) Sign(ctx context.Context, id uuid.UUID) (mou.MOU, error) {
	var cycles []uuid.UUID
	out, err := inTx(ctx, s.rt, func(txCtx context.Context) (mou.MOU, error) {
		m, err := s.repo.LockMOU(txCtx, id)
		if err != nil {
			return mou.MOU{}, orNotFound(err, "mou")
		}
		if m.Status != mou.StatusDraft {
			return mou.MOU{}, invalidTransition(mou.ErrAlreadySigned)
		}
		wps, err := s.workplans.LockWorkplans(txCtx, m.WorkplanIDs)
		if err != nil {
			return mou.MOU{}, err
		}
		if len(wps) != len(m.WorkplanIDs) {
			return mou.MOU{}, notFound("workplan")
		}
		for _, wp := range wps {
			next, err := workplan.Next(wp.FundingStatus, workplan.TransitionAllocate)
			if err != nil {
				return mou.MOU{}, err
			}
			after := wp
			after.FundingStatus = next
			if _, err := s.ledger.record(txCtx, wp, after, workplan.TransitionAllocate, m.Code); err != nil {
				return mou.MOU{}, err
			}
			if wp.CycleID != nil {
				cycles = append(cycles, *wp.CycleID)
			}
		}
		return s.repo.MarkMOUSigned(txCtx, id, s.rt.now())
	})
	if err != nil {
		return mou.MOU{}, err
	}
	for range out.WorkplanIDs {
		recordTransition(string(workplan.TransitionAllocate))
	}
	s.rt.invalidate(ctx, "allocate", uniqueSortedIDs(cycles)...)
	return out, nil
}

func (s *MOUService) Get(ctx context.Context, id uuid.UUID) (mou.MOU, error) {
	return read(ctx, func(ctx context.Context) (mou.MOU, error) {
		m, err := s.repo.GetMOU(ctx, id)
		return m, orNotFound(err, "mou")
	})
}

func (s *MOUService) List(ctx context.Context) ([]mou.MOU, error) {
	return read(ctx, s.repo.ListMOUs)
}
