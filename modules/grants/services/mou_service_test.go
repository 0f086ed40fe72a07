package services

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/domain/workplan"
)

func mouInput(ids ...uuid.UUID) CreateMOUInput {
	return CreateMOUInput{
		WorkplanIDs: ids,
		PartnerName: " Local Partner ",
		StartDate:   time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, time.July, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestMOUService_CreateAndSign(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	a := f.committed(t, b, "E1", "Khartoum", "100")
	c := f.committed(t, b, "E1", "Khartoum", "50")

	m, err := f.mous.Create(ctx, mouInput(c.ID, a.ID))
	require.NoError(t, err)
	require.Equal(t, "MOU-"+*a.Serial, m.Code, "code follows the lowest serial")
	require.Equal(t, "E1", m.ERRCode)
	require.Equal(t, "Local Partner", m.PartnerName)
	require.True(t, m.TotalAmount.Equal(dec("150")))
	require.Equal(t, mou.StatusDraft, m.Status)

	signed, err := f.mous.Sign(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, mou.StatusSigned, signed.Status)
	require.NotNil(t, signed.SignedAt)

	for _, id := range []uuid.UUID{a.ID, c.ID} {
		require.Equal(t, workplan.FundingAllocated, f.store.getWorkplan(id).FundingStatus)
	}
	// Allocated money still counts as committed.
	totals, err := f.store.Usage(ctx, UsageScope{CycleID: b.cycle.ID})
	require.NoError(t, err)
	require.True(t, totals.Committed.Equal(dec("150")))

	_, err = f.mous.Sign(ctx, m.ID)
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	_, err = f.approvals.Decommit(ctx, a.ID, "")
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)

	got, err := f.mous.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Code, got.Code)
	list, err := f.mous.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMOUService_CreateRejections(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	e1 := f.committed(t, b, "E1", "Khartoum", "10")
	e2 := f.committed(t, b, "E2", "Khartoum", "10")
	pending := f.pending(t, b, "E1", "Khartoum", "10")

	bound := f.committed(t, b, "E3", "Darfur", "10")
	_, err := f.mous.Create(ctx, mouInput(bound.ID))
	require.NoError(t, err)

	reversed := mouInput(e1.ID)
	reversed.EndDate = reversed.StartDate.AddDate(0, 0, -1)
	noPartner := mouInput(e1.ID)
	noPartner.PartnerName = ""

	tests := []struct {
		name   string
		in     CreateMOUInput
		status int
		code   string
	}{
		{"no workplans", mouInput(), http.StatusUnprocessableEntity, CodeValidationFailed},
		{"duplicate workplan", mouInput(e1.ID, e1.ID), http.StatusUnprocessableEntity, CodeValidationFailed},
		{"missing partner", noPartner, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"end before start", reversed, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"unknown workplan", mouInput(e1.ID, uuid.New()), http.StatusNotFound, CodeNotFound},
		{"not committed", mouInput(pending.ID), http.StatusConflict, CodeInvalidTransition},
		{"mixed emergency rooms", mouInput(e1.ID, e2.ID), http.StatusUnprocessableEntity, CodeMOUMixedERR},
		{"already in an mou", mouInput(bound.ID), http.StatusConflict, CodeMOUConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mous.Create(ctx, tt.in)
			requireCode(t, err, tt.status, tt.code)
		})
	}

	_, err = f.mous.Sign(ctx, uuid.New())
	requireCode(t, err, http.StatusNotFound, CodeNotFound)
}

func TestMOUService_SignRollsBackWhenAWorkplanMoved(t *testing.T) {
	f := newFixture(t)
	b := f.seedBudget(t)
	ctx := testCtx()

	a := f.committed(t, b, "E1", "Khartoum", "10")
	c := f.committed(t, b, "E1", "Khartoum", "10")
	m, err := f.mous.Create(ctx, mouInput(a.ID, c.ID))
	require.NoError(t, err)

	_, err = f.approvals.Decommit(ctx, c.ID, "changed plan")
	require.NoError(t, err)

	_, err = f.mous.Sign(ctx, m.ID)
	requireCode(t, err, http.StatusConflict, CodeInvalidTransition)
	require.Equal(t, workplan.FundingCommitted, f.store.getWorkplan(a.ID).FundingStatus)

	got, err := f.mous.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, mou.StatusDraft, got.Status)
}
