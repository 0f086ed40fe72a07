package controllers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/authz"
)

type fakeMOUs struct {
	mouService
	created services.CreateMOUInput
}

func (f *fakeMOUs) Create(_ context.Context, in services.CreateMOUInput) (mou.MOU, error) {
	f.created = in
	return mou.MOU{ID: uuid.New(), WorkplanIDs: in.WorkplanIDs, Status: mou.StatusDraft}, nil
}

func (f *fakeMOUs) Sign(_ context.Context, id uuid.UUID) (mou.MOU, error) {
	return mou.MOU{ID: id, Status: mou.StatusSigned}, nil
}

func newMOUClient(t *testing.T, role string, az Authorizer) (*testClient, *fakeMOUs) {
	fake := &fakeMOUs{}
	c := &MOUController{mous: fake, opts: testOptions(az), apiPrefix: "/api/f3"}
	return newTestClient(t, role, c), fake
}

func TestMOUController_Create(t *testing.T) {
	client, fake := newMOUClient(t, "officer", newTestAuthz(t, authz.ModeEnforce))
	wp := uuid.New()

	rr := client.do(http.MethodPost, "/api/f3/mous", map[string]any{
		"workplan_ids": []string{wp.String()}, "partner_name": "LCC",
		"start_date": "2026-03-01", "end_date": "2026-06-30",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, []uuid.UUID{wp}, fake.created.WorkplanIDs)
	require.True(t, fake.created.StartDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"no workplans", map[string]any{"workplan_ids": []string{}, "partner_name": "LCC", "start_date": "2026-03-01", "end_date": "2026-06-30"}, "field.WorkplanIDs"},
		{"bad workplan id", map[string]any{"workplan_ids": []string{"x"}, "partner_name": "LCC", "start_date": "2026-03-01", "end_date": "2026-06-30"}, "field.WorkplanIDs[0]"},
		{"bad date", map[string]any{"workplan_ids": []string{wp.String()}, "partner_name": "LCC", "start_date": "01/03/2026", "end_date": "2026-06-30"}, "field.StartDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := client.do(http.MethodPost, "/api/f3/mous", tt.body)
			env := requireAPIError(t, rr, http.StatusUnprocessableEntity, services.CodeValidationFailed)
			require.Contains(t, env.Meta, tt.field)
		})
	}
}

func TestMOUController_Sign(t *testing.T) {
	az := newTestAuthz(t, authz.ModeEnforce)
	id := uuid.NewString()

	officer, _ := newMOUClient(t, "officer", az)
	rr := officer.do(http.MethodPost, "/api/f3/mous/"+id+":sign", nil)
	requireAPIError(t, rr, http.StatusForbidden, authz.ErrorCodeForbidden)

	approver, _ := newMOUClient(t, "approver", az)
	rr = approver.do(http.MethodPost, "/api/f3/mous/"+id+":sign", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"signed"`)
}
