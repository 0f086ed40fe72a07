package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/authz"
)

type fakeGrantCalls struct {
	grantCallService
	created []services.CreateGrantCallInput
}

func (f *fakeGrantCalls) Create(_ context.Context, in services.CreateGrantCallInput) (budget.GrantCall, error) {
	f.created = append(f.created, in)
	return budget.GrantCall{ID: uuid.New(), Code: in.Code, Amount: in.Amount, Currency: "USD"}, nil
}

func (f *fakeGrantCalls) Get(context.Context, uuid.UUID) (budget.GrantCall, error) {
	return budget.GrantCall{}, &services.ServiceError{Status: http.StatusNotFound, Code: services.CodeNotFound, Message: "grant call not found"}
}

func newGrantCallClient(t *testing.T, role string, az Authorizer) (*testClient, *fakeGrantCalls) {
	fake := &fakeGrantCalls{}
	c := &GrantCallController{grantCalls: fake, opts: testOptions(az), apiPrefix: "/api/grant-calls"}
	return newTestClient(t, role, c), fake
}

func TestGrantCallController_Create(t *testing.T) {
	az := newTestAuthz(t, authz.ModeEnforce)
	client, fake := newGrantCallClient(t, "finance", az)

	rr := client.do(http.MethodPost, "/api/grant-calls", map[string]any{
		"code": "LCC26", "name": "Local coordination", "donor": "Donor", "donor_code": "LCC", "amount": "250000",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var got budget.GrantCall
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.True(t, got.Amount.Equal(decimal.NewFromInt(250000)))
	require.Len(t, fake.created, 1)

	tests := []struct {
		name string
		body map[string]any
		key  string
	}{
		{"missing amount", map[string]any{"code": "A1", "name": "n", "donor": "d", "donor_code": "LCC"}, "field.Amount"},
		{"bad currency", map[string]any{"code": "A1", "name": "n", "donor": "d", "donor_code": "LCC", "amount": 1, "currency": "US"}, "field.Currency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := client.do(http.MethodPost, "/api/grant-calls", tt.body)
			env := requireAPIError(t, rr, http.StatusUnprocessableEntity, services.CodeValidationFailed)
			require.Contains(t, env.Meta, tt.key)
		})
	}

	viewer, _ := newGrantCallClient(t, "viewer", az)
	rr = viewer.do(http.MethodPost, "/api/grant-calls", map[string]any{
		"code": "LCC26", "name": "n", "donor": "d", "donor_code": "LCC", "amount": 1,
	})
	requireAPIError(t, rr, http.StatusForbidden, authz.ErrorCodeForbidden)
	require.Len(t, fake.created, 1)
}

func TestGrantCallController_GetNotFound(t *testing.T) {
	client, _ := newGrantCallClient(t, "viewer", newTestAuthz(t, authz.ModeEnforce))

	rr := client.do(http.MethodGet, "/api/grant-calls/"+uuid.NewString(), nil)
	requireAPIError(t, rr, http.StatusNotFound, services.CodeNotFound)
}
