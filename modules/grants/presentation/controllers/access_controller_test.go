package controllers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fsystem/portal/pkg/authz"
)

func TestAccessController_Capabilities(t *testing.T) {
	az := newTestAuthz(t, authz.ModeEnforce)
	client := newTestClient(t, "viewer", NewAccessController(nil, testOptions(az)))

	rr := client.do(http.MethodGet, "/api/me/capabilities", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got capabilitiesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "u-1", got.UserID)
	require.Equal(t, authz.ModeEnforce, got.Mode)
	require.Len(t, got.Capabilities, len(grantsPermissions))
	require.True(t, got.Capabilities["grants.cycles:read"])
	require.True(t, got.Capabilities["grants.pool:read"])
	require.False(t, got.Capabilities["grants.cycles:create"])
	require.False(t, got.Capabilities["grants.approvals:approve"])
}

func TestAccessController_CapabilitiesWithoutAuthz(t *testing.T) {
	client := newTestClient(t, "viewer", NewAccessController(nil, testOptions(nil)))

	rr := client.do(http.MethodGet, "/api/me/capabilities", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got capabilitiesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, authz.ModeDisabled, got.Mode)
	for perm, allowed := range got.Capabilities {
		require.True(t, allowed, perm)
	}
}

func TestAccessController_Inspect(t *testing.T) {
	az := newTestAuthz(t, authz.ModeEnforce)

	viewer := newTestClient(t, "viewer", NewAccessController(nil, testOptions(az)))
	rr := viewer.do(http.MethodPost, "/api/authz/inspect", map[string]any{"object": "grants.cycles", "action": "read"})
	requireAPIError(t, rr, http.StatusForbidden, authz.ErrorCodeForbidden)

	admin := newTestClient(t, "admin", NewAccessController(nil, testOptions(az)))
	tests := []struct {
		name    string
		body    map[string]any
		allowed bool
		role    string
	}{
		{"caller", map[string]any{"object": "grants.cycles", "action": "admin"}, true, "role:admin"},
		{"other role", map[string]any{"role": "viewer", "object": "grants.cycles", "action": "create"}, false, "role:viewer"},
		{"finance commit", map[string]any{"subject": "user:u-7", "role": "finance", "object": "grants.workplans", "action": "commit"}, true, "role:finance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := admin.do(http.MethodPost, "/api/authz/inspect", tt.body)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			var got authz.Inspection
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			require.Equal(t, tt.allowed, got.Allowed)
			require.Equal(t, tt.role, got.Request.Role)
		})
	}

	rr = admin.do(http.MethodPost, "/api/authz/inspect", map[string]any{"object": "grants.cycles"})
	requireAPIError(t, rr, http.StatusUnprocessableEntity, "GRANTS_VALIDATION_FAILED")
}
