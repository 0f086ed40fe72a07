package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/composables"
	"github.com/fsystem/portal/pkg/intl"
)

var (
	grantsCyclesAuthzObject     = authz.ObjectName("grants", "cycles")
	grantsGrantCallsAuthzObject = authz.ObjectName("grants", "grant_calls")
	grantsPoolAuthzObject       = authz.ObjectName("grants", "pool")
	grantsWorkplansAuthzObject  = authz.ObjectName("grants", "workplans")
	grantsApprovalsAuthzObject  = authz.ObjectName("grants", "approvals")
	grantsMOUsAuthzObject       = authz.ObjectName("grants", "mous")
	grantsReportsAuthzObject    = authz.ObjectName("grants", "reports")
	grantsAccessAuthzObject     = authz.ObjectName("grants", "access")
)

// grantsPermissions lists every object:action pair an endpoint checks. The
// capabilities endpoint evaluates all of them for the caller.
var grantsPermissions = []string{
	grantsCyclesAuthzObject + ":read",
	grantsCyclesAuthzObject + ":create",
	grantsCyclesAuthzObject + ":update",
	grantsCyclesAuthzObject + ":admin",
	grantsGrantCallsAuthzObject + ":read",
	grantsGrantCallsAuthzObject + ":create",
	grantsPoolAuthzObject + ":read",
	grantsPoolAuthzObject + ":export",
	grantsWorkplansAuthzObject + ":read",
	grantsWorkplansAuthzObject + ":create",
	grantsWorkplansAuthzObject + ":update",
	grantsWorkplansAuthzObject + ":commit",
	grantsWorkplansAuthzObject + ":decommit",
	grantsWorkplansAuthzObject + ":reassign",
	grantsApprovalsAuthzObject + ":read",
	grantsApprovalsAuthzObject + ":approve",
	grantsMOUsAuthzObject + ":read",
	grantsMOUsAuthzObject + ":create",
	grantsMOUsAuthzObject + ":sign",
	grantsReportsAuthzObject + ":read",
	grantsReportsAuthzObject + ":create",
	grantsReportsAuthzObject + ":update",
	grantsReportsAuthzObject + ":approve",
	grantsAccessAuthzObject + ":admin",
}

// Authorizer is the part of *authz.Service the controllers need.
type Authorizer interface {
	Mode() authz.Mode
	Authorize(ctx context.Context, req authz.Request) error
	Check(ctx context.Context, req authz.Request) (bool, error)
}

// authzRequest builds the request for the current user. The first role of
// the token is the acting role; extra roles come from the overrides file.
func authzRequest(u *composables.User, object, action string) authz.Request {
	var subject, role string
	if u != nil {
		subject = authz.SubjectForUser(u.ID)
		if len(u.Roles) > 0 {
			role = authz.SubjectForRole(u.Roles[0])
		}
	} else {
		subject = authz.SubjectForUser("")
	}
	return authz.NewRequest(subject, role, object, action)
}

func ensureGrantsAuthz(w http.ResponseWriter, r *http.Request, az Authorizer, object, action string) bool {
	if az == nil || az.Mode() == authz.ModeDisabled {
		return true
	}
	u, _ := composables.UseUser(r.Context())
	req := authzRequest(u, object, action)
	if err := az.Authorize(r.Context(), req); err != nil {
		var fe *authz.ForbiddenError
		if errors.As(err, &fe) {
			writeForbidden(w, r, fe.Request)
			return false
		}
		writeServiceError(w, r, err)
		return false
	}
	return true
}

func writeForbidden(w http.ResponseWriter, r *http.Request, req authz.Request) {
	message := intl.Translate(r.Context(), "Grants.Errors."+authz.ErrorCodeForbidden, "permission denied", nil)
	writeAPIError(w, r, http.StatusForbidden, authz.ErrorCodeForbidden, message, map[string]string{
		"subject": req.Subject,
		"object":  req.Object,
		"action":  req.Action,
	})
}
