package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/composables"
)

type accessService interface {
	Authorizer
	Capabilities(ctx context.Context, subject, role string, permissions []string) (map[string]bool, error)
	Inspect(ctx context.Context, req authz.Request) (authz.Inspection, error)
}

// AccessController tells the portal what the caller may do.
type AccessController struct {
	access accessService // nil when authorization is off
	opts   Options
}

func NewAccessController(_ application.Application, opts Options) application.Controller {
	c := &AccessController{opts: opts}
	if svc, ok := opts.Authz.(accessService); ok {
		c.access = svc
	}
	return c
}

func (c *AccessController) Key() string {
	return "/api/access"
}

func (c *AccessController) Register(r *mux.Router) {
	me := c.opts.subrouter(r, "/api/me")
	me.HandleFunc("/capabilities", c.Capabilities).Methods(http.MethodGet)

	admin := c.opts.subrouter(r, "/api/authz")
	admin.HandleFunc("/inspect", c.Inspect).Methods(http.MethodPost)
}

type capabilitiesResponse struct {
	UserID       string          `json:"user_id"`
	Email        string          `json:"email,omitempty"`
	Roles        []string        `json:"roles"`
	Mode         authz.Mode      `json:"mode"`
	Capabilities map[string]bool `json:"capabilities"`
}

func (c *AccessController) Capabilities(w http.ResponseWriter, r *http.Request) {
	u, err := composables.UseUser(r.Context())
	if err != nil {
		writeForbidden(w, r, authzRequest(nil, grantsAccessAuthzObject, "read"))
		return
	}
	resp := capabilitiesResponse{
		UserID: u.ID,
		Email:  u.Email,
		Roles:  append([]string{}, u.Roles...),
		Mode:   authz.ModeDisabled,
	}
	if c.access == nil || c.access.Mode() == authz.ModeDisabled {
		resp.Capabilities = make(map[string]bool, len(grantsPermissions))
		for _, p := range grantsPermissions {
			resp.Capabilities[p] = true
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	req := authzRequest(u, "", "")
	caps, err := c.access.Capabilities(r.Context(), req.Subject, req.Role, grantsPermissions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	resp.Mode = c.access.Mode()
	resp.Capabilities = caps
	writeJSON(w, http.StatusOK, resp)
}

// Inspect explains a decision for an arbitrary subject. Subject and role
// default to the caller's.
func (c *AccessController) Inspect(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsAccessAuthzObject, "admin") {
		return
	}
	var req dtos.InspectDTO
	if !decodeBody(w, r, &req) {
		return
	}
	if c.access == nil {
		writeJSON(w, http.StatusOK, authz.Inspection{Allowed: true, Mode: authz.ModeDisabled})
		return
	}
	u, _ := composables.UseUser(r.Context())
	q := authzRequest(u, strings.TrimSpace(req.Object), req.Action)
	if s := strings.TrimSpace(req.Subject); s != "" {
		q.Subject = authz.SubjectForUser(strings.TrimPrefix(s, "user:"))
	}
	if role := strings.TrimSpace(req.Role); role != "" {
		q.Role = authz.SubjectForRole(role)
	}
	res, err := c.access.Inspect(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
