package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type approvalService interface {
	Approve(ctx context.Context, id uuid.UUID, in services.ApproveInput) (services.ApprovalResult, error)
	Reject(ctx context.Context, id uuid.UUID, comment string) (services.ApprovalResult, error)
	Decommit(ctx context.Context, id uuid.UUID, reason string) (workplan.Workplan, error)
	Reassign(ctx context.Context, id uuid.UUID, in services.ReassignInput) (workplan.Workplan, error)
	ListCommitted(ctx context.Context, cycleID *uuid.UUID) ([]workplan.Workplan, error)
}

// ApprovalController serves F2: approval, rejection and moving committed money.
type ApprovalController struct {
	approvals approvalService
	opts      Options
	apiPrefix string
}

func NewApprovalController(app application.Application, opts Options) application.Controller {
	return &ApprovalController{
		approvals: app.Service(services.ApprovalService{}).(*services.ApprovalService),
		opts:      opts,
		apiPrefix: "/api/f2",
	}
}

func (c *ApprovalController) Key() string {
	return c.apiPrefix
}

func (c *ApprovalController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("/workplans/{id}:approve", c.Approve).Methods(http.MethodPost)
	api.HandleFunc("/workplans/{id}:reject", c.Reject).Methods(http.MethodPost)
	api.HandleFunc("/workplans/{id}:decommit", c.Decommit).Methods(http.MethodPost)
	api.HandleFunc("/workplans/{id}:reassign", c.Reassign).Methods(http.MethodPost)
	api.HandleFunc("/committed", c.ListCommitted).Methods(http.MethodGet)
}

func (c *ApprovalController) Approve(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsApprovalsAuthzObject, "approve") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.ApproveDTO
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := c.approvals.Approve(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *ApprovalController) Reject(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsApprovalsAuthzObject, "approve") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.ReasonDTO
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := c.approvals.Reject(r.Context(), id, req.Text())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c *ApprovalController) Decommit(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "decommit") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.ReasonDTO
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	wp, err := c.approvals.Decommit(r.Context(), id, req.Text())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *ApprovalController) Reassign(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "reassign") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.ReassignDTO
	if !decodeBody(w, r, &req) {
		return
	}
	wp, err := c.approvals.Reassign(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *ApprovalController) ListCommitted(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsApprovalsAuthzObject, "read") {
		return
	}
	cycleID, ok := queryUUID(w, r, "cycle_id")
	if !ok {
		return
	}
	items, err := c.approvals.ListCommitted(r.Context(), cycleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
