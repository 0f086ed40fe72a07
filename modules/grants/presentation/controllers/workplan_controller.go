package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/workplan"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type workplanService interface {
	Create(ctx context.Context, in services.CreateWorkplanInput) (workplan.Workplan, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, in services.UpdateDraftInput) (workplan.Workplan, error)
	Submit(ctx context.Context, id uuid.UUID) (workplan.Workplan, error)
	Get(ctx context.Context, id uuid.UUID) (workplan.Workplan, error)
	List(ctx context.Context, params workplan.FindParams) (services.WorkplanPage, error)
	History(ctx context.Context, id uuid.UUID) (services.WorkplanHistory, error)
	PreAssign(ctx context.Context, id uuid.UUID, in services.PreAssignInput) (workplan.Workplan, error)
	Release(ctx context.Context, id uuid.UUID, reason string) (workplan.Workplan, error)
}

// WorkplanController serves F1: workplan submission and pre-assignment.
type WorkplanController struct {
	workplans workplanService
	opts      Options
	apiPrefix string
}

func NewWorkplanController(app application.Application, opts Options) application.Controller {
	return &WorkplanController{
		workplans: app.Service(services.WorkplanService{}).(*services.WorkplanService),
		opts:      opts,
		apiPrefix: "/api/f1",
	}
}

func (c *WorkplanController) Key() string {
	return c.apiPrefix
}

func (c *WorkplanController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("/workplans", c.Create).Methods(http.MethodPost)
	api.HandleFunc("/workplans", c.List).Methods(http.MethodGet)
	api.HandleFunc("/workplans/{id}", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/workplans/{id}", c.UpdateDraft).Methods(http.MethodPatch)
	api.HandleFunc("/workplans/{id}/history", c.History).Methods(http.MethodGet)
	api.HandleFunc("/workplans/{id}:submit", c.Submit).Methods(http.MethodPost)
	api.HandleFunc("/workplans/{id}:pre-assign", c.PreAssign).Methods(http.MethodPost)
	api.HandleFunc("/workplans/{id}:release", c.Release).Methods(http.MethodPost)
}

func (c *WorkplanController) Create(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "create") {
		return
	}
	var req dtos.CreateWorkplanDTO
	if !decodeBody(w, r, &req) {
		return
	}
	wp, err := c.workplans.Create(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wp)
}

func (c *WorkplanController) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.UpdateDraftDTO
	if !decodeBody(w, r, &req) {
		return
	}
	wp, err := c.workplans.UpdateDraft(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *WorkplanController) Submit(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wp, err := c.workplans.Submit(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *WorkplanController) Get(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "read") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wp, err := c.workplans.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *WorkplanController) List(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "read") {
		return
	}
	params, ok := parseFindParams(w, r)
	if !ok {
		return
	}
	page, err := c.workplans.List(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

var errNotCount = errors.New("must be a non-negative integer")

// parseFindParams reads state, cycle_id, funding_status (repeated or comma
// separated), q, limit and offset.
func parseFindParams(w http.ResponseWriter, r *http.Request) (workplan.FindParams, bool) {
	q := r.URL.Query()
	params := workplan.FindParams{
		State: strings.TrimSpace(q.Get("state")),
		Q:     strings.TrimSpace(q.Get("q")),
	}
	cycleID, ok := queryUUID(w, r, "cycle_id")
	if !ok {
		return params, false
	}
	params.CycleID = cycleID
	for _, raw := range q["funding_status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := workplan.ParseFundingStatus(part)
			if err != nil {
				writeInvalidQuery(w, r, "funding_status", err)
				return params, false
			}
			params.FundingStatus = append(params.FundingStatus, st)
		}
	}
	for name, dst := range map[string]*int{"limit": &params.Limit, "offset": &params.Offset} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeInvalidQuery(w, r, name, errNotCount)
			return params, false
		}
		*dst = n
	}
	return params, true
}

func (c *WorkplanController) History(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "read") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	history, err := c.workplans.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (c *WorkplanController) PreAssign(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "commit") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.PreAssignDTO
	if !decodeBody(w, r, &req) {
		return
	}
	wp, err := c.workplans.PreAssign(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (c *WorkplanController) Release(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsWorkplansAuthzObject, "commit") {
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
	wp, err := c.workplans.Release(r.Context(), id, req.Text())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}
