package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type grantCallService interface {
	Create(ctx context.Context, in services.CreateGrantCallInput) (budget.GrantCall, error)
	List(ctx context.Context) ([]budget.GrantCall, error)
	Get(ctx context.Context, id uuid.UUID) (budget.GrantCall, error)
}

type GrantCallController struct {
	grantCalls grantCallService
	opts       Options
	apiPrefix  string
}

func NewGrantCallController(app application.Application, opts Options) application.Controller {
	return &GrantCallController{
		grantCalls: app.Service(services.GrantCallService{}).(*services.GrantCallService),
		opts:       opts,
		apiPrefix:  "/api/grant-calls",
	}
}

func (c *GrantCallController) Key() string {
	return c.apiPrefix
}

func (c *GrantCallController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("", c.Create).Methods(http.MethodPost)
	api.HandleFunc("", c.List).Methods(http.MethodGet)
	api.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
}

func (c *GrantCallController) Create(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsGrantCallsAuthzObject, "create") {
		return
	}
	var req dtos.CreateGrantCallDTO
	if !decodeBody(w, r, &req) {
		return
	}
	gc, err := c.grantCalls.Create(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gc)
}

func (c *GrantCallController) List(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsGrantCallsAuthzObject, "read") {
		return
	}
	items, err := c.grantCalls.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (c *GrantCallController) Get(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsGrantCallsAuthzObject, "read") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	gc, err := c.grantCalls.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gc)
}
