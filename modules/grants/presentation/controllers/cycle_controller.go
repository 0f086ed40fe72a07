package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/fsystem/portal/modules/grants/domain/budget"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type cycleService interface {
	Create(ctx context.Context, in services.CreateCycleInput) (budget.Cycle, error)
	List(ctx context.Context) ([]budget.Cycle, error)
	Get(ctx context.Context, id uuid.UUID) (services.CycleDetail, error)
	Close(ctx context.Context, id uuid.UUID) (budget.Cycle, error)
	UpsertInclusion(ctx context.Context, cycleID uuid.UUID, in services.UpsertInclusionInput) (budget.Inclusion, error)
	AddTranche(ctx context.Context, cycleID uuid.UUID, amount decimal.Decimal) (budget.Tranche, error)
	ReleaseTranche(ctx context.Context, cycleID uuid.UUID, number int) (budget.Tranche, error)
	UpsertAllocations(ctx context.Context, cycleID uuid.UUID, in []services.AllocationInput) ([]budget.StateAllocation, error)
	RecordHistorical(ctx context.Context, cycleID uuid.UUID, in services.HistoricalInput) (budget.HistoricalEntry, error)
}

type CycleController struct {
	cycles    cycleService
	opts      Options
	apiPrefix string
}

func NewCycleController(app application.Application, opts Options) application.Controller {
	return &CycleController{
		cycles:    app.Service(services.CycleService{}).(*services.CycleService),
		opts:      opts,
		apiPrefix: "/api/cycles",
	}
}

func (c *CycleController) Key() string {
	return c.apiPrefix
}

func (c *CycleController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("", c.Create).Methods(http.MethodPost)
	api.HandleFunc("", c.List).Methods(http.MethodGet)
	api.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/{id}:close", c.CloseCycle).Methods(http.MethodPost)
	api.HandleFunc("/{id}/inclusions", c.UpsertInclusion).Methods(http.MethodPut)
	api.HandleFunc("/{id}/tranches", c.AddTranche).Methods(http.MethodPost)
	api.HandleFunc("/{id}/tranches/{n}:release", c.ReleaseTranche).Methods(http.MethodPost)
	api.HandleFunc("/{id}/allocations", c.UpsertAllocations).Methods(http.MethodPut)
	api.HandleFunc("/{id}/historical", c.RecordHistorical).Methods(http.MethodPost)
}

func (c *CycleController) Create(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "create") {
		return
	}
	var req dtos.CreateCycleDTO
	if !decodeBody(w, r, &req) {
		return
	}
	cycle, err := c.cycles.Create(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cycle)
}

func (c *CycleController) List(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "read") {
		return
	}
	items, err := c.cycles.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (c *CycleController) Get(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "read") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	detail, err := c.cycles.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (c *CycleController) CloseCycle(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "admin") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	cycle, err := c.cycles.Close(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (c *CycleController) UpsertInclusion(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.UpsertInclusionDTO
	if !decodeBody(w, r, &req) {
		return
	}
	inc, err := c.cycles.UpsertInclusion(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (c *CycleController) AddTranche(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.AddTrancheDTO
	if !decodeBody(w, r, &req) {
		return
	}
	tranche, err := c.cycles.AddTranche(r.Context(), id, *req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tranche)
}

func (c *CycleController) ReleaseTranche(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil || n <= 0 {
		writeServiceError(w, r, &services.ServiceError{Status: http.StatusNotFound, Code: services.CodeNotFound, Message: "tranche not found"})
		return
	}
	tranche, err := c.cycles.ReleaseTranche(r.Context(), id, n)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tranche)
}

func (c *CycleController) UpsertAllocations(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.UpsertAllocationsDTO
	if !decodeBody(w, r, &req) {
		return
	}
	items, err := c.cycles.UpsertAllocations(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (c *CycleController) RecordHistorical(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsCyclesAuthzObject, "update") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req dtos.HistoricalDTO
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := c.cycles.RecordHistorical(r.Context(), id, req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
