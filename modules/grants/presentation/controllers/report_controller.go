package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/report"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type reportService interface {
	CreateFinancial(ctx context.Context, in services.CreateFinancialInput) (services.FinancialView, error)
	SubmitFinancial(ctx context.Context, id uuid.UUID) (services.FinancialView, error)
	ApproveFinancial(ctx context.Context, id uuid.UUID) (services.FinancialView, error)
	ListFinancial(ctx context.Context, workplanID *uuid.UUID) (services.FinancialList, error)
	CreateProgram(ctx context.Context, in services.CreateProgramInput) (report.Program, error)
	SubmitProgram(ctx context.Context, id uuid.UUID) (report.Program, error)
	ApproveProgram(ctx context.Context, id uuid.UUID) (report.Program, error)
	ListProgram(ctx context.Context, workplanID *uuid.UUID) ([]report.Program, error)
}

// ReportController serves F4 financial and F5 program reports. Both share
// one route shape under their own prefix.
type ReportController struct {
	reports reportService
	opts    Options
}

func NewReportController(app application.Application, opts Options) application.Controller {
	return &ReportController{
		reports: app.Service(services.ReportService{}).(*services.ReportService),
		opts:    opts,
	}
}

func (c *ReportController) Key() string {
	return "/api/f4-f5"
}

func (c *ReportController) Register(r *mux.Router) {
	f4 := c.opts.subrouter(r, "/api/f4")
	f4.HandleFunc("/reports", c.CreateFinancial).Methods(http.MethodPost)
	f4.HandleFunc("/reports", c.ListFinancial).Methods(http.MethodGet)
	f4.HandleFunc("/reports/{id}:submit", c.SubmitFinancial).Methods(http.MethodPost)
	f4.HandleFunc("/reports/{id}:approve", c.ApproveFinancial).Methods(http.MethodPost)

	f5 := c.opts.subrouter(r, "/api/f5")
	f5.HandleFunc("/reports", c.CreateProgram).Methods(http.MethodPost)
	f5.HandleFunc("/reports", c.ListProgram).Methods(http.MethodGet)
	f5.HandleFunc("/reports/{id}:submit", c.SubmitProgram).Methods(http.MethodPost)
	f5.HandleFunc("/reports/{id}:approve", c.ApproveProgram).Methods(http.MethodPost)
}

func (c *ReportController) CreateFinancial(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, "create") {
		return
	}
	var req dtos.CreateFinancialDTO
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := c.reports.CreateFinancial(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (c *ReportController) SubmitFinancial(w http.ResponseWriter, r *http.Request) {
	c.financialTransition(w, r, "update", c.reports.SubmitFinancial)
}

func (c *ReportController) ApproveFinancial(w http.ResponseWriter, r *http.Request) {
	c.financialTransition(w, r, "approve", c.reports.ApproveFinancial)
}

func (c *ReportController) financialTransition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(context.Context, uuid.UUID) (services.FinancialView, error),
) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, action) {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	v, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (c *ReportController) ListFinancial(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, "read") {
		return
	}
	workplanID, ok := queryUUID(w, r, "workplan_id")
	if !ok {
		return
	}
	list, err := c.reports.ListFinancial(r.Context(), workplanID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (c *ReportController) CreateProgram(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, "create") {
		return
	}
	var req dtos.CreateProgramDTO
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := c.reports.CreateProgram(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (c *ReportController) SubmitProgram(w http.ResponseWriter, r *http.Request) {
	c.programTransition(w, r, "update", c.reports.SubmitProgram)
}

func (c *ReportController) ApproveProgram(w http.ResponseWriter, r *http.Request) {
	c.programTransition(w, r, "approve", c.reports.ApproveProgram)
}

func (c *ReportController) programTransition(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	fn func(context.Context, uuid.UUID) (report.Program, error),
) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, action) {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	p, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *ReportController) ListProgram(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsReportsAuthzObject, "read") {
		return
	}
	workplanID, ok := queryUUID(w, r, "workplan_id")
	if !ok {
		return
	}
	items, err := c.reports.ListProgram(r.Context(), workplanID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
