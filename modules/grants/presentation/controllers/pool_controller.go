package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/pool"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type poolService interface {
	Summary(ctx context.Context, cycleID *uuid.UUID) (pool.Report, error)
	Export(ctx context.Context, cycleID *uuid.UUID) ([]byte, error)
	PreviewSerial(ctx context.Context, grantCallID, cycleID uuid.UUID, state string) (services.SerialPreview, error)
}

type PoolController struct {
	pool      poolService
	opts      Options
	apiPrefix string
}

func NewPoolController(app application.Application, opts Options) application.Controller {
	return &PoolController{
		pool:      app.Service(services.PoolService{}).(*services.PoolService),
		opts:      opts,
		apiPrefix: "/api/pool",
	}
}

func (c *PoolController) Key() string {
	return c.apiPrefix
}

func (c *PoolController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("/summary", c.Summary).Methods(http.MethodGet)
	api.HandleFunc("/export.xlsx", c.Export).Methods(http.MethodGet)
	api.HandleFunc("/serial-preview", c.SerialPreview).Methods(http.MethodGet)
}

func (c *PoolController) Summary(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsPoolAuthzObject, "read") {
		return
	}
	cycleID, ok := queryUUID(w, r, "cycle_id")
	if !ok {
		return
	}
	report, err := c.pool.Summary(r.Context(), cycleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *PoolController) Export(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsPoolAuthzObject, "export") {
		return
	}
	cycleID, ok := queryUUID(w, r, "cycle_id")
	if !ok {
		return
	}
	data, err := c.pool.Export(r.Context(), cycleID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	name := "pool-open.xlsx"
	if cycleID != nil {
		name = fmt.Sprintf("pool-%s.xlsx", cycleID)
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SerialPreview shows the serials the next pre-assignment into
// (grant_call_id, cycle_id, state) would receive.
func (c *PoolController) SerialPreview(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsPoolAuthzObject, "read") {
		return
	}
	q := r.URL.Query()
	ids := make(map[string]uuid.UUID, 2)
	for _, name := range []string{"grant_call_id", "cycle_id"} {
		id, ok := queryUUID(w, r, name)
		if !ok {
			return
		}
		if id == nil {
			writeInvalidQuery(w, r, name, errors.New("required"))
			return
		}
		ids[name] = *id
	}
	state := strings.TrimSpace(q.Get("state"))
	if state == "" {
		writeInvalidQuery(w, r, "state", errors.New("required"))
		return
	}
	preview, err := c.pool.PreviewSerial(r.Context(), ids["grant_call_id"], ids["cycle_id"], state)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
