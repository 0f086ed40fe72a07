package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/domain/mou"
	"github.com/fsystem/portal/modules/grants/presentation/controllers/dtos"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
)

type mouService interface {
	Create(ctx context.Context, in services.CreateMOUInput) (mou.MOU, error)
	Sign(ctx context.Context, id uuid.UUID) (mou.MOU, error)
	Get(ctx context.Context, id uuid.UUID) (mou.MOU, error)
	List(ctx context.Context) ([]mou.MOU, error)
}

// MOUController serves F3.
type MOUController struct {
	mous      mouService
	opts      Options
	apiPrefix string
}

func NewMOUController(app application.Application, opts Options) application.Controller {
	return &MOUController{
		mous:      app.Service(services.MOUService{}).(*services.MOUService),
		opts:      opts,
		apiPrefix: "/api/f3",
	}
}

func (c *MOUController) Key() string {
	return c.apiPrefix
}

func (c *MOUController) Register(r *mux.Router) {
	api := c.opts.subrouter(r, c.apiPrefix)

	api.HandleFunc("/mous", c.Create).Methods(http.MethodPost)
	api.HandleFunc("/mous", c.List).Methods(http.MethodGet)
	api.HandleFunc("/mous/{id}", c.Get).Methods(http.MethodGet)
	api.HandleFunc("/mous/{id}:sign", c.Sign).Methods(http.MethodPost)
}

func (c *MOUController) Create(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsMOUsAuthzObject, "create") {
		return
	}
	var req dtos.CreateMOUDTO
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := c.mous.Create(r.Context(), req.ToInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (c *MOUController) Sign(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsMOUsAuthzObject, "sign") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	m, err := c.mous.Sign(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *MOUController) Get(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsMOUsAuthzObject, "read") {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	m, err := c.mous.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (c *MOUController) List(w http.ResponseWriter, r *http.Request) {
	if !c.opts.authorize(w, r, grantsMOUsAuthzObject, "read") {
		return
	}
	items, err := c.mous.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
