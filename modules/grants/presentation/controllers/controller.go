package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fsystem/portal/pkg/middleware"
)

// Options is shared by every grants controller.
type Options struct {
	Auth middleware.AuthOptions
	// Authz is nil when authorization is switched off entirely.
	Authz Authorizer
}

// subrouter mounts prefix behind bearer authentication.
func (o Options) subrouter(r *mux.Router, prefix string) *mux.Router {
	api := r.PathPrefix(prefix).Subrouter()
	api.Use(middleware.Authenticate(o.Auth))
	return api
}

func (o Options) authorize(w http.ResponseWriter, r *http.Request, object, action string) bool {
	return ensureGrantsAuthz(w, r, o.Authz, object, action)
}
