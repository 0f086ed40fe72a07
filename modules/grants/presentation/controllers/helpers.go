package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/composables"
	"github.com/fsystem/portal/pkg/httpapi"
	"github.com/fsystem/portal/pkg/intl"
)

const maxBodyBytes = 1 << 20

func requestIDFromRequest(r *http.Request) string {
	if id := composables.UseRequestID(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	_ = httpapi.WriteJSON(w, status, payload)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string, extra map[string]string) {
	meta := httpapi.RequestMeta(requestIDFromRequest(r))
	if len(extra) > 0 {
		if meta == nil {
			meta = make(map[string]string, len(extra))
		}
		for k, v := range extra {
			meta[k] = v
		}
	}
	_ = httpapi.WriteError(w, status, code, message, meta)
}

// writeServiceError renders a *services.ServiceError with its code localized.
// Anything else is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) {
		message := intl.Translate(r.Context(), "Grants.Errors."+svcErr.Code, svcErr.Message, nil)
		var detail map[string]string
		if message != svcErr.Message {
			detail = map[string]string{"detail": svcErr.Message}
		}
		writeAPIError(w, r, svcErr.Status, svcErr.Code, message, detail)
		return
	}
	composables.UseLogger(r.Context()).WithError(err).Error("grants request failed")
	message := intl.Translate(r.Context(), "Grants.Errors."+services.CodeInternal, "internal error", nil)
	writeAPIError(w, r, http.StatusInternalServerError, services.CodeInternal, message, nil)
}

// dto is a request body that validates itself, returning per-field messages.
type dto interface {
	Ok(ctx context.Context) (map[string]string, bool)
}

// decodeBody reads a JSON body into out and validates it. On failure the
// error response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, out dto) bool {
	return decode(w, r, out, false)
}

// decodeOptionalBody is decodeBody for endpoints whose body may be empty.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, out dto) bool {
	return decode(w, r, out, true)
}

func decode(w http.ResponseWriter, r *http.Request, out dto, optional bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil && !(optional && errors.Is(err, io.EOF)) {
		message := intl.Translate(r.Context(), "Grants.Errors."+services.CodeInvalidBody, "invalid json body", nil)
		writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidBody, message, map[string]string{"detail": err.Error()})
		return false
	}
	if fields, ok := out.Ok(r.Context()); !ok {
		message := intl.Translate(r.Context(), "Grants.Errors."+services.CodeValidationFailed, "validation failed", nil)
		writeAPIError(w, r, http.StatusUnprocessableEntity, services.CodeValidationFailed, message, fields)
		return false
	}
	return true
}

func writeInvalidQuery(w http.ResponseWriter, r *http.Request, param string, err error) {
	message := intl.Translate(r.Context(), "Grants.Errors."+services.CodeInvalidQuery, "invalid query parameter", nil)
	writeAPIError(w, r, http.StatusBadRequest, services.CodeInvalidQuery, message, map[string]string{"param": param, "detail": err.Error()})
}

// pathUUID parses a route variable. A malformed id is reported as not found.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		message := intl.Translate(r.Context(), "Grants.Errors."+services.CodeNotFound, "not found", nil)
		writeAPIError(w, r, http.StatusNotFound, services.CodeNotFound, message, nil)
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional uuid query parameter.
func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeInvalidQuery(w, r, name, err)
		return nil, false
	}
	return &id, true
}
