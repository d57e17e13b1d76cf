package restapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"transitlens.dev/gtfsdb"
	"transitlens.dev/internal/logging"
)

type errorResponse struct {
	Code int    `json:"code"`
	Text string `json:"text"`
	// Detail carries the underlying error in development only.
	Detail string `json:"detail,omitempty"`
}

func (api *RestAPI) sendJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response",
			"path", r.URL.Path, "error", err)
	}
}

func (api *RestAPI) sendError(w http.ResponseWriter, r *http.Request, status int, text string, cause error) {
	resp := errorResponse{Code: status, Text: text}
	if cause != nil && api.IsDevelopment() {
		resp.Detail = cause.Error()
	}
	api.sendJSON(w, r, status, resp)
}

func (api *RestAPI) notFoundResponse(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusNotFound, "resource not found", nil)
}

func (api *RestAPI) methodNotAllowedResponse(w http.ResponseWriter, r *http.Request) {
	api.sendError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
}

func (api *RestAPI) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	api.sendError(w, r, http.StatusBadRequest, err.Error(), nil)
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	api.sendError(w, r, http.StatusInternalServerError, "internal server error", err)
}

// storeErrorResponse maps store errors onto the boundary's status codes:
// no feed loaded is 409, a bad date parameter is 400, a request that ran
// past its deadline is 504, and everything else is a plain 500.
func (api *RestAPI) storeErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var invalidDate *gtfsdb.InvalidDateError
	var timeout *gtfsdb.QueryTimeoutError

	switch {
	case errors.Is(err, gtfsdb.ErrStoreUnavailable):
		api.sendError(w, r, http.StatusConflict, "no transit feed loaded", nil)
	case errors.As(err, &invalidDate):
		api.sendError(w, r, http.StatusBadRequest, invalidDate.Error(), nil)
	case errors.As(err, &timeout):
		api.sendError(w, r, http.StatusGatewayTimeout, "query timed out", err)
	default:
		api.serverErrorResponse(w, r, err)
	}
}
