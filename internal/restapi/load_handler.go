package restapi

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"transitlens.dev/gtfsdb"
	"transitlens.dev/internal/extract"
)

type loadRequest struct {
	Path string `json:"path" validate:"required"`
}

// loadHandler ingests the archive named in the request body and responds
// with the load result. The call blocks for the duration of the load; a
// concurrent load on another connection queues behind it.
func (api *RestAPI) loadHandler(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.badRequestResponse(w, r, errors.New("request body must be JSON"))
		return
	}
	if err := api.validate.Struct(req); err != nil {
		api.badRequestResponse(w, r, errors.New("path is required"))
		return
	}

	result, err := api.FeedManager.Load(r.Context(), req.Path)
	if err != nil {
		api.loadErrorResponse(w, r, err)
		return
	}

	api.sendJSON(w, r, http.StatusOK, result)
}

func (api *RestAPI) loadErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *extract.MalformedArchiveError
	var missingTable *gtfsdb.MissingRequiredTableError
	var missingColumn *gtfsdb.MissingRequiredColumnError

	switch {
	case errors.Is(err, fs.ErrNotExist):
		api.sendError(w, r, http.StatusBadRequest, "archive not found", err)
	case errors.As(err, &malformed):
		api.sendError(w, r, http.StatusUnprocessableEntity, "archive is not a valid feed", err)
	case errors.As(err, &missingTable):
		api.sendError(w, r, http.StatusUnprocessableEntity, missingTable.Error(), nil)
	case errors.As(err, &missingColumn):
		api.sendError(w, r, http.StatusUnprocessableEntity, missingColumn.Error(), nil)
	default:
		api.serverErrorResponse(w, r, err)
	}
}

// loadProgressHandler reports the most recent progress event, or 204 when
// no load has run yet.
func (api *RestAPI) loadProgressHandler(w http.ResponseWriter, r *http.Request) {
	last := api.FeedManager.LastProgress()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	api.sendJSON(w, r, http.StatusOK, last)
}
