package restapi

import (
	"net/http"

	"transitlens.dev/gtfsdb"
)

// stopEventsHandler returns one trip's stop events in sequence order. An
// unknown trip yields an empty list, not a 404: the store cannot tell a
// missing trip from a trip with no stop events without a second query.
func (api *RestAPI) stopEventsHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	events, err := store.QueryStopEvents(r.Context(), paramFromRequest(r, "id"))
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if events == nil {
		events = []gtfsdb.StopEventRow{}
	}
	api.sendJSON(w, r, http.StatusOK, events)
}
