package restapi

import (
	"net/http"

	"transitlens.dev/gtfsdb"
)

// dateRangesHandler reports the service windows the loaded feed covers.
func (api *RestAPI) dateRangesHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	ranges, err := store.QueryAvailableDateRanges(r.Context())
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if ranges == nil {
		ranges = []gtfsdb.DateRange{}
	}
	api.sendJSON(w, r, http.StatusOK, ranges)
}
