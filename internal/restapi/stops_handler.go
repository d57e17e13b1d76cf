package restapi

import (
	"net/http"

	"transitlens.dev/gtfsdb"
)

type stopsResponse struct {
	Stops  []gtfsdb.StopSummary `json:"stops"`
	Offset int64                `json:"offset"`
	Limit  int64                `json:"limit"`
}

// stopsHandler pages through stops alphabetically, optionally filtered by
// a search term matched against stop name and id.
func (api *RestAPI) stopsHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	offset, err := queryInt64(r, "offset", 0)
	if err != nil {
		api.badRequestResponse(w, r, err)
		return
	}
	limit, err := queryInt64(r, "limit", gtfsdb.MaxStopsPageSize)
	if err != nil {
		api.badRequestResponse(w, r, err)
		return
	}

	req := gtfsdb.StopsRequest{
		Search: r.URL.Query().Get("search"),
		Offset: offset,
		Limit:  limit,
	}

	stops, err := store.QueryStopsPaginated(r.Context(), req)
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if stops == nil {
		stops = []gtfsdb.StopSummary{}
	}

	// Echo the clamped paging values the query actually used.
	if req.Limit <= 0 || req.Limit > gtfsdb.MaxStopsPageSize {
		req.Limit = gtfsdb.MaxStopsPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	api.sendJSON(w, r, http.StatusOK, stopsResponse{Stops: stops, Offset: req.Offset, Limit: req.Limit})
}
