package restapi

import (
	"errors"
	"net/http"

	"transitlens.dev/gtfsdb"
)

// tripsRequestFromQuery builds the trip listing scope shared by the trips
// and bulk handlers. direction defaults to -1, both directions.
func tripsRequestFromQuery(r *http.Request) (gtfsdb.TripsRequest, error) {
	req := gtfsdb.TripsRequest{
		RouteID: paramFromRequest(r, "id"),
		Date:    r.URL.Query().Get("date"),
	}
	direction, err := queryInt64(r, "direction", -1)
	if err != nil {
		return req, err
	}
	if direction > 1 {
		return req, errors.New("parameter direction must be 0 or 1")
	}
	req.DirectionID = direction
	return req, nil
}

// tripsForRouteHandler lists a route's trips, optionally scoped to a
// service date and direction.
func (api *RestAPI) tripsForRouteHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	req, err := tripsRequestFromQuery(r)
	if err != nil {
		api.badRequestResponse(w, r, err)
		return
	}

	trips, err := store.QueryTripsForRoute(r.Context(), req)
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if trips == nil {
		trips = []gtfsdb.TripSummary{}
	}
	api.sendJSON(w, r, http.StatusOK, trips)
}

// bulkRouteDataHandler returns a route's trips with their full stop-event
// sequences embedded, for callers that render a whole route at once.
func (api *RestAPI) bulkRouteDataHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	req, err := tripsRequestFromQuery(r)
	if err != nil {
		api.badRequestResponse(w, r, err)
		return
	}

	trips, err := store.QueryBulkRouteData(r.Context(), req)
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if trips == nil {
		trips = []gtfsdb.TripWithStopEvents{}
	}
	api.sendJSON(w, r, http.StatusOK, trips)
}
