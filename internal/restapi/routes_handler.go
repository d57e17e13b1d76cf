package restapi

import (
	"net/http"

	"transitlens.dev/gtfsdb"
)

// routesHandler lists every route with its agency name and trip count.
func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	routes, err := store.QueryRoutes(r.Context())
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if routes == nil {
		routes = []gtfsdb.RouteSummary{}
	}
	api.sendJSON(w, r, http.StatusOK, routes)
}
