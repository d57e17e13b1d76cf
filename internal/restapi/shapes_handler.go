package restapi

import (
	"net/http"
)

// shapePointsHandler returns a shape's polyline as [lat, lon] pairs.
func (api *RestAPI) shapePointsHandler(w http.ResponseWriter, r *http.Request) {
	store, err := api.FeedManager.Store()
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}

	points, err := store.QueryShapePoints(r.Context(), paramFromRequest(r, "id"))
	if err != nil {
		api.storeErrorResponse(w, r, err)
		return
	}
	if points == nil {
		points = [][2]float64{}
	}
	api.sendJSON(w, r, http.StatusOK, points)
}
