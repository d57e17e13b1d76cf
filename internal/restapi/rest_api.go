// Package restapi exposes the feed manager and the derived store over
// HTTP. Handlers translate store errors into stable status codes; bodies
// carry diagnostic detail only in development.
package restapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"transitlens.dev/internal/app"
)

type RestAPI struct {
	*app.Application
	validate *validator.Validate
}

// NewRestAPI creates a RestAPI serving the given application.
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{
		Application: app,
		validate:    validator.New(),
	}
}

// Routes builds the router for the API surface.
func (api *RestAPI) Routes() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(api.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodPost, "/api/load", api.loadHandler)
	router.HandlerFunc(http.MethodGet, "/api/load/progress", api.loadProgressHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes", api.routesHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id/trips", api.tripsForRouteHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id/bulk", api.bulkRouteDataHandler)
	router.HandlerFunc(http.MethodGet, "/api/trips/:id/stop-events", api.stopEventsHandler)
	router.HandlerFunc(http.MethodGet, "/api/shapes/:id", api.shapePointsHandler)
	router.HandlerFunc(http.MethodGet, "/api/stops", api.stopsHandler)
	router.HandlerFunc(http.MethodGet, "/api/date-ranges", api.dateRangesHandler)

	return api.requestLogging(router)
}
