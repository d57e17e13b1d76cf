package restapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitlens.dev/gtfsdb"
)

func TestStopsHandler(t *testing.T) {
	api := newTestAPI(t, true)

	var page stopsResponse
	resp := serveGet(t, api, "/api/stops", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Stops, 3)

	assert.Equal(t, "Alder Ave", page.Stops[0].Name)
	assert.Equal(t, "Birch St", page.Stops[1].Name)
	assert.Equal(t, "Cedar Way", page.Stops[2].Name)
	assert.Equal(t, int64(0), page.Offset)
	assert.Equal(t, int64(gtfsdb.MaxStopsPageSize), page.Limit)

	// S1 is served by T1 (R1) and T2 (R1), deduplicated to one route.
	assert.Equal(t, int64(1), page.Stops[0].RouteCount)
	require.Len(t, page.Stops[0].Routes, 1)
	assert.Equal(t, "R1", page.Stops[0].Routes[0].RouteID)

	// S2 is served by both routes.
	assert.Equal(t, int64(2), page.Stops[1].RouteCount)
}

func TestStopsHandlerPaging(t *testing.T) {
	api := newTestAPI(t, true)

	var first stopsResponse
	resp := serveGet(t, api, "/api/stops?limit=2", &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, first.Stops, 2)
	assert.Equal(t, int64(2), first.Limit)

	var second stopsResponse
	resp = serveGet(t, api, "/api/stops?limit=2&offset=2", &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, second.Stops, 1)

	// Pages are disjoint and contiguous.
	assert.NotEqual(t, first.Stops[1].StopID, second.Stops[0].StopID)
	assert.Equal(t, "Cedar Way", second.Stops[0].Name)
}

func TestStopsHandlerSearch(t *testing.T) {
	api := newTestAPI(t, true)

	var page stopsResponse
	resp := serveGet(t, api, "/api/stops?search=Birch", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, page.Stops, 1)
	assert.Equal(t, "S2", page.Stops[0].StopID)
}

func TestStopsHandlerRejectsBadPaging(t *testing.T) {
	api := newTestAPI(t, true)

	resp := serveGet(t, api, "/api/stops?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
