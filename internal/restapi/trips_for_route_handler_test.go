package restapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitlens.dev/gtfsdb"
)

func TestTripsForRouteHandler(t *testing.T) {
	api := newTestAPI(t, true)

	tests := []struct {
		name      string
		url       string
		wantTrips []string
	}{
		{"all trips ordered by departure", "/api/routes/R1/trips", []string{"T1", "T2"}},
		{"direction filter", "/api/routes/R1/trips?direction=0", []string{"T1"}},
		{"weekday date", "/api/routes/R1/trips?date=20250102", []string{"T1", "T2"}},
		{"removed exception date", "/api/routes/R1/trips?date=20250704", nil},
		{"added exception date", "/api/routes/R1/trips?date=20250705", []string{"T1", "T2"}},
		{"plain saturday", "/api/routes/R1/trips?date=20250712", nil},
		{"unknown route", "/api/routes/NOPE/trips", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trips []gtfsdb.TripSummary
			resp := serveGet(t, api, tt.url, &trips)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			got := make([]string, 0, len(trips))
			for _, trip := range trips {
				got = append(got, trip.TripID)
			}
			if tt.wantTrips == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.wantTrips, got)
			}
		})
	}
}

func TestTripsForRouteHandlerRejectsBadParams(t *testing.T) {
	api := newTestAPI(t, true)

	for name, url := range map[string]string{
		"malformed date":      "/api/routes/R1/trips?date=2025",
		"direction too large": "/api/routes/R1/trips?direction=5",
		"direction not int":   "/api/routes/R1/trips?direction=west",
	} {
		t.Run(name, func(t *testing.T) {
			resp := serveGet(t, api, url, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestBulkRouteDataHandler(t *testing.T) {
	api := newTestAPI(t, true)

	var trips []gtfsdb.TripWithStopEvents
	resp := serveGet(t, api, "/api/routes/R1/bulk", &trips)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, trips, 2)

	assert.Equal(t, "T1", trips[0].TripID)
	require.Len(t, trips[0].StopEvents, 3)
	assert.Equal(t, "S1", trips[0].StopEvents[0].StopID)
	assert.Equal(t, "S3", trips[0].StopEvents[2].StopID)

	assert.Equal(t, "T2", trips[1].TripID)
	require.Len(t, trips[1].StopEvents, 2)
	assert.Equal(t, "S3", trips[1].StopEvents[0].StopID)
}
