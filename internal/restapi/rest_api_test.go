package restapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitlens.dev/internal/app"
	"transitlens.dev/internal/config"
	"transitlens.dev/internal/gtfs"
	"transitlens.dev/internal/logging"
)

// testFeedMembers is a small but complete feed: two routes, three trips,
// a weekly calendar with one removed and one added exception date, and
// one shape.
var testFeedMembers = map[string]string{
	"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
		"MTA,Metro Transit,https://metro.example,America/New_York\n",
	"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type,route_color\n" +
		"R1,MTA,10,Downtown Loop,3,FF0000\n" +
		"R2,MTA,20,Crosstown,3,00FF00\n",
	"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id,shape_id\n" +
		"R1,WK,T1,Downtown,0,SH1\n" +
		"R1,WK,T2,Uptown,1,SH1\n" +
		"R2,WK,T3,East,0,\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Alder Ave,47.60,-122.33\n" +
		"S2,Birch St,47.61,-122.34\n" +
		"S3,Cedar Way,47.62,-122.35\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S1,1\n" +
		"T1,08:05:00,08:06:00,S2,2\n" +
		"T1,08:10:00,08:10:00,S3,3\n" +
		"T2,09:00:00,09:00:00,S3,1\n" +
		"T2,09:05:00,09:05:00,S1,2\n" +
		"T3,10:00:00,10:00:00,S2,1\n",
	"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
		"WK,1,1,1,1,1,0,0,20250101,20251231\n",
	"calendar_dates.txt": "service_id,date,exception_type\n" +
		"WK,20250704,2\n" +
		"WK,20250705,1\n",
	"shapes.txt": "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\n" +
		"SH1,47.60,-122.33,1\n" +
		"SH1,47.61,-122.34,2\n" +
		"SH1,47.62,-122.35,3\n",
}

func writeTestFeed(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "feed.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range testFeedMembers {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestAPI(t *testing.T, loadFeed bool) *RestAPI {
	t.Helper()

	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()

	logger := logging.NewStructuredLogger(io.Discard, slog.LevelError)
	manager, err := gtfs.NewManager(gtfs.Config{
		CacheDir: cfg.Cache.Dir,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(manager.Shutdown)

	if loadFeed {
		feedPath := writeTestFeed(t, t.TempDir())
		_, err := manager.Load(context.Background(), feedPath)
		require.NoError(t, err)
	}

	return NewRestAPI(&app.Application{
		Config:      cfg,
		Logger:      logger,
		FeedManager: manager,
	})
}

// serveGet hits the handler stack and decodes the JSON body into out.
func serveGet(t *testing.T, api *RestAPI, url string, out any) *http.Response {
	t.Helper()

	server := httptest.NewServer(api.Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestQueriesBeforeLoadReturnConflict(t *testing.T) {
	api := newTestAPI(t, false)

	for _, url := range []string{
		"/api/routes",
		"/api/routes/R1/trips",
		"/api/routes/R1/bulk",
		"/api/trips/T1/stop-events",
		"/api/shapes/SH1",
		"/api/stops",
		"/api/date-ranges",
	} {
		var body errorResponse
		resp := serveGet(t, api, url, &body)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, url)
		assert.Equal(t, "no transit feed loaded", body.Text, url)
	}
}

func TestLoadHandler(t *testing.T) {
	api := newTestAPI(t, false)
	feedPath := writeTestFeed(t, t.TempDir())

	server := httptest.NewServer(api.Routes())
	defer server.Close()

	body := strings.NewReader(`{"path": "` + feedPath + `"}`)
	resp, err := http.Post(server.URL+"/api/load", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Success   bool `json:"success"`
		FromCache bool `json:"fromCache"`
		Stats     struct {
			RouteCount    int64 `json:"routeCount"`
			TripCount     int64 `json:"tripCount"`
			StopCount     int64 `json:"stopCount"`
			StopTimeCount int64 `json:"stopTimeCount"`
		} `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	assert.True(t, result.Success)
	assert.False(t, result.FromCache)
	assert.Equal(t, int64(2), result.Stats.RouteCount)
	assert.Equal(t, int64(3), result.Stats.TripCount)
	assert.Equal(t, int64(3), result.Stats.StopCount)
	assert.Equal(t, int64(6), result.Stats.StopTimeCount)
}

func TestLoadHandlerRejectsBadRequests(t *testing.T) {
	api := newTestAPI(t, false)

	server := httptest.NewServer(api.Routes())
	defer server.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"not json", "nope", http.StatusBadRequest},
		{"missing path", "{}", http.StatusBadRequest},
		{"nonexistent archive", `{"path": "/no/such/feed.zip"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/api/load", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close() // nolint:errcheck
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestLoadHandlerRejectsIncompleteFeed(t *testing.T) {
	api := newTestAPI(t, false)

	dir := t.TempDir()
	path := filepath.Join(dir, "partial.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("routes.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte(testFeedMembers["routes.txt"]))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	server := httptest.NewServer(api.Routes())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/load", "application/json",
		strings.NewReader(`{"path": "`+path+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestLoadProgressHandler(t *testing.T) {
	api := newTestAPI(t, false)

	resp := serveGet(t, api, "/api/load/progress", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	feedPath := writeTestFeed(t, t.TempDir())
	_, err := api.FeedManager.Load(context.Background(), feedPath)
	require.NoError(t, err)

	var event struct {
		LoadID  string `json:"loadId"`
		Step    string `json:"step"`
		Percent int    `json:"percent"`
	}
	resp = serveGet(t, api, "/api/load/progress", &event)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, event.LoadID)
	assert.Equal(t, 100, event.Percent)
}

func TestUnknownRouteIs404(t *testing.T) {
	api := newTestAPI(t, false)

	var body errorResponse
	resp := serveGet(t, api, "/api/nope", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "resource not found", body.Text)
}
