package gtfsdb

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"transitlens.dev/internal/extract"
)

// baseFeed returns a fresh copy of the standard test feed so cases can
// drop or rewrite members without affecting each other.
func baseFeed() map[string]string {
	return map[string]string{
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
}

func writeFeedArchive(t *testing.T, members map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range members {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "feed.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func openTestClient(t *testing.T, opts Options) *Client {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client, err := Open(filepath.Join(t.TempDir(), "gtfs.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// buildFeed materializes members into a fresh store and returns the client.
func buildFeed(t *testing.T, members map[string]string) *Client {
	t.Helper()

	client := openTestClient(t, Options{})
	_, err := client.Build(context.Background(), writeFeedArchive(t, members), extract.DefaultThresholds(), nil)
	require.NoError(t, err)
	return client
}
