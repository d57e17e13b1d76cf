package gtfsdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRoutes(t *testing.T) {
	client := buildFeed(t, baseFeed())

	routes, err := client.QueryRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "R1", routes[0].RouteID)
	assert.Equal(t, "10", routes[0].ShortName)
	assert.Equal(t, "Downtown Loop", routes[0].LongName)
	assert.Equal(t, int64(3), routes[0].Type)
	assert.Equal(t, "FF0000", routes[0].Color)
	assert.Equal(t, "Metro Transit", routes[0].AgencyName)
	assert.Equal(t, int64(2), routes[0].TripCount)

	assert.Equal(t, "R2", routes[1].RouteID)
	assert.Equal(t, int64(1), routes[1].TripCount)
}

func TestQueryRoutesSingleAgencyWithoutIDs(t *testing.T) {
	// Neither agency.txt nor routes.txt carries agency_id; the one agency
	// row still names every route.
	feed := baseFeed()
	feed["agency.txt"] = "agency_name,agency_url,agency_timezone\n" +
		"Solo Transit,https://solo.example,America/New_York\n"
	feed["routes.txt"] = "route_id,route_short_name\nR1,10\n"
	feed["trips.txt"] = "route_id,service_id,trip_id\nR1,WK,T1\n"
	client := buildFeed(t, feed)

	routes, err := client.QueryRoutes(context.Background())
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "Solo Transit", routes[0].AgencyName)
}

func TestQueryTripsForRoute(t *testing.T) {
	client := buildFeed(t, baseFeed())
	ctx := context.Background()

	trips, err := client.QueryTripsForRoute(ctx, TripsRequest{RouteID: "R1", DirectionID: -1})
	require.NoError(t, err)
	require.Len(t, trips, 2)

	// Ordered by first departure.
	assert.Equal(t, "T1", trips[0].TripID)
	assert.Equal(t, "08:00:00", trips[0].FirstDeparture)
	assert.Equal(t, "Downtown", trips[0].Headsign)
	assert.Equal(t, "T2", trips[1].TripID)
	assert.Equal(t, "09:00:00", trips[1].FirstDeparture)

	trips, err = client.QueryTripsForRoute(ctx, TripsRequest{RouteID: "R1", DirectionID: 1})
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "T2", trips[0].TripID)
}

func TestQueryTripsForRouteDateScoping(t *testing.T) {
	client := buildFeed(t, baseFeed())
	ctx := context.Background()

	tests := []struct {
		name string
		date string
		want int
	}{
		{"active weekday", "20250102", 2},
		{"plain saturday", "20250712", 0},
		{"removed exception", "20250704", 0},
		{"added exception", "20250705", 2},
		{"outside interval", "20260601", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trips, err := client.QueryTripsForRoute(ctx, TripsRequest{RouteID: "R1", Date: tt.date, DirectionID: -1})
			require.NoError(t, err)
			assert.Len(t, trips, tt.want)
		})
	}
}

func TestQueryTripsForRouteInvalidDate(t *testing.T) {
	client := buildFeed(t, baseFeed())

	_, err := client.QueryTripsForRoute(context.Background(), TripsRequest{RouteID: "R1", Date: "2025", DirectionID: -1})
	var invalid *InvalidDateError
	require.ErrorAs(t, err, &invalid)
}

func TestQueryTripsForRouteWithoutCalendarsIgnoresDate(t *testing.T) {
	feed := baseFeed()
	delete(feed, "calendar.txt")
	delete(feed, "calendar_dates.txt")
	client := buildFeed(t, feed)

	// No calendar tables: date scoping is disabled rather than hiding
	// every trip.
	trips, err := client.QueryTripsForRoute(context.Background(), TripsRequest{RouteID: "R1", Date: "20250102", DirectionID: -1})
	require.NoError(t, err)
	assert.Len(t, trips, 2)
}

func TestQueryStopEvents(t *testing.T) {
	client := buildFeed(t, baseFeed())

	events, err := client.QueryStopEvents(context.Background(), "T1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "S1", events[0].StopID)
	assert.Equal(t, "Alder Ave", events[0].StopName)
	assert.Equal(t, 47.60, events[0].Lat)
	assert.Equal(t, "08:00:00", events[0].ArrivalTime)
	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, "S3", events[2].StopID)

	events, err = client.QueryStopEvents(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueryBulkRouteData(t *testing.T) {
	client := buildFeed(t, baseFeed())

	trips, err := client.QueryBulkRouteData(context.Background(), TripsRequest{RouteID: "R1", DirectionID: -1})
	require.NoError(t, err)
	require.Len(t, trips, 2)

	assert.Equal(t, "T1", trips[0].TripID)
	require.Len(t, trips[0].StopEvents, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{
		trips[0].StopEvents[0].Sequence,
		trips[0].StopEvents[1].Sequence,
		trips[0].StopEvents[2].Sequence,
	})

	assert.Equal(t, "T2", trips[1].TripID)
	require.Len(t, trips[1].StopEvents, 2)
	assert.Equal(t, "S3", trips[1].StopEvents[0].StopID)
}

func TestQueryShapePoints(t *testing.T) {
	client := buildFeed(t, baseFeed())

	points, err := client.QueryShapePoints(context.Background(), "SH1")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, [2]float64{47.60, -122.33}, points[0])
	assert.Equal(t, [2]float64{47.62, -122.35}, points[2])

	points, err = client.QueryShapePoints(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestQueryShapePointsWithoutShapesTable(t *testing.T) {
	feed := baseFeed()
	delete(feed, "shapes.txt")
	client := buildFeed(t, feed)

	points, err := client.QueryShapePoints(context.Background(), "SH1")
	require.NoError(t, err)
	assert.Nil(t, points)
}

func TestQueryStopsPaginated(t *testing.T) {
	client := buildFeed(t, baseFeed())
	ctx := context.Background()

	stops, err := client.QueryStopsPaginated(ctx, StopsRequest{})
	require.NoError(t, err)
	require.Len(t, stops, 3)
	assert.Equal(t, "Alder Ave", stops[0].Name)
	assert.Equal(t, "Birch St", stops[1].Name)
	assert.Equal(t, "Cedar Way", stops[2].Name)

	// S2 is served by both routes, attached in route_id order.
	assert.Equal(t, int64(2), stops[1].RouteCount)
	require.Len(t, stops[1].Routes, 2)
	assert.Equal(t, "R1", stops[1].Routes[0].RouteID)
	assert.Equal(t, "R2", stops[1].Routes[1].RouteID)

	// Pages are disjoint and contiguous.
	first, err := client.QueryStopsPaginated(ctx, StopsRequest{Limit: 2})
	require.NoError(t, err)
	second, err := client.QueryStopsPaginated(ctx, StopsRequest{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, stops[0].StopID, first[0].StopID)
	assert.Equal(t, stops[2].StopID, second[0].StopID)
}

func TestQueryStopsPaginatedSearch(t *testing.T) {
	client := buildFeed(t, baseFeed())

	stops, err := client.QueryStopsPaginated(context.Background(), StopsRequest{Search: "birch"})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "S2", stops[0].StopID)

	stops, err = client.QueryStopsPaginated(context.Background(), StopsRequest{Search: "S3"})
	require.NoError(t, err)
	require.Len(t, stops, 1)
	assert.Equal(t, "Cedar Way", stops[0].Name)
}

func TestQueryStopsPaginatedWithoutStopNames(t *testing.T) {
	feed := baseFeed()
	feed["stops.txt"] = "stop_id,stop_lat,stop_lon\n" +
		"S3,47.62,-122.35\n" +
		"S1,47.60,-122.33\n" +
		"S2,47.61,-122.34\n"
	client := buildFeed(t, feed)

	stops, err := client.QueryStopsPaginated(context.Background(), StopsRequest{})
	require.NoError(t, err)
	require.Len(t, stops, 3)
	// Falls back to id ordering.
	assert.Equal(t, "S1", stops[0].StopID)
	assert.Empty(t, stops[0].Name)
}

func TestQueryAvailableDateRanges(t *testing.T) {
	client := buildFeed(t, baseFeed())

	ranges, err := client.QueryAvailableDateRanges(context.Background())
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, DateRange{StartDate: "20250101", EndDate: "20251231"}, ranges[0])
}

func TestQueryAvailableDateRangesDisjointWindows(t *testing.T) {
	feed := baseFeed()
	feed["calendar_dates.txt"] = "service_id,date,exception_type\n" +
		"SPECIAL,20270301,1\n" +
		"SPECIAL,20270305,1\n"
	client := buildFeed(t, feed)

	ranges, err := client.QueryAvailableDateRanges(context.Background())
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, DateRange{StartDate: "20250101", EndDate: "20251231"}, ranges[0])
	assert.Equal(t, DateRange{StartDate: "20270301", EndDate: "20270305"}, ranges[1])
}

func TestQueryTimeout(t *testing.T) {
	built := buildFeed(t, baseFeed())

	client, err := Open(built.Path, Options{QueryTimeout: time.Nanosecond})
	require.NoError(t, err)
	defer client.Close() // nolint:errcheck

	_, err = client.QueryRoutes(context.Background())
	var timeout *QueryTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "queryRoutes", timeout.Request)
}

func TestMergeDateRanges(t *testing.T) {
	overlapping := []DateRange{
		{StartDate: "20250101", EndDate: "20250630"},
		{StartDate: "20250401", EndDate: "20251231"},
	}
	assert.Equal(t, []DateRange{{StartDate: "20250101", EndDate: "20251231"}}, mergeDateRanges(overlapping))

	contained := []DateRange{
		{StartDate: "20250101", EndDate: "20251231"},
		{StartDate: "20250601", EndDate: "20250602"},
	}
	assert.Equal(t, []DateRange{{StartDate: "20250101", EndDate: "20251231"}}, mergeDateRanges(contained))

	unordered := []DateRange{
		{StartDate: "20270101", EndDate: "20270201"},
		{StartDate: "20250101", EndDate: "20251231"},
	}
	assert.Equal(t, []DateRange{
		{StartDate: "20250101", EndDate: "20251231"},
		{StartDate: "20270101", EndDate: "20270201"},
	}, mergeDateRanges(unordered))
}
