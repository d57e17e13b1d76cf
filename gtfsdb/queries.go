package gtfsdb

import (
	"context"
	"database/sql"
	"strings"
)

// RouteSummary is one row of the route listing. Optional fields stay empty
// when the feed never shipped the corresponding column.
type RouteSummary struct {
	RouteID    string `json:"routeId"`
	ShortName  string `json:"shortName,omitempty"`
	LongName   string `json:"longName,omitempty"`
	Type       int64  `json:"type,omitempty"`
	Color      string `json:"color,omitempty"`
	TextColor  string `json:"textColor,omitempty"`
	AgencyName string `json:"agencyName"`
	TripCount  int64  `json:"tripCount"`
}

// TripSummary is one trip of a route on a service date.
type TripSummary struct {
	TripID         string `json:"tripId"`
	ServiceID      string `json:"serviceId"`
	Headsign       string `json:"headsign,omitempty"`
	DirectionID    int64  `json:"directionId"`
	ShapeID        string `json:"shapeId,omitempty"`
	FirstDeparture string `json:"firstDeparture"`
}

// StopEventRow is one arrival/departure of a trip, joined to its stop.
type StopEventRow struct {
	StopID        string  `json:"stopId"`
	StopName      string  `json:"stopName"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ArrivalTime   string  `json:"arrivalTime"`
	DepartureTime string  `json:"departureTime"`
	Sequence      int64   `json:"sequence"`
	PickupType    int64   `json:"pickupType"`
	DropOffType   int64   `json:"dropOffType"`
}

// TripWithStopEvents is the bulk-query shape: a trip with its full ordered
// stop-event sequence embedded.
type TripWithStopEvents struct {
	TripSummary
	StopEvents []StopEventRow `json:"stopEvents"`
}

// RouteRef is the compact route summary attached to stops.
type RouteRef struct {
	RouteID   string `json:"routeId"`
	ShortName string `json:"shortName,omitempty"`
	LongName  string `json:"longName,omitempty"`
	Type      int64  `json:"type,omitempty"`
	Color     string `json:"color,omitempty"`
}

// StopSummary is one row of the paginated stop listing.
type StopSummary struct {
	StopID     string     `json:"stopId"`
	Name       string     `json:"name"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Routes     []RouteRef `json:"routes"`
	RouteCount int64      `json:"routeCount"`
}

// DateRange is one contiguous service window in the feed's calendars.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// TripsRequest scopes a trip listing. DirectionID -1 means both directions.
// An empty Date disables date scoping; so does a feed without calendar
// tables (see activeServiceFilterSQL).
type TripsRequest struct {
	RouteID     string
	Date        string
	DirectionID int64
}

// StopsRequest pages through the alphabetical stop listing.
type StopsRequest struct {
	Search string
	Offset int64
	Limit  int64
}

// MaxStopsPageSize caps one page of the stop listing.
const MaxStopsPageSize = 200

// QueryRoutes lists all routes with their agency name and trip count,
// ordered by short then long name.
func (c *Client) QueryRoutes(ctx context.Context) ([]RouteSummary, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	routeCols, err := c.TableColumns(ctx, "routes")
	if err != nil {
		return nil, requestError(err, "queryRoutes")
	}
	hasAgency, err := c.TableExists(ctx, "agency")
	if err != nil {
		return nil, requestError(err, "queryRoutes")
	}
	agencyCols, err := c.TableColumns(ctx, "agency")
	if err != nil {
		return nil, requestError(err, "queryRoutes")
	}

	var row RouteSummary
	var agencyName sql.NullString

	joinable := hasAgency && routeCols["agency_id"] && agencyCols["agency_id"]
	b := newSelect("routes r").
		column("r.route_id", &row.RouteID).
		optionalColumn(routeCols["route_short_name"], "r.route_short_name", &row.ShortName).
		optionalColumn(routeCols["route_long_name"], "r.route_long_name", &row.LongName).
		optionalColumn(routeCols["route_type"], "r.route_type", &row.Type).
		optionalColumn(routeCols["route_color"], "r.route_color", &row.Color).
		optionalColumn(routeCols["route_text_color"], "r.route_text_color", &row.TextColor).
		column("(SELECT COUNT(*) FROM trips t WHERE t.route_id = r.route_id)", &row.TripCount).
		optionalJoin(joinable, "LEFT JOIN agency a ON a.agency_id = r.agency_id")

	switch {
	case joinable:
		b.column("a.agency_name", &agencyName)
	case hasAgency:
		// Single-agency feeds often omit agency_id everywhere; any agency
		// row's name applies to every route.
		b.column("(SELECT agency_name FROM agency LIMIT 1)", &agencyName)
	}

	order := []string{}
	if routeCols["route_short_name"] {
		order = append(order, "r.route_short_name")
	}
	if routeCols["route_long_name"] {
		order = append(order, "r.route_long_name")
	}
	order = append(order, "r.route_id")
	b.order(strings.Join(order, ", "))

	var routes []RouteSummary
	err = b.each(ctx, c.DB, func() error {
		row.AgencyName = agencyName.String
		routes = append(routes, row)
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryRoutes")
	}
	return routes, nil
}

// tripsSelect builds the shared trip listing used by both the plain and
// bulk route queries.
func (c *Client) tripsSelect(ctx context.Context, req TripsRequest, row *TripSummary) (*selectBuilder, error) {
	tripCols, err := c.TableColumns(ctx, "trips")
	if err != nil {
		return nil, err
	}

	b := newSelect("trips t").
		column("t.trip_id", &row.TripID).
		column("t.service_id", &row.ServiceID).
		optionalColumn(tripCols["trip_headsign"], "COALESCE(t.trip_headsign, '')", &row.Headsign).
		optionalColumn(tripCols["direction_id"], "COALESCE(t.direction_id, 0)", &row.DirectionID).
		optionalColumn(tripCols["shape_id"], "COALESCE(t.shape_id, '')", &row.ShapeID).
		column("COALESCE((SELECT MIN(st.departure_time) FROM stop_times st WHERE st.trip_id = t.trip_id), '') AS first_departure", &row.FirstDeparture).
		where("t.route_id = ?", req.RouteID).
		order("first_departure, t.trip_id")

	if req.DirectionID >= 0 && tripCols["direction_id"] {
		b.where("t.direction_id = ?", req.DirectionID)
	}

	if req.Date != "" {
		hasCalendar, err := c.TableExists(ctx, "calendar")
		if err != nil {
			return nil, err
		}
		hasCalendarDates, err := c.TableExists(ctx, "calendar_dates")
		if err != nil {
			return nil, err
		}
		clause, args, err := activeServiceFilterSQL(hasCalendar, hasCalendarDates, req.Date)
		if err != nil {
			return nil, err
		}
		if clause != "" {
			b.where(clause, args...)
		}
	}

	return b, nil
}

// QueryTripsForRoute lists a route's trips on a service date, ordered by
// first departure.
func (c *Client) QueryTripsForRoute(ctx context.Context, req TripsRequest) ([]TripSummary, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var row TripSummary
	b, err := c.tripsSelect(ctx, req, &row)
	if err != nil {
		return nil, requestError(err, "queryTripsForRoute")
	}

	var trips []TripSummary
	err = b.each(ctx, c.DB, func() error {
		trips = append(trips, row)
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryTripsForRoute")
	}
	return trips, nil
}

// stopEventsSelect projects stop events joined to stops for one or many
// trips. tripIDDest receives st.trip_id and is only needed by the bulk
// variant.
func (c *Client) stopEventsSelect(ctx context.Context, row *StopEventRow, tripIDDest *string) (*selectBuilder, error) {
	stopCols, err := c.TableColumns(ctx, "stops")
	if err != nil {
		return nil, err
	}

	b := newSelect("stop_times st").
		join("LEFT JOIN stops s ON s.stop_id = st.stop_id")
	if tripIDDest != nil {
		b.column("st.trip_id", tripIDDest)
	}
	b.column("st.stop_id", &row.StopID).
		optionalColumn(stopCols["stop_name"], "COALESCE(s.stop_name, '')", &row.StopName).
		column("COALESCE(s.stop_lat, 0)", &row.Lat).
		column("COALESCE(s.stop_lon, 0)", &row.Lon).
		column("COALESCE(st.arrival_time, '')", &row.ArrivalTime).
		column("COALESCE(st.departure_time, '')", &row.DepartureTime).
		column("st.stop_sequence", &row.Sequence).
		column("COALESCE(st.pickup_type, 0)", &row.PickupType).
		column("COALESCE(st.drop_off_type, 0)", &row.DropOffType)

	return b, nil
}

// QueryStopEvents returns one trip's stop events ordered by sequence.
func (c *Client) QueryStopEvents(ctx context.Context, tripID string) ([]StopEventRow, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var row StopEventRow
	b, err := c.stopEventsSelect(ctx, &row, nil)
	if err != nil {
		return nil, requestError(err, "queryStopEvents")
	}
	b.where("st.trip_id = ?", tripID).order("st.stop_sequence")

	var events []StopEventRow
	err = b.each(ctx, c.DB, func() error {
		events = append(events, row)
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryStopEvents")
	}
	return events, nil
}

// QueryBulkRouteData returns a route's trips with their full ordered
// stop-event sequences embedded, fetched with one trips pass and one
// stop_times pass instead of a round trip per trip.
func (c *Client) QueryBulkRouteData(ctx context.Context, req TripsRequest) ([]TripWithStopEvents, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var tripRow TripSummary
	tb, err := c.tripsSelect(ctx, req, &tripRow)
	if err != nil {
		return nil, requestError(err, "queryBulkRouteData")
	}

	var trips []TripWithStopEvents
	index := make(map[string]int)
	err = tb.each(ctx, c.DB, func() error {
		index[tripRow.TripID] = len(trips)
		trips = append(trips, TripWithStopEvents{TripSummary: tripRow})
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryBulkRouteData")
	}
	if len(trips) == 0 {
		return trips, nil
	}

	ids := make([]any, 0, len(trips))
	placeholders := make([]string, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.TripID)
		placeholders = append(placeholders, "?")
	}

	var eventRow StopEventRow
	var tripID string
	eb, err := c.stopEventsSelect(ctx, &eventRow, &tripID)
	if err != nil {
		return nil, requestError(err, "queryBulkRouteData")
	}
	eb.where("st.trip_id IN ("+strings.Join(placeholders, ", ")+")", ids...).
		order("st.trip_id, st.stop_sequence")

	err = eb.each(ctx, c.DB, func() error {
		if i, ok := index[tripID]; ok {
			trips[i].StopEvents = append(trips[i].StopEvents, eventRow)
		}
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryBulkRouteData")
	}
	return trips, nil
}

// QueryShapePoints returns a shape's polyline as [lat, lon] pairs ordered
// by point sequence. Feeds without shapes yield an empty result.
func (c *Client) QueryShapePoints(ctx context.Context, shapeID string) ([][2]float64, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	hasShapes, err := c.TableExists(ctx, "shapes")
	if err != nil {
		return nil, requestError(err, "queryShapePoints")
	}
	if !hasShapes {
		return nil, nil
	}

	var lat, lon float64
	b := newSelect("shapes").
		column("shape_pt_lat", &lat).
		column("shape_pt_lon", &lon).
		where("shape_id = ?", shapeID).
		order("shape_pt_sequence")

	var points [][2]float64
	err = b.each(ctx, c.DB, func() error {
		points = append(points, [2]float64{lat, lon})
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryShapePoints")
	}
	return points, nil
}

// QueryStopsPaginated pages through stops alphabetically by name (falling
// back to id when the feed has no stop_name column), with the serving
// routes attached. Limit is clamped to MaxStopsPageSize.
func (c *Client) QueryStopsPaginated(ctx context.Context, req StopsRequest) ([]StopSummary, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	if req.Limit <= 0 || req.Limit > MaxStopsPageSize {
		req.Limit = MaxStopsPageSize
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	stopCols, err := c.TableColumns(ctx, "stops")
	if err != nil {
		return nil, requestError(err, "queryStopsPaginated")
	}

	var row StopSummary
	b := newSelect("stops s").
		column("s.stop_id", &row.StopID).
		optionalColumn(stopCols["stop_name"], "COALESCE(s.stop_name, '')", &row.Name).
		column("s.stop_lat", &row.Lat).
		column("s.stop_lon", &row.Lon).
		column("(SELECT COUNT(*) FROM stop_routes sr WHERE sr.stop_id = s.stop_id)", &row.RouteCount).
		page(req.Limit, req.Offset)

	if stopCols["stop_name"] {
		b.order("s.stop_name COLLATE NOCASE, s.stop_id")
	} else {
		b.order("s.stop_id")
	}

	if req.Search != "" {
		pattern := "%" + req.Search + "%"
		if stopCols["stop_name"] {
			b.where("(s.stop_name LIKE ? OR s.stop_id LIKE ?)", pattern, pattern)
		} else {
			b.where("s.stop_id LIKE ?", pattern)
		}
	}

	var stops []StopSummary
	index := make(map[string][]int)
	err = b.each(ctx, c.DB, func() error {
		index[row.StopID] = append(index[row.StopID], len(stops))
		stops = append(stops, row)
		return nil
	})
	if err != nil {
		return nil, requestError(err, "queryStopsPaginated")
	}
	if len(stops) == 0 {
		return stops, nil
	}

	if err := c.attachStopRoutes(ctx, stops, index); err != nil {
		return nil, requestError(err, "queryStopsPaginated")
	}
	return stops, nil
}

func (c *Client) attachStopRoutes(ctx context.Context, stops []StopSummary, index map[string][]int) error {
	routeCols, err := c.TableColumns(ctx, "routes")
	if err != nil {
		return err
	}

	ids := make([]any, 0, len(stops))
	placeholders := make([]string, 0, len(stops))
	for _, s := range stops {
		ids = append(ids, s.StopID)
		placeholders = append(placeholders, "?")
	}

	var stopID string
	var ref RouteRef
	b := newSelect("stop_routes sr").
		join("JOIN routes r ON r.route_id = sr.route_id").
		column("sr.stop_id", &stopID).
		column("r.route_id", &ref.RouteID).
		optionalColumn(routeCols["route_short_name"], "COALESCE(r.route_short_name, '')", &ref.ShortName).
		optionalColumn(routeCols["route_long_name"], "COALESCE(r.route_long_name, '')", &ref.LongName).
		optionalColumn(routeCols["route_type"], "COALESCE(r.route_type, 0)", &ref.Type).
		optionalColumn(routeCols["route_color"], "COALESCE(r.route_color, '')", &ref.Color).
		where("sr.stop_id IN ("+strings.Join(placeholders, ", ")+")", ids...).
		order("sr.stop_id, r.route_id")

	return b.each(ctx, c.DB, func() error {
		for _, i := range index[stopID] {
			stops[i].Routes = append(stops[i].Routes, ref)
		}
		return nil
	})
}

// QueryAvailableDateRanges reports the service windows covered by the
// feed's calendars: the weekly calendar's overall span plus the span of
// dated exceptions, merged when they overlap.
func (c *Client) QueryAvailableDateRanges(ctx context.Context) ([]DateRange, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var ranges []DateRange

	if ok, err := c.TableExists(ctx, "calendar"); err != nil {
		return nil, requestError(err, "queryAvailableDateRanges")
	} else if ok {
		var start, end sql.NullString
		err := c.DB.QueryRowContext(ctx,
			"SELECT MIN(start_date), MAX(end_date) FROM calendar").Scan(&start, &end)
		if err != nil {
			return nil, requestError(err, "queryAvailableDateRanges")
		}
		if start.Valid && end.Valid {
			ranges = append(ranges, DateRange{StartDate: start.String, EndDate: end.String})
		}
	}

	if ok, err := c.TableExists(ctx, "calendar_dates"); err != nil {
		return nil, requestError(err, "queryAvailableDateRanges")
	} else if ok {
		var start, end sql.NullString
		err := c.DB.QueryRowContext(ctx,
			"SELECT MIN(date), MAX(date) FROM calendar_dates WHERE exception_type = 1").Scan(&start, &end)
		if err != nil {
			return nil, requestError(err, "queryAvailableDateRanges")
		}
		if start.Valid && end.Valid {
			ranges = append(ranges, DateRange{StartDate: start.String, EndDate: end.String})
		}
	}

	return mergeDateRanges(ranges), nil
}

func mergeDateRanges(ranges []DateRange) []DateRange {
	if len(ranges) < 2 {
		return ranges
	}

	if ranges[1].StartDate < ranges[0].StartDate {
		ranges[0], ranges[1] = ranges[1], ranges[0]
	}
	if ranges[1].StartDate <= ranges[0].EndDate {
		merged := ranges[0]
		if ranges[1].EndDate > merged.EndDate {
			merged.EndDate = ranges[1].EndDate
		}
		return []DateRange{merged}
	}
	return ranges
}
