package gtfsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"transitlens.dev/internal/extract"
	"transitlens.dev/internal/feedcache"
)

// BuildResult reports what one ingestion produced.
type BuildResult struct {
	Stats       feedcache.Stats
	SkippedRows int64
	Strategy    extract.Strategy
	Duration    time.Duration
}

// progressReporter clamps reported percentages so callers always observe a
// monotonically non-decreasing sequence within one build.
type progressReporter struct {
	fn   extract.ProgressFunc
	last int
}

func (p *progressReporter) report(step string, percent int) {
	if p.fn == nil {
		return
	}
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	p.fn(step, percent)
}

// Build runs one full ingestion of the archive into this client's store:
// open archive, materialize the seven/eight logical tables (stop_times via
// the strategy selected from input sizes), create indexes for the columns
// that actually exist, build the stop-to-routes lookup, compact, and count
// rows. On failure the store file is left for the caller's scratch cleanup;
// nothing is committed to the cache here.
func (c *Client) Build(ctx context.Context, archivePath string, thresholds extract.Thresholds, progress extract.ProgressFunc) (*BuildResult, error) {
	start := time.Now()
	reporter := &progressReporter{fn: progress}

	reporter.report("Opening archive", 0)
	archive, err := extract.OpenArchive(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer archive.Close() // nolint:errcheck

	for _, member := range requiredMembers {
		if archive.Member(member) == nil {
			return nil, &MissingRequiredTableError{Table: member}
		}
	}

	result := &BuildResult{
		Strategy: extract.SelectStrategy(archive.Size(), archive.MemberSize("stop_times.txt"), thresholds),
	}

	c.logger.Info("building derived store",
		slog.String("archive", archivePath),
		slog.Int64("archive_bytes", archive.Size()),
		slog.String("stop_times_strategy", result.Strategy.String()))

	reporter.report("Extracting tables", 10)

	// The small record tables decompress and parse concurrently; inserts
	// stay sequential because SQLite serializes writers anyway.
	type parsedTable struct {
		spec tableSpec
		text string
		ok   bool
	}
	recordTables := make([]parsedTable, 0, 3+len(optionalRecordTables))
	for _, spec := range []tableSpec{routesSpec, tripsSpec, stopsSpec} {
		recordTables = append(recordTables, parsedTable{spec: spec})
	}
	for _, spec := range optionalRecordTables {
		recordTables = append(recordTables, parsedTable{spec: spec})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range recordTables {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, ok, err := archive.MemberText(recordTables[i].spec.member)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", recordTables[i].spec.member, err)
			}
			recordTables[i].text, recordTables[i].ok = text, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tablePercent := map[string]int{"routes": 20, "trips": 30, "stops": 40}
	for _, table := range recordTables {
		if !table.ok {
			// Required members were checked above; only optional tables
			// can be absent, and their absence narrows the store silently.
			continue
		}
		pct, isRequired := tablePercent[table.spec.name]
		if !isRequired {
			pct = 50
			if len(headerAvailability(table.text)) == 0 {
				// A zero-byte optional member reads the same as an absent one.
				continue
			}
		}
		reporter.report(fmt.Sprintf("Materializing %s", table.spec.name), pct)

		_, skipped, err := materializeRecords(ctx, c.DB, table.spec, table.text)
		if err != nil {
			return nil, fmt.Errorf("materializing %s: %w", table.spec.name, err)
		}
		result.SkippedRows += skipped
	}

	reporter.report("Parsing stop_times", 60)
	stopTimes, err := extract.GroupStopTimes(ctx, archive, result.Strategy, reporter.report)
	if err != nil {
		var missingCol *extract.MissingColumnError
		if errors.As(err, &missingCol) {
			return nil, &MissingRequiredColumnError{Table: missingCol.Table, Column: missingCol.Column}
		}
		return nil, fmt.Errorf("parsing stop_times: %w", err)
	}
	result.SkippedRows += int64(stopTimes.Skipped)

	reporter.report("Materializing stop_times", 90)
	if err := c.insertStopTimes(ctx, stopTimes); err != nil {
		return nil, fmt.Errorf("materializing stop_times: %w", err)
	}

	if err := c.materializeShapes(ctx, archive, thresholds, reporter); err != nil {
		return nil, fmt.Errorf("materializing shapes: %w", err)
	}

	reporter.report("Creating indexes", 95)
	if err := c.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	reporter.report("Building stop-to-routes index", 97)
	if err := c.buildStopRoutes(ctx); err != nil {
		return nil, fmt.Errorf("building stop-to-routes index: %w", err)
	}

	reporter.report("Compacting store", 98)
	if _, err := c.DB.ExecContext(ctx, "ANALYZE;"); err != nil {
		return nil, fmt.Errorf("compacting store: %w", err)
	}
	if _, err := c.DB.ExecContext(ctx, "VACUUM;"); err != nil {
		return nil, fmt.Errorf("compacting store: %w", err)
	}

	// Recount from the tables rather than trusting insert tallies: REPLACE
	// on a duplicate key executes twice but lands one row.
	counts := []struct {
		table string
		dest  *int64
	}{
		{"routes", &result.Stats.RouteCount},
		{"trips", &result.Stats.TripCount},
		{"stops", &result.Stats.StopCount},
		{"stop_times", &result.Stats.StopTimeCount},
	}
	for _, count := range counts {
		if err := c.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+count.table).Scan(count.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", count.table, err)
		}
	}

	c.invalidateSchema()
	result.Duration = time.Since(start)
	reporter.report("Complete", 100)

	c.logger.Info("derived store built",
		slog.Int64("routes", result.Stats.RouteCount),
		slog.Int64("trips", result.Stats.TripCount),
		slog.Int64("stops", result.Stats.StopCount),
		slog.Int64("stop_times", result.Stats.StopTimeCount),
		slog.Int64("skipped_rows", result.SkippedRows),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// insertStopTimes writes the grouped, sequence-sorted stop events. The
// grouping already sorted each trip, so rows land in final order and the
// (trip_id, stop_sequence) index serves range scans straight away.
func (c *Client) insertStopTimes(ctx context.Context, grouped *extract.StopTimesResult) error {
	_, err := c.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stop_times (
			trip_id TEXT NOT NULL,
			arrival_time TEXT,
			departure_time TEXT,
			stop_id TEXT NOT NULL,
			stop_sequence INTEGER NOT NULL,
			pickup_type INTEGER DEFAULT 0,
			drop_off_type INTEGER DEFAULT 0
		);`)
	if err != nil {
		return fmt.Errorf("error creating table stop_times: %w", err)
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stop_times (
			trip_id, arrival_time, departure_time, stop_id, stop_sequence, pickup_type, drop_off_type
		) VALUES (?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close() // nolint:errcheck

	for tripID, events := range grouped.ByTrip {
		for _, ev := range events {
			_, err := stmt.ExecContext(ctx,
				tripID, ev.ArrivalTime, ev.DepartureTime, ev.StopID, ev.StopSequence,
				parseIntDefault(ev.PickupType, 0), parseIntDefault(ev.DropOffType, 0),
			)
			if err != nil {
				return fmt.Errorf("error inserting stop time: %w", err)
			}
		}
	}

	return tx.Commit()
}

// materializeShapes stores the optional shapes table. A shapes member too
// large for in-memory extraction is skipped rather than streamed; shape
// rendering is a nicety and never worth risking the build.
func (c *Client) materializeShapes(ctx context.Context, archive *extract.Archive, thresholds extract.Thresholds, reporter *progressReporter) error {
	size := archive.MemberSize("shapes.txt")
	if size < 0 {
		return nil
	}
	if thresholds.MaxMemberBytes > 0 && size > thresholds.MaxMemberBytes {
		c.logger.Warn("shapes.txt too large for extraction, skipping",
			slog.Int64("bytes", size))
		return nil
	}

	reporter.report("Parsing shapes", 92)
	text, _, err := archive.MemberText("shapes.txt")
	if err != nil {
		return err
	}

	byShape := extract.GroupShapes(text, reporter.report)
	if len(byShape) == 0 {
		return nil
	}

	_, err = c.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS shapes (
			shape_id TEXT NOT NULL,
			shape_pt_lat REAL NOT NULL,
			shape_pt_lon REAL NOT NULL,
			shape_pt_sequence INTEGER NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("error creating table shapes: %w", err)
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO shapes (shape_id, shape_pt_lat, shape_pt_lon, shape_pt_sequence)
		VALUES (?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close() // nolint:errcheck

	for shapeID, points := range byShape {
		for _, pt := range points {
			if _, err := stmt.ExecContext(ctx, shapeID, pt.Lat, pt.Lon, pt.Sequence); err != nil {
				return fmt.Errorf("error inserting shape point: %w", err)
			}
		}
	}

	return tx.Commit()
}

// createIndexes builds the secondary lookup structures, including one
// conditional index that exists only when the feed ships the
// parent_station hierarchy column.
func (c *Client) createIndexes(ctx context.Context) error {
	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_trips_route_id ON trips(route_id);",
		"CREATE INDEX IF NOT EXISTS idx_trips_service_id ON trips(service_id);",
		"CREATE INDEX IF NOT EXISTS idx_stop_times_trip_id ON stop_times(trip_id, stop_sequence);",
		"CREATE INDEX IF NOT EXISTS idx_stop_times_stop_id ON stop_times(stop_id);",
	}

	c.invalidateSchema()
	if ok, err := c.HasColumn(ctx, "stops", "stop_name"); err != nil {
		return err
	} else if ok {
		statements = append(statements, "CREATE INDEX IF NOT EXISTS idx_stops_name ON stops(stop_name);")
	}
	if ok, err := c.HasColumn(ctx, "stops", "parent_station"); err != nil {
		return err
	} else if ok {
		statements = append(statements, "CREATE INDEX IF NOT EXISTS idx_stops_parent_station ON stops(parent_station);")
	}
	if ok, err := c.TableExists(ctx, "shapes"); err != nil {
		return err
	} else if ok {
		statements = append(statements, "CREATE INDEX IF NOT EXISTS idx_shapes_shape_id ON shapes(shape_id, shape_pt_sequence);")
	}
	if ok, err := c.TableExists(ctx, "calendar_dates"); err != nil {
		return err
	} else if ok {
		statements = append(statements, "CREATE INDEX IF NOT EXISTS idx_calendar_dates_date ON calendar_dates(date);")
	}

	for _, stmt := range statements {
		if err := c.execStep(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) execStep(ctx context.Context, stmt string) error {
	if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("error executing [%s]: %w", stmt, err)
	}
	return nil
}

// buildStopRoutes precomputes which routes serve each stop so the paginated
// stop listing never has to walk tens of millions of stop_times rows per
// request.
func (c *Client) buildStopRoutes(ctx context.Context) error {
	if err := c.execStep(ctx, `
		CREATE TABLE IF NOT EXISTS stop_routes (
			stop_id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			PRIMARY KEY (stop_id, route_id)
		) WITHOUT ROWID;`); err != nil {
		return err
	}

	if err := c.execStep(ctx, `
		INSERT OR IGNORE INTO stop_routes (stop_id, route_id)
		SELECT DISTINCT st.stop_id, t.route_id
		FROM stop_times st
		JOIN trips t ON t.trip_id = st.trip_id;`); err != nil {
		return err
	}

	return c.execStep(ctx, "CREATE INDEX IF NOT EXISTS idx_stop_routes_stop_id ON stop_routes(stop_id);")
}
