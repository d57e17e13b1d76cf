package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"transitlens.dev/internal/tabular"
)

// columnSpec is one column the store knows how to carry.
type columnSpec struct {
	name    string
	sqlType string
}

// tableSpec describes a feed table: which member file it comes from, which
// columns must exist, and which optional columns are materialized only when
// the producer ships them. Optional columns a feed lacks simply never
// appear in the table, which is what lets the query layer adapt instead of
// assuming a fixed shape.
type tableSpec struct {
	name       string
	member     string
	primaryKey string
	required   []columnSpec
	optional   []columnSpec
}

var (
	routesSpec = tableSpec{
		name:       "routes",
		member:     "routes.txt",
		primaryKey: "route_id",
		required:   []columnSpec{{"route_id", "TEXT"}},
		optional: []columnSpec{
			{"agency_id", "TEXT"},
			{"route_short_name", "TEXT"},
			{"route_long_name", "TEXT"},
			{"route_desc", "TEXT"},
			{"route_type", "INTEGER"},
			{"route_url", "TEXT"},
			{"route_color", "TEXT"},
			{"route_text_color", "TEXT"},
		},
	}

	tripsSpec = tableSpec{
		name:       "trips",
		member:     "trips.txt",
		primaryKey: "trip_id",
		required: []columnSpec{
			{"trip_id", "TEXT"},
			{"route_id", "TEXT"},
			{"service_id", "TEXT"},
		},
		optional: []columnSpec{
			{"trip_headsign", "TEXT"},
			{"trip_short_name", "TEXT"},
			{"direction_id", "INTEGER"},
			{"block_id", "TEXT"},
			{"shape_id", "TEXT"},
			{"wheelchair_accessible", "INTEGER"},
			{"bikes_allowed", "INTEGER"},
		},
	}

	stopsSpec = tableSpec{
		name:       "stops",
		member:     "stops.txt",
		primaryKey: "stop_id",
		required: []columnSpec{
			{"stop_id", "TEXT"},
			{"stop_lat", "REAL"},
			{"stop_lon", "REAL"},
		},
		optional: []columnSpec{
			{"stop_code", "TEXT"},
			{"stop_name", "TEXT"},
			{"stop_desc", "TEXT"},
			{"zone_id", "TEXT"},
			{"location_type", "INTEGER"},
			{"parent_station", "TEXT"},
			{"wheelchair_boarding", "INTEGER"},
			{"platform_code", "TEXT"},
		},
	}

	agencySpec = tableSpec{
		name:     "agency",
		member:   "agency.txt",
		required: []columnSpec{{"agency_name", "TEXT"}},
		optional: []columnSpec{
			{"agency_id", "TEXT"},
			{"agency_url", "TEXT"},
			{"agency_timezone", "TEXT"},
			{"agency_lang", "TEXT"},
			{"agency_phone", "TEXT"},
		},
	}

	calendarSpec = tableSpec{
		name:       "calendar",
		member:     "calendar.txt",
		primaryKey: "service_id",
		required: []columnSpec{
			{"service_id", "TEXT"},
			{"monday", "INTEGER"},
			{"tuesday", "INTEGER"},
			{"wednesday", "INTEGER"},
			{"thursday", "INTEGER"},
			{"friday", "INTEGER"},
			{"saturday", "INTEGER"},
			{"sunday", "INTEGER"},
			{"start_date", "TEXT"},
			{"end_date", "TEXT"},
		},
	}

	calendarDatesSpec = tableSpec{
		name:   "calendar_dates",
		member: "calendar_dates.txt",
		required: []columnSpec{
			{"service_id", "TEXT"},
			{"date", "TEXT"},
			{"exception_type", "INTEGER"},
		},
	}
)

// requiredMembers are the archive members whose absence aborts a build.
var requiredMembers = []string{"routes.txt", "trips.txt", "stops.txt", "stop_times.txt"}

// optionalRecordTables are the small optional tables materialized from
// fully parsed records.
var optionalRecordTables = []tableSpec{agencySpec, calendarSpec, calendarDatesSpec}

// activeColumns resolves the spec against the columns a feed actually
// carries. Required columns must all be present; optional ones are kept
// only when available.
func (s tableSpec) activeColumns(available map[string]bool) ([]columnSpec, error) {
	for _, col := range s.required {
		if !available[col.name] {
			return nil, &MissingRequiredColumnError{Table: s.name, Column: col.name}
		}
	}

	columns := make([]columnSpec, 0, len(s.required)+len(s.optional))
	columns = append(columns, s.required...)
	for _, col := range s.optional {
		if available[col.name] {
			columns = append(columns, col)
		}
	}
	return columns, nil
}

// createTableSQL renders the DDL for the resolved column set.
func (s tableSpec) createTableSQL(columns []columnSpec) string {
	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		def := col.name + " " + col.sqlType
		if col.name == s.primaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", s.name, strings.Join(defs, ", "))
}

// headerAvailability reads the first line of a table's text and reports
// which normalized columns it declares.
func headerAvailability(text string) map[string]bool {
	line, _, _ := strings.Cut(text, "\n")
	headers := tabular.ParseHeader(strings.TrimSuffix(line, "\r"))
	available := make(map[string]bool, len(headers))
	for _, h := range headers {
		if h != "" {
			available[h] = true
		}
	}
	return available
}

// materializeRecords creates the table for spec and bulk-inserts records
// inside one transaction with a prepared statement. Rows missing the
// primary key or with an unparseable numeric required field are skipped.
func materializeRecords(ctx context.Context, db *sql.DB, spec tableSpec, text string) (rows int64, skipped int64, err error) {
	available := headerAvailability(text)
	columns, err := spec.activeColumns(available)
	if err != nil {
		return 0, 0, err
	}

	if _, err := db.ExecContext(ctx, spec.createTableSQL(columns)); err != nil {
		return 0, 0, fmt.Errorf("error creating table %s: %w", spec.name, err)
	}

	records := tabular.ParseTable(text)
	if len(records) == 0 {
		return 0, 0, nil
	}

	names := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.name
		placeholders[i] = "?"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s);",
		spec.name, strings.Join(names, ", "), strings.Join(placeholders, ", "),
	))
	if err != nil {
		return 0, 0, fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close() // nolint:errcheck

	values := make([]any, len(columns))
	for _, rec := range records {
		ok := true
		for i, col := range columns {
			v, convOK := columnValue(rec, col)
			if !convOK {
				ok = false
				break
			}
			values[i] = v
		}
		if !ok || (spec.primaryKey != "" && rec[spec.primaryKey] == "") {
			skipped++
			continue
		}

		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, 0, fmt.Errorf("error inserting into %s: %w", spec.name, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("error committing transaction: %w", err)
	}

	return rows, skipped, nil
}

// columnValue converts one record field to its storage representation.
// Numeric conversion failures on REAL columns invalidate the row; INTEGER
// columns fall back to 0, matching how feeds leave flag columns blank.
func columnValue(rec tabular.Record, col columnSpec) (any, bool) {
	raw := rec[col.name]
	switch col.sqlType {
	case "REAL":
		f, err := parseFloat(raw)
		if err != nil {
			return nil, false
		}
		return f, true
	case "INTEGER":
		return parseIntDefault(raw, 0), true
	default:
		return raw, true
	}
}
