package gtfsdb

import (
	"fmt"
	"time"
)

// Exception types in calendar_dates.txt.
const (
	exceptionAdded   = 1
	exceptionRemoved = 2
)

// CalendarRow is one weekly service rule from calendar.txt.
type CalendarRow struct {
	ServiceID string
	// Days is keyed by the seven weekday column names ("monday".."sunday").
	Days      map[string]bool
	StartDate string
	EndDate   string
}

// CalendarDateRow is one dated exception from calendar_dates.txt.
type CalendarDateRow struct {
	ServiceID     string
	Date          string
	ExceptionType int
}

// DayOfWeekColumn validates an 8-digit YYYYMMDD date and returns the
// calendar column name for its weekday.
func DayOfWeekColumn(date string) (string, error) {
	if len(date) != 8 {
		return "", &InvalidDateError{Value: date}
	}
	parsed, err := time.Parse("20060102", date)
	if err != nil {
		return "", &InvalidDateError{Value: date}
	}

	switch parsed.Weekday() {
	case time.Monday:
		return "monday", nil
	case time.Tuesday:
		return "tuesday", nil
	case time.Wednesday:
		return "wednesday", nil
	case time.Thursday:
		return "thursday", nil
	case time.Friday:
		return "friday", nil
	case time.Saturday:
		return "saturday", nil
	default:
		return "sunday", nil
	}
}

// ResolveActiveServices computes the service ids operating on date:
// weekly calendar rows whose interval contains the date and whose weekday
// flag is set, plus services with an "added" exception for the date, minus
// services with a "removed" exception for the date. Removal wins over
// weekly presence; addition wins over weekly absence.
//
// YYYYMMDD dates compare correctly as text, so the interval check is plain
// string comparison.
func ResolveActiveServices(calendar []CalendarRow, exceptions []CalendarDateRow, date string) (map[string]struct{}, error) {
	weekday, err := DayOfWeekColumn(date)
	if err != nil {
		return nil, err
	}

	active := make(map[string]struct{})
	for _, row := range calendar {
		if row.Days[weekday] && row.StartDate <= date && date <= row.EndDate {
			active[row.ServiceID] = struct{}{}
		}
	}

	// Additions first, removals last: a removal on the target date always
	// wins, regardless of what the weekly calendar or an addition says.
	for _, exc := range exceptions {
		if exc.Date == date && exc.ExceptionType == exceptionAdded {
			active[exc.ServiceID] = struct{}{}
		}
	}
	for _, exc := range exceptions {
		if exc.Date == date && exc.ExceptionType == exceptionRemoved {
			delete(active, exc.ServiceID)
		}
	}

	return active, nil
}

// activeServiceFilterSQL renders the resolver as a sub-query over whichever
// calendar tables the feed shipped, for embedding in date-scoped queries.
// The weekday name is interpolated rather than bound; it comes from
// DayOfWeekColumn's fixed set of seven, never from user input.
//
// When the feed carries neither calendar table the filter is empty: no date
// filtering is applied and date-scoped queries return all trips. That
// fallback is the single policy for every call site.
func activeServiceFilterSQL(hasCalendar, hasCalendarDates bool, date string) (clause string, args []any, err error) {
	if !hasCalendar && !hasCalendarDates {
		return "", nil, nil
	}

	weekday, err := DayOfWeekColumn(date)
	if err != nil {
		return "", nil, err
	}

	switch {
	case hasCalendar && hasCalendarDates:
		clause = fmt.Sprintf(`t.service_id IN (
			SELECT service_id FROM (
				SELECT service_id FROM calendar
				WHERE %s = 1 AND start_date <= ? AND end_date >= ?
				UNION
				SELECT service_id FROM calendar_dates WHERE date = ? AND exception_type = %d
			)
			WHERE service_id NOT IN (
				SELECT service_id FROM calendar_dates WHERE date = ? AND exception_type = %d
			)
		)`, weekday, exceptionAdded, exceptionRemoved)
		args = []any{date, date, date, date}
	case hasCalendar:
		clause = fmt.Sprintf(`t.service_id IN (
			SELECT service_id FROM calendar
			WHERE %s = 1 AND start_date <= ? AND end_date >= ?
		)`, weekday)
		args = []any{date, date}
	default:
		clause = fmt.Sprintf(`t.service_id IN (
			SELECT service_id FROM calendar_dates WHERE date = ? AND exception_type = %d
		)`, exceptionAdded)
		args = []any{date}
	}

	return clause, args, nil
}
