package gtfsdb

import (
	"errors"
	"fmt"
)

// ErrStoreUnavailable is returned for queries issued before any feed has
// been loaded successfully.
var ErrStoreUnavailable = errors.New("no transit feed loaded")

// MissingRequiredTableError reports a feed archive that lacks one of the
// four mandatory tables.
type MissingRequiredTableError struct {
	Table string
}

func (e *MissingRequiredTableError) Error() string {
	return fmt.Sprintf("feed is missing required table %s", e.Table)
}

// MissingRequiredColumnError reports a table whose header lacks a column
// the store cannot function without.
type MissingRequiredColumnError struct {
	Table  string
	Column string
}

func (e *MissingRequiredColumnError) Error() string {
	return fmt.Sprintf("table %s is missing required column %s", e.Table, e.Column)
}

// InvalidDateError reports a date parameter that is not 8 numeric digits.
type InvalidDateError struct {
	Value string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: want YYYYMMDD", e.Value)
}

// QueryTimeoutError reports a request aborted by its deadline.
type QueryTimeoutError struct {
	Request string
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out", e.Request)
}
