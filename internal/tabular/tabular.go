// Package tabular parses the delimited-text tables found inside GTFS feeds.
// Feed producers are sloppy about header spelling, quoting and BOMs, so the
// parser normalizes headers to one canonical schema and tolerates short rows.
package tabular

import (
	"strings"
)

// Record is one data row keyed by normalized header name.
type Record map[string]string

// bom is the UTF-8 byte order mark some producers prepend to the header line.
const bom = "\uFEFF"

// headerAliases maps normalized-but-nonstandard header spellings to the
// canonical GTFS column names. Keys are matched after NormalizeHeader's
// lowercasing, whitespace collapsing and character stripping.
var headerAliases = map[string]string{
	"routeid":           "route_id",
	"tripid":            "trip_id",
	"serviceid":         "service_id",
	"stopid":            "stop_id",
	"shapeid":           "shape_id",
	"agencyid":          "agency_id",
	"routeshortname":    "route_short_name",
	"routelongname":     "route_long_name",
	"stopsequence":      "stop_sequence",
	"arrivaltime":       "arrival_time",
	"departuretime":     "departure_time",
	"stopname":          "stop_name",
	"stoplat":           "stop_lat",
	"stoplon":           "stop_lon",
	"shapeptlat":        "shape_pt_lat",
	"shapeptlon":        "shape_pt_lon",
	"shapeptsequence":   "shape_pt_sequence",
	"exceptiontype":     "exception_type",
	"directionid":       "direction_id",
	"tripheadsign":      "trip_headsign",
	"parentstation":     "parent_station",
	"agencyname":        "agency_name",
}

// ParseLine splits one comma-delimited line into its fields. A double quote
// escapes commas and newlines-within-field are not supported (GTFS rows are
// single lines); a doubled quote inside a quoted field is a literal quote.
// Unquoted fields are trimmed of surrounding whitespace.
func ParseLine(line string) []string {
	// Fast path for the overwhelmingly common unquoted row.
	if !strings.ContainsRune(line, '"') {
		fields := strings.Split(line, ",")
		for i, f := range fields {
			fields[i] = strings.TrimSpace(f)
		}
		return fields
	}

	var fields []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			if inQuotes && i+1 < len(line) && line[i+1] == '"' {
				current.WriteByte('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case c == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))

	return fields
}

// NormalizeHeader canonicalizes a header cell: lowercase, trimmed, BOM
// stripped, internal whitespace collapsed to a single underscore, characters
// outside [A-Za-z0-9_] removed, and known alias spellings rewritten.
func NormalizeHeader(name string) string {
	s := strings.TrimPrefix(name, bom)
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	normalized := b.String()

	if alias, ok := headerAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// ParseHeader parses and normalizes the header line of a table.
func ParseHeader(line string) []string {
	line = strings.TrimPrefix(line, bom)
	raw := ParseLine(line)
	headers := make([]string, len(raw))
	for i, h := range raw {
		headers[i] = NormalizeHeader(h)
	}
	return headers
}

// ParseTable parses a full table body into normalized records. The first
// line is the header; blank lines are skipped; rows shorter than the header
// pad missing fields with the empty string; fields beyond the header are
// dropped. Empty input yields no records rather than an error.
func ParseTable(text string) []Record {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return nil
	}

	headers := ParseHeader(strings.TrimSuffix(lines[0], "\r"))
	if len(headers) == 0 || (len(headers) == 1 && headers[0] == "") {
		return nil
	}

	var records []Record
	for _, line := range lines[1:] {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}

		values := ParseLine(line)
		record := make(Record, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(values) {
				record[h] = values[i]
			} else {
				record[h] = ""
			}
		}
		records = append(records, record)
	}

	return records
}

// ColumnIndex maps each normalized header name to its field position.
// Used by the streaming parser, which works on positional fields instead of
// building a map per row.
func ColumnIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		if h != "" {
			idx[h] = i
		}
	}
	return idx
}

// Field returns the positional field at i, or "" when the row is short.
func Field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}
