package extract

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"transitlens.dev/internal/tabular"
)

// progressInterval is how many parsed rows elapse between progress reports.
const progressInterval = 100_000

// streamChunkSize is the read size for the streaming parser.
const streamChunkSize = 256 << 10

// ProgressFunc receives named build steps with a 0..100 percentage.
// Implementations must tolerate high call frequency.
type ProgressFunc func(step string, percent int)

// StopEvent is one arrival/departure row, keyed into its trip's sequence.
// Times stay in their textual HH:MM:SS form; GTFS allows hours >= 24 and the
// zero-padded form orders correctly as text.
type StopEvent struct {
	StopID        string
	ArrivalTime   string
	DepartureTime string
	StopSequence  int
	PickupType    string
	DropOffType   string
}

// StopTimesResult is the per-trip grouping of the stop_times table, each
// trip's events sorted ascending by stop sequence.
type StopTimesResult struct {
	ByTrip  map[string][]StopEvent
	Rows    int
	Skipped int
}

// MissingColumnError reports a table whose header lacks a required column.
type MissingColumnError struct {
	Table  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("table %s is missing required column %s", e.Table, e.Column)
}

// stopTimesFold accumulates grouped stop events line by line. Both the bulk
// and streaming paths feed it, so their outputs are identical by
// construction; only the final sort happens outside it.
type stopTimesFold struct {
	index      map[string]int
	haveHeader bool

	byTrip   map[string][]StopEvent
	rows     int
	skipped  int
	progress ProgressFunc
	lastPct  int
}

func newStopTimesFold(progress ProgressFunc) *stopTimesFold {
	return &stopTimesFold{
		byTrip:   make(map[string][]StopEvent),
		progress: progress,
		lastPct:  60,
	}
}

func (f *stopTimesFold) line(line string) error {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return nil
	}

	if !f.haveHeader {
		headers := tabular.ParseHeader(line)
		f.index = tabular.ColumnIndex(headers)
		for _, required := range []string{"trip_id", "stop_id", "stop_sequence"} {
			if _, ok := f.index[required]; !ok {
				return &MissingColumnError{Table: "stop_times", Column: required}
			}
		}
		f.haveHeader = true
		return nil
	}

	fields := tabular.ParseLine(line)
	tripID := tabular.Field(fields, f.index["trip_id"])
	stopID := tabular.Field(fields, f.index["stop_id"])
	if tripID == "" || stopID == "" {
		f.skipped++
		return nil
	}

	seq, err := strconv.Atoi(tabular.Field(fields, f.index["stop_sequence"]))
	if err != nil {
		f.skipped++
		return nil
	}

	f.byTrip[tripID] = append(f.byTrip[tripID], StopEvent{
		StopID:        stopID,
		ArrivalTime:   f.optional(fields, "arrival_time", ""),
		DepartureTime: f.optional(fields, "departure_time", ""),
		StopSequence:  seq,
		PickupType:    f.optional(fields, "pickup_type", "0"),
		DropOffType:   f.optional(fields, "drop_off_type", "0"),
	})

	f.rows++
	if f.rows%progressInterval == 0 && f.progress != nil {
		pct := 60 + min(30, f.rows/500_000)
		if pct < f.lastPct {
			pct = f.lastPct
		}
		f.lastPct = pct
		f.progress(fmt.Sprintf("Parsing stop_times: %d rows", f.rows), pct)
	}

	return nil
}

func (f *stopTimesFold) optional(fields []string, column, fallback string) string {
	i, ok := f.index[column]
	if !ok {
		return fallback
	}
	v := tabular.Field(fields, i)
	if v == "" {
		return fallback
	}
	return v
}

func (f *stopTimesFold) result() *StopTimesResult {
	for tripID := range f.byTrip {
		events := f.byTrip[tripID]
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].StopSequence < events[j].StopSequence
		})
	}
	return &StopTimesResult{ByTrip: f.byTrip, Rows: f.rows, Skipped: f.skipped}
}

// GroupStopTimes extracts and groups the stop_times member using the given
// strategy. The context is checked at chunk boundaries in streaming mode.
func GroupStopTimes(ctx context.Context, a *Archive, strategy Strategy, progress ProgressFunc) (*StopTimesResult, error) {
	member := a.Member("stop_times.txt")
	if member == nil {
		return nil, fmt.Errorf("stop_times.txt not found in archive")
	}

	if strategy == Bulk {
		text, _, err := a.MemberText("stop_times.txt")
		if err != nil {
			return nil, err
		}
		return groupStopTimesBulk(text, progress)
	}

	rc, err := member.Open()
	if err != nil {
		return nil, &MalformedArchiveError{Path: a.Path, Err: err}
	}
	defer rc.Close() // nolint:errcheck

	return groupStopTimesChunked(ctx, rc, streamChunkSize, progress)
}

func groupStopTimesBulk(text string, progress ProgressFunc) (*StopTimesResult, error) {
	fold := newStopTimesFold(progress)
	for _, line := range strings.Split(text, "\n") {
		if err := fold.line(line); err != nil {
			return nil, err
		}
	}
	return fold.result(), nil
}

// groupStopTimesChunked is the streaming path: decoded chunks accumulate in
// a carry buffer, complete lines are folded immediately, and the trailing
// partial line waits for the next chunk. End of stream flushes the carry.
func groupStopTimesChunked(ctx context.Context, r io.Reader, chunkSize int, progress ProgressFunc) (*StopTimesResult, error) {
	fold := newStopTimesFold(progress)
	buf := make([]byte, chunkSize)
	carry := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(buf)
		if n > 0 {
			text := carry + string(buf[:n])
			lines := strings.Split(text, "\n")
			carry = lines[len(lines)-1]
			for _, line := range lines[:len(lines)-1] {
				if foldErr := fold.line(line); foldErr != nil {
					return nil, foldErr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(carry) != "" {
		if err := fold.line(carry); err != nil {
			return nil, err
		}
	}

	return fold.result(), nil
}
