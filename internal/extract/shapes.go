package extract

import (
	"fmt"
	"sort"
	"strconv"

	"transitlens.dev/internal/tabular"
)

// ShapePoint is one vertex of a route polyline.
type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

// GroupShapes groups shapes.txt rows by shape_id, each list sorted by point
// sequence. Rows with an unparseable coordinate are dropped. A header
// lacking the shape columns yields an empty result: shapes are optional and
// a broken shapes table must not fail the whole ingest.
func GroupShapes(text string, progress ProgressFunc) map[string][]ShapePoint {
	records := tabular.ParseTable(text)
	if len(records) == 0 {
		return nil
	}

	if _, ok := records[0]["shape_id"]; !ok {
		return nil
	}
	if _, ok := records[0]["shape_pt_lat"]; !ok {
		return nil
	}
	if _, ok := records[0]["shape_pt_lon"]; !ok {
		return nil
	}

	byShape := make(map[string][]ShapePoint)
	for i, rec := range records {
		shapeID := rec["shape_id"]
		if shapeID == "" {
			continue
		}

		lat, latErr := strconv.ParseFloat(rec["shape_pt_lat"], 64)
		lon, lonErr := strconv.ParseFloat(rec["shape_pt_lon"], 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		seq, _ := strconv.Atoi(rec["shape_pt_sequence"])
		byShape[shapeID] = append(byShape[shapeID], ShapePoint{Lat: lat, Lon: lon, Sequence: seq})

		if (i+1)%progressInterval == 0 && progress != nil {
			progress(fmt.Sprintf("Parsing shapes: %d points", i+1), 92)
		}
	}

	for shapeID := range byShape {
		points := byShape[shapeID]
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].Sequence < points[j].Sequence
		})
	}

	return byShape
}
