package routestore

import (
	"fmt"
	"os"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/rubiojr/wayplan/pkg/geo"
)

func gpxPoint(p geo.Point, name string) gpx.GPXPoint {
	pt := gpx.GPXPoint{Name: name}
	pt.Latitude = p.Lat()
	pt.Longitude = p.Lon()
	return pt
}

// GPX renders rec as a GPX 1.1 document: the stops as waypoints and as a
// route, and the computed geometry as a single-segment track.
func GPX(rec Record) ([]byte, error) {
	doc := gpx.GPX{
		Version:     "1.1",
		Creator:     "wayplan",
		Name:        rec.Name,
		Description: rec.Description,
	}
	rte := gpx.GPXRoute{Name: rec.Name, Description: string(rec.Profile)}
	for _, wp := range rec.Waypoints {
		name := wp.Label
		if wp.Name != "" {
			name = fmt.Sprintf("%s %s", wp.Label, wp.Name)
		}
		doc.Waypoints = append(doc.Waypoints, gpxPoint(wp.Point, name))
		rte.Points = append(rte.Points, gpxPoint(wp.Point, name))
	}
	doc.Routes = []gpx.GPXRoute{rte}

	if len(rec.Geometry) > 0 {
		seg := gpx.GPXTrackSegment{}
		for _, p := range rec.Geometry {
			seg.Points = append(seg.Points, gpxPoint(p, ""))
		}
		doc.Tracks = []gpx.GPXTrack{{Name: rec.Name, Segments: []gpx.GPXTrackSegment{seg}}}
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// WriteGPX exports rec to path. The file is written to path.tmp and renamed
// over path so readers never see a partial file.
func WriteGPX(path string, rec Record) error {
	b, err := GPX(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
