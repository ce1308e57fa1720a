package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Epsilon is the coordinate precision under which two points are considered
// identical. Keep it consistent across store lookups and comparisons.
const Epsilon = 1e-6

// Point is a (lon, lat) pair, matching the map surface's coordinate order.
type Point = orb.Point

// Bounds is a lon/lat bounding box.
type Bounds = orb.Bound

// Pt builds a Point from longitude and latitude.
func Pt(lon, lat float64) Point { return Point{lon, lat} }

// Validate checks that p is finite and within lon/lat range.
func Validate(p Point) error {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return errors.New("coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return errors.New("coordinates out of range")
	}
	return nil
}

// ValidateBounds checks both corners and their ordering.
func ValidateBounds(b Bounds) error {
	if err := Validate(b.Min); err != nil {
		return err
	}
	if err := Validate(b.Max); err != nil {
		return err
	}
	if b.Min.Lon() > b.Max.Lon() || b.Min.Lat() > b.Max.Lat() {
		return errors.New("bounds min corner exceeds max corner")
	}
	return nil
}

// NewBounds builds bounds from the west/south/east/north edges.
func NewBounds(west, south, east, north float64) Bounds {
	return Bounds{Min: Point{west, south}, Max: Point{east, north}}
}

// Equal reports whether a and b are within Epsilon in both axes.
func Equal(a, b Point) bool {
	return math.Abs(a.Lon()-b.Lon()) < Epsilon && math.Abs(a.Lat()-b.Lat()) < Epsilon
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a, b)
}

// PathLength sums the haversine length of a polyline in meters.
func PathLength(line []Point) float64 {
	if len(line) < 2 {
		return 0
	}
	return orbgeo.LengthHaversine(orb.LineString(line))
}

// BoundsOf returns the bounding box of points. ok is false for an empty input.
func BoundsOf(points []Point) (b Bounds, ok bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	return orb.MultiPoint(points).Bound(), true
}
