package routestore

import (
	"math"
	"strconv"
	"strings"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// keyPrecision is the number of decimals coordinates are normalized to when
// building a fingerprint. It matches geo.Epsilon.
const keyPrecision = 6

// roundTo rounds v to places decimal digits.
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func pointKey(p geo.Point) string {
	lon := strconv.FormatFloat(roundTo(p.Lon(), keyPrecision), 'f', keyPrecision, 64)
	lat := strconv.FormatFloat(roundTo(p.Lat(), keyPrecision), 'f', keyPrecision, 64)
	return lon + "," + lat
}

// fingerprint identifies a saved route by its name and waypoint coordinates.
// Two saves with the same name through the same stops are duplicates; a
// different name or any moved stop makes a new route.
func fingerprint(name string, wps []Waypoint) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(name)))
	for _, wp := range wps {
		b.WriteByte('|')
		b.WriteString(pointKey(wp.Point))
	}
	return b.String()
}

// Dedupe drops waypoints sitting on the previous one (within the key
// precision), keeping the first. Double clicks on the map produce these.
func Dedupe(in []Waypoint) []Waypoint {
	if len(in) <= 1 {
		return append([]Waypoint(nil), in...)
	}
	out := make([]Waypoint, 0, len(in))
	prev := ""
	for _, wp := range in {
		k := pointKey(wp.Point)
		if k == prev {
			continue
		}
		prev = k
		out = append(out, wp)
	}
	return out
}
