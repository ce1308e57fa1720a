// Package poi stores points of interest and keeps the rendered POI set in
// sync with the viewport.
package poi

import (
	"fmt"
	"strings"
	"time"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// Category classifies a POI.
type Category string

const (
	Camping       Category = "camping"
	Water         Category = "water"
	Fuel          Category = "fuel"
	Mechanic      Category = "mechanic"
	Viewpoint     Category = "viewpoint"
	Hazard        Category = "hazard"
	RiverCrossing Category = "river_crossing"
	Gate          Category = "gate"
	Accommodation Category = "accommodation"
	Food          Category = "food"
	TrackStart    Category = "track_start"
	TrackEnd      Category = "track_end"
	Emergency     Category = "emergency"
	Other         Category = "other"
)

// Style is how a category is presented.
type Style struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
	Label string `json:"label"`
}

var styles = map[Category]Style{
	Camping:       {"⛺", "#10b981", "Camping"},
	Water:         {"💧", "#3b82f6", "Water Source"},
	Fuel:          {"⛽", "#f59e0b", "Fuel Station"},
	Mechanic:      {"🔧", "#6b7280", "Mechanic/Repair"},
	Viewpoint:     {"👁️", "#8b5cf6", "Viewpoint"},
	Hazard:        {"⚠️", "#ef4444", "Hazard/Warning"},
	RiverCrossing: {"🌊", "#06b6d4", "River Crossing"},
	Gate:          {"🚪", "#a78bfa", "Gate/Barrier"},
	Accommodation: {"🏠", "#ec4899", "Accommodation"},
	Food:          {"🍽️", "#84cc16", "Food/Restaurant"},
	TrackStart:    {"🏁", "#22c55e", "Track Start"},
	TrackEnd:      {"🏁", "#dc2626", "Track End"},
	Emergency:     {"🚨", "#dc2626", "Emergency"},
	Other:         {"📍", "#64748b", "Other"},
}

// Categories lists every known category in display order.
func Categories() []Category {
	return []Category{
		Camping, Water, Fuel, Mechanic, Viewpoint, Hazard, RiverCrossing,
		Gate, Accommodation, Food, TrackStart, TrackEnd, Emergency, Other,
	}
}

// StyleOf returns the presentation of c, falling back to Other.
func StyleOf(c Category) Style {
	if s, ok := styles[c]; ok {
		return s
	}
	return styles[Other]
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := styles[c]; !ok {
		return "", fmt.Errorf("unknown POI category %q", s)
	}
	return c, nil
}

// POI is a point of interest. Source is "user" for entries placed on the map
// and "osm" for imported ones.
type POI struct {
	ID          int64     `json:"id"`
	Point       geo.Point `json:"coordinates"`
	Category    Category  `json:"type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	OSMID       int64     `json:"osmId,omitempty"`
	Created     time.Time `json:"createdAt"`
}

const (
	SourceUser = "user"
	SourceOSM  = "osm"
)
