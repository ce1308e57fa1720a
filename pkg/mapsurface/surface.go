// Package mapsurface describes the narrow set of capabilities the planning
// engine needs from a map renderer: lifecycle events, custom sources and
// layers, terrain, overlay markers and camera control.
//
// Custom sources, layers and terrain are owned by the current style and are
// destroyed by every style swap. Overlay markers are independent of the style
// and survive it.
package mapsurface

import (
	"errors"

	"github.com/paulmach/orb/geojson"

	"github.com/rubiojr/wayplan/pkg/geo"
)

var (
	ErrStyleNotReady = errors.New("style is not done loading")
	ErrSourceExists  = errors.New("source already exists")
	ErrLayerExists   = errors.New("layer already exists")
	ErrNoSource      = errors.New("source does not exist")
	ErrNoLayer       = errors.New("layer does not exist")
	ErrNoMarker      = errors.New("marker does not exist")
)

// EventKind identifies a surface event.
type EventKind int

const (
	// EventLoad fires once, after the first style finished loading.
	EventLoad EventKind = iota
	// EventStyleLoad fires after every style load, including the first.
	EventStyleLoad
	// EventClick carries the clicked coordinate.
	EventClick
	// EventMoveEnd carries the viewport bounds after a pan or zoom.
	EventMoveEnd
)

func (k EventKind) String() string {
	switch k {
	case EventLoad:
		return "load"
	case EventStyleLoad:
		return "style.load"
	case EventClick:
		return "click"
	case EventMoveEnd:
		return "moveend"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers on the loop.
type Event struct {
	Kind   EventKind
	Point  geo.Point  // EventClick
	Bounds geo.Bounds // EventMoveEnd
	Style  string     // EventStyleLoad
}

// SourceType is the kind of data backing a source.
type SourceType string

const (
	SourceRasterDEM SourceType = "raster-dem"
	SourceVector    SourceType = "vector"
	SourceGeoJSON   SourceType = "geojson"
)

// SourceSpec describes a custom source.
type SourceSpec struct {
	ID       string           `json:"id"`
	Type     SourceType       `json:"type"`
	URL      string           `json:"url,omitempty"`
	TileSize int              `json:"tileSize,omitempty"`
	MaxZoom  int              `json:"maxzoom,omitempty"`
	Data     *geojson.Feature `json:"data,omitempty"`
}

// LayerType is the renderer layer type.
type LayerType string

const (
	LayerHillshade LayerType = "hillshade"
	LayerLine      LayerType = "line"
)

// LayerSpec describes a custom layer.
type LayerSpec struct {
	ID          string         `json:"id"`
	Type        LayerType      `json:"type"`
	Source      string         `json:"source"`
	SourceLayer string         `json:"sourceLayer,omitempty"`
	Visible     bool           `json:"visible"`
	Layout      map[string]any `json:"layout,omitempty"`
	Paint       map[string]any `json:"paint,omitempty"`
}

// Terrain binds 3D terrain to a DEM source.
type Terrain struct {
	Source       string  `json:"source"`
	Exaggeration float64 `json:"exaggeration"`
}

// MarkerKind distinguishes route pins from POI pins.
type MarkerKind string

const (
	MarkerWaypoint MarkerKind = "waypoint"
	MarkerPOI      MarkerKind = "poi"
)

// MarkerElement is the overlay element a marker owns.
type MarkerElement struct {
	Kind          MarkerKind `json:"kind"`
	Label         string     `json:"label"`
	Color         string     `json:"color"`
	Rotation      float64    `json:"rotation"`      // pin rotation in degrees
	LabelRotation float64    `json:"labelRotation"` // counter-rotation keeping the label upright
	Title         string     `json:"title,omitempty"`
}

// MarkerSpec places an element at a coordinate.
type MarkerSpec struct {
	ID      string        `json:"id"`
	Point   geo.Point     `json:"point"`
	Element MarkerElement `json:"element"`
}

// Lifecycle exposes readiness and the event stream.
type Lifecycle interface {
	// Subscribe registers fn for every event; the returned func unregisters it.
	Subscribe(fn func(Event)) (unsubscribe func())
	// Loaded reports whether the current style finished loading.
	Loaded() bool
}

// Layers is the source/layer/terrain CRUD owned by the current style.
type Layers interface {
	HasSource(id string) bool
	AddSource(spec SourceSpec) error
	RemoveSource(id string) error
	SetSourceData(id string, data *geojson.Feature) error

	HasLayer(id string) bool
	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error
	LayerVisible(id string) (visible, ok bool)
	SetLayerVisibility(id string, visible bool) error

	SetTerrain(t *Terrain) error
	Terrain() *Terrain
}

// Markers places overlay markers.
type Markers interface {
	AddMarker(spec MarkerSpec) error
	SetMarkerLabel(id, label string) error
	RemoveMarker(id string) error
	HasMarker(id string) bool
}

// Camera moves the viewport.
type Camera interface {
	FlyTo(center geo.Point, zoom float64)
	FitBounds(b geo.Bounds, padding int)
}

// Surface is the full capability set handed to the planner. Components take
// the narrowest sub-interface they need.
type Surface interface {
	Lifecycle
	Layers
	Markers
	Camera
	SetStyle(url string) error
}
