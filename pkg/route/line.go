package route

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
)

const (
	SourceID = "route-source"
	LayerID  = "route-layer"
)

// Line presents the route geometry as a GeoJSON source plus a line layer. It
// caches the last geometry so the line can be re-registered after a style
// swap without asking the provider again.
type Line struct {
	layers  mapsurface.Layers
	camera  mapsurface.Camera
	padding int
	cached  []geo.Point
	log     *logger.Logger
}

// NewLine returns a presenter drawing onto layers. camera may be nil.
func NewLine(layers mapsurface.Layers, camera mapsurface.Camera, fitPadding int) *Line {
	return &Line{layers: layers, camera: camera, padding: fitPadding, log: logger.New("route-line")}
}

func feature(points []geo.Point) *geojson.Feature {
	ls := make(orb.LineString, len(points))
	copy(ls, points)
	return geojson.NewFeature(ls)
}

func layerSpec() mapsurface.LayerSpec {
	return mapsurface.LayerSpec{
		ID:      LayerID,
		Type:    mapsurface.LayerLine,
		Source:  SourceID,
		Visible: true,
		Layout: map[string]any{
			"line-join": "round",
			"line-cap":  "round",
		},
		Paint: map[string]any{
			"line-color":   "#00ff00",
			"line-width":   4,
			"line-opacity": 0.75,
		},
	}
}

// Show caches points and draws them. If the style is still loading the
// geometry stays cached and is drawn by Reattach.
func (l *Line) Show(points []geo.Point) error {
	l.cached = append([]geo.Point(nil), points...)
	return l.register()
}

func (l *Line) register() error {
	data := feature(l.cached)
	if l.layers.HasSource(SourceID) {
		if err := l.layers.SetSourceData(SourceID, data); err != nil {
			return err
		}
	} else if err := l.layers.AddSource(mapsurface.SourceSpec{ID: SourceID, Type: mapsurface.SourceGeoJSON, Data: data}); err != nil {
		if errors.Is(err, mapsurface.ErrStyleNotReady) {
			l.log.Debug("style loading, route line deferred")
			return nil
		}
		return err
	}
	if !l.layers.HasLayer(LayerID) {
		return l.layers.AddLayer(layerSpec())
	}
	return nil
}

// Clear forgets the cached geometry and empties the drawn line.
func (l *Line) Clear() error {
	l.cached = nil
	if !l.layers.HasSource(SourceID) {
		return nil
	}
	return l.layers.SetSourceData(SourceID, feature(nil))
}

// Cached returns the last shown geometry, nil when there is none.
func (l *Line) Cached() []geo.Point {
	if len(l.cached) == 0 {
		return nil
	}
	return append([]geo.Point(nil), l.cached...)
}

// Reattach re-registers the source and layer from the cached geometry. It
// reports false when nothing is cached.
func (l *Line) Reattach() (bool, error) {
	if len(l.cached) == 0 {
		return false, nil
	}
	return true, l.register()
}

// Fit moves the camera to the cached geometry.
func (l *Line) Fit() {
	if l.camera == nil {
		return
	}
	if b, ok := geo.BoundsOf(l.cached); ok {
		l.camera.FitBounds(b, l.padding)
	}
}
