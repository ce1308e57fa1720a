// Package marker keeps one map marker per waypoint and per displayed POI.
//
// Markers are overlay elements and survive a style reload, unlike sources
// and layers. The manager listens to the waypoint store and never talks to
// the route service except to ask for a recalculation after a reload that
// lost the route line.
package marker

import (
	"fmt"
	"strconv"

	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

const (
	PinColor      = "#FF0000"
	PinRotation   = -45
	LabelRotation = 45
)

// RouteLine re-registers the cached route line after a style reload.
type RouteLine interface {
	Reattach() (bool, error)
}

// Recalculator re-requests the route for the current waypoints.
type Recalculator interface {
	Recalculate()
}

// WaypointSource publishes waypoint list changes.
type WaypointSource interface {
	Subscribe(fn func(waypoint.Change)) (unsubscribe func())
}

// Manager binds markers to waypoints and POIs. All methods run on the loop.
type Manager struct {
	markers mapsurface.Markers
	line    RouteLine
	recalc  Recalculator
	log     *logger.Logger

	waypoints []waypoint.Waypoint
	pois      []string
}

// NewManager returns a manager placing markers on m. line and recalc may be
// nil when no route is drawn.
func NewManager(m mapsurface.Markers, line RouteLine, recalc Recalculator) *Manager {
	return &Manager{markers: m, line: line, recalc: recalc, log: logger.New("marker")}
}

// Attach subscribes the manager to waypoint changes.
func (m *Manager) Attach(src WaypointSource) (detach func()) {
	return src.Subscribe(m.OnWaypointsChanged)
}

// OnWaypointsChanged mirrors a waypoint list change onto the markers.
func (m *Manager) OnWaypointsChanged(ch waypoint.Change) {
	switch ch.Kind {
	case waypoint.Added:
		m.waypoints = ch.Waypoints
		for _, wp := range ch.Affected {
			m.AddMarker(wp)
		}
		m.RelabelAll()
	case waypoint.Removed:
		for _, wp := range ch.Affected {
			m.RemoveMarker(wp.ID)
		}
		m.waypoints = ch.Waypoints
		m.RelabelAll()
	case waypoint.Reordered:
		m.waypoints = ch.Waypoints
		m.RelabelAll()
	case waypoint.Cleared, waypoint.Replaced:
		for _, wp := range m.waypoints {
			m.RemoveMarker(wp.ID)
		}
		m.waypoints = ch.Waypoints
		for _, wp := range m.waypoints {
			m.AddMarker(wp)
		}
	}
}

func waypointElement(wp waypoint.Waypoint) mapsurface.MarkerElement {
	return mapsurface.MarkerElement{
		Kind:          mapsurface.MarkerWaypoint,
		Label:         wp.Label,
		Color:         PinColor,
		Rotation:      PinRotation,
		LabelRotation: LabelRotation,
		Title:         wp.Name,
	}
}

// AddMarker places the pin for wp.
func (m *Manager) AddMarker(wp waypoint.Waypoint) {
	err := m.markers.AddMarker(mapsurface.MarkerSpec{ID: wp.ID, Point: wp.Point, Element: waypointElement(wp)})
	if err != nil {
		m.log.Error("add marker %s: %v", wp.ID, err)
	}
}

// RemoveMarker removes the pin with id. Unknown ids are ignored.
func (m *Manager) RemoveMarker(id string) {
	if !m.markers.HasMarker(id) {
		return
	}
	if err := m.markers.RemoveMarker(id); err != nil {
		m.log.Error("remove marker %s: %v", id, err)
	}
}

// RelabelAll rewrites every waypoint pin's label from its position. Markers
// are updated in place.
func (m *Manager) RelabelAll() {
	n := len(m.waypoints)
	for i := range m.waypoints {
		label := waypoint.Label(i, n)
		m.waypoints[i].Label = label
		if err := m.markers.SetMarkerLabel(m.waypoints[i].ID, label); err != nil {
			m.log.Error("relabel %s: %v", m.waypoints[i].ID, err)
		}
	}
}

// ReattachAfterStyleReload restores what a style swap took away from the
// route display. The route line is redrawn from its cache; a recalculation
// is requested only when nothing is cached and a route is possible. Pins
// that went missing are put back.
func (m *Manager) ReattachAfterStyleReload() {
	for _, wp := range m.waypoints {
		if !m.markers.HasMarker(wp.ID) {
			m.log.Warn("marker %s lost across style reload, re-adding", wp.ID)
			m.AddMarker(wp)
		}
	}
	if m.line == nil {
		return
	}
	ok, err := m.line.Reattach()
	if err != nil {
		m.log.Error("reattach route line: %v", err)
		return
	}
	if ok {
		m.log.Debug("route line reattached from cache")
		return
	}
	if len(m.waypoints) >= 2 && m.recalc != nil {
		m.log.Info("no cached route after style reload, recalculating")
		m.recalc.Recalculate()
	}
}

func poiMarkerID(id int64) string { return "poi-" + strconv.FormatInt(id, 10) }

// ReplacePOIs removes every POI marker and adds one per entry of pois.
func (m *Manager) ReplacePOIs(pois []poi.POI) {
	for _, id := range m.pois {
		m.RemoveMarker(id)
	}
	m.pois = m.pois[:0]
	for _, p := range pois {
		style := poi.StyleOf(p.Category)
		spec := mapsurface.MarkerSpec{
			ID:    poiMarkerID(p.ID),
			Point: p.Point,
			Element: mapsurface.MarkerElement{
				Kind:  mapsurface.MarkerPOI,
				Label: style.Icon,
				Color: style.Color,
				Title: fmt.Sprintf("%s (%s)", p.Name, style.Label),
			},
		}
		if err := m.markers.AddMarker(spec); err != nil {
			m.log.Error("add POI marker %s: %v", spec.ID, err)
			continue
		}
		m.pois = append(m.pois, spec.ID)
	}
}

// Count returns the number of waypoint pins.
func (m *Manager) Count() int { return len(m.waypoints) }

// POICount returns the number of POI markers.
func (m *Manager) POICount() int { return len(m.pois) }
