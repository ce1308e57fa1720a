// Package planner composes the planning engine around one map surface and
// one event loop.
//
// The planner owns the interaction mode and the waypoint store. The route
// service and the marker manager only learn about waypoint edits through the
// store's change events; the planner never calls them for an edit. Surface
// events (click, settled viewport, style load) are routed from here.
package planner

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/geocode"
	"github.com/rubiojr/wayplan/pkg/layers"
	"github.com/rubiojr/wayplan/pkg/locate"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/marker"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/notice"
	"github.com/rubiojr/wayplan/pkg/planerr"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/route"
	"github.com/rubiojr/wayplan/pkg/routestore"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

// ErrNoToken is the cause of the configuration error returned by New when no
// map access token is configured.
var ErrNoToken = errors.New("map access token is missing: set mapbox.access_token in config.yaml or WAYPLAN_MAPBOX_TOKEN")

const (
	defaultLocationTimeout = 10 * time.Second
	defaultLocationZoom    = 12
)

// POIEditor is the form the user fills in after picking a POI location.
type POIEditor interface {
	Open(p geo.Point)
}

// Options are the tunables taken from configuration.
type Options struct {
	AccessToken     string
	DefaultProfile  directions.Profile
	FitPadding      int
	Layers          layers.Options
	POIDebounce     time.Duration
	POILimit        int
	LocationTimeout time.Duration
	LocationZoom    float64
}

// Deps are the collaborators. Surface and Directions are required; the rest
// may be nil, which disables the features that need them.
type Deps struct {
	Surface    mapsurface.Surface
	Directions directions.Provider
	Geocoder   *geocode.Gateway
	POIs       *poi.Store
	Routes     *routestore.Store
	Locator    locate.Locator
	Editor     POIEditor
	Notices    *notice.Board
	Metrics    *metrics.Collector
}

// Planner is the WaypointModeController. Unless a method says otherwise it
// must run on the loop.
type Planner struct {
	loop     *eventloop.Loop
	opts     Options
	surface  mapsurface.Surface
	store    *waypoint.Store
	routes   *route.Service
	markers  *marker.Manager
	layers   *layers.Manager
	loader   *poi.BoundsLoader
	geocoder *geocode.Gateway
	poiStore *poi.Store
	saved    *routestore.Store
	locator  locate.Locator
	editor   POIEditor
	notices  *notice.Board
	metrics  *metrics.Collector
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mode       Mode
	style      string
	pendingPOI *geo.Point
	centered   bool

	startSrc    geocode.CancelSource
	endSrc      geocode.CancelSource
	suggestSrc  geocode.CancelSource
	endpointSeq atomic.Uint64
}

// New builds a planner. Without an access token nothing may be rendered and
// New fails with a planerr.ErrConfiguration wrapping ErrNoToken.
func New(loop *eventloop.Loop, opts Options, deps Deps) (*Planner, error) {
	if strings.TrimSpace(opts.AccessToken) == "" {
		return nil, planerr.Configuration("planner", ErrNoToken)
	}
	if deps.Surface == nil || deps.Directions == nil {
		return nil, errors.New("planner: surface and directions provider are required")
	}
	if opts.LocationTimeout <= 0 {
		opts.LocationTimeout = defaultLocationTimeout
	}
	if opts.LocationZoom <= 0 {
		opts.LocationZoom = defaultLocationZoom
	}
	notices := deps.Notices
	if notices == nil {
		notices = notice.NewBoard(0)
	}

	p := &Planner{
		loop:     loop,
		opts:     opts,
		surface:  deps.Surface,
		store:    waypoint.NewStore(),
		geocoder: deps.Geocoder,
		poiStore: deps.POIs,
		saved:    deps.Routes,
		locator:  deps.Locator,
		editor:   deps.Editor,
		notices:  notices,
		metrics:  deps.Metrics,
		log:      logger.New("planner"),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	line := route.NewLine(deps.Surface, deps.Surface, opts.FitPadding)
	p.routes = route.NewService(loop, deps.Directions, line, notices, deps.Metrics)
	if opts.DefaultProfile != "" {
		p.routes.SetProfile(opts.DefaultProfile)
	}
	p.markers = marker.NewManager(deps.Surface, line, p.routes)
	p.layers = layers.NewManager(loop, deps.Surface, opts.Layers, deps.Metrics)
	if deps.POIs != nil {
		p.loader = poi.NewBoundsLoader(loop, deps.POIs, p.markers, notices, opts.POIDebounce, opts.POILimit, deps.Metrics)
	}
	return p, nil
}

// Start subscribes to the store and the surface and starts layer
// initialization. The returned future resolves when the custom layers are
// first initialized, or with a layer timeout.
func (p *Planner) Start() *layers.Future {
	// Markers subscribe before the route service so pins exist by the time a
	// route request goes out.
	p.unsubs = append(p.unsubs,
		p.markers.Attach(p.store),
		p.routes.Attach(p.store),
		p.store.Subscribe(p.onWaypoints),
		p.surface.Subscribe(p.onEvent),
	)
	// The route line goes back on top of the rebuilt terrain layers.
	p.layers.OnRebuilt(p.markers.ReattachAfterStyleReload)
	ready := p.layers.Start()
	if p.surface.Loaded() {
		p.centerOnDevice()
	}
	return ready
}

// Close stops background work and unsubscribes everything.
func (p *Planner) Close() {
	p.cancel()
	p.startSrc.Cancel()
	p.endSrc.Cancel()
	p.suggestSrc.Cancel()
	for _, fn := range p.unsubs {
		fn()
	}
	p.unsubs = nil
	p.layers.Close()
	if p.loader != nil {
		p.loader.Stop()
	}
}

func (p *Planner) onWaypoints(ch waypoint.Change) {
	p.metrics.SetWaypoints(len(ch.Waypoints))
	p.log.Debug("waypoints %s, now %d (generation %d)", ch.Kind, len(ch.Waypoints), ch.Generation)
}

func (p *Planner) onEvent(ev mapsurface.Event) {
	switch ev.Kind {
	case mapsurface.EventLoad:
		p.centerOnDevice()
	case mapsurface.EventStyleLoad:
		p.style = ev.Style
	case mapsurface.EventClick:
		if err := p.HandleMapClick(ev.Point); err != nil {
			p.log.Warn("click at %v: %v", ev.Point, err)
			p.notices.Report("add waypoint", err)
		}
	case mapsurface.EventMoveEnd:
		p.ViewportChanged(ev.Bounds)
	}
}

// centerOnDevice flies to the device position once, on the first map load.
// The camera is left alone when the user already started placing waypoints.
func (p *Planner) centerOnDevice() {
	if p.locator == nil || p.centered {
		return
	}
	p.centered = true
	if fix, ok := p.locator.Current(); ok {
		p.flyTo(fix)
		return
	}
	loc, timeout := p.locator, p.opts.LocationTimeout
	eventloop.Go(p.loop, func() (locate.Fix, error) {
		ctx, cancel := context.WithTimeout(p.ctx, timeout)
		defer cancel()
		fix, ok := loc.Wait(ctx)
		if !ok {
			return fix, ctx.Err()
		}
		return fix, nil
	}, func(fix locate.Fix, err error) {
		if err != nil {
			p.log.Debug("no device location: %v", err)
			return
		}
		p.flyTo(fix)
	})
}

func (p *Planner) flyTo(fix locate.Fix) {
	if p.store.Len() > 0 {
		p.log.Debug("waypoints present, not moving the camera to the device")
		return
	}
	p.log.Info("centering on device location %.5f,%.5f", fix.Point.Lat(), fix.Point.Lon())
	p.surface.FlyTo(fix.Point, p.opts.LocationZoom)
}

// Mode returns the active interaction mode.
func (p *Planner) Mode() Mode { return p.mode }

// SetMode switches the interaction mode. The waypoint list is never touched.
func (p *Planner) SetMode(m Mode) error {
	if !m.valid() {
		return planerr.Validation("mode", "unknown mode "+m.String())
	}
	if m != p.mode {
		p.log.Debug("mode %s -> %s", p.mode, m)
	}
	p.mode = m
	return nil
}

// HandleMapClick acts on a click according to the mode. In AddingPOI the
// editor is opened at p and the mode returns to Idle; in AddingWaypoints a
// waypoint is appended; Idle ignores the click.
func (p *Planner) HandleMapClick(pt geo.Point) error {
	if err := geo.Validate(pt); err != nil {
		return planerr.Validation("click", err.Error())
	}
	switch p.mode {
	case AddingWaypoints:
		_, err := p.store.Add(pt, waypoint.TypeWaypoint, "")
		return err
	case AddingPOI:
		p.mode = Idle
		at := pt
		p.pendingPOI = &at
		if p.editor != nil {
			p.editor.Open(pt)
		}
		return nil
	}
	return nil
}

// PendingPOI is the location picked for a POI whose editor is still open.
func (p *Planner) PendingPOI() (geo.Point, bool) {
	if p.pendingPOI == nil {
		return geo.Point{}, false
	}
	return *p.pendingPOI, true
}

// CancelPOI closes the editor without creating anything.
func (p *Planner) CancelPOI() { p.pendingPOI = nil }

// Clear empties the waypoint list. Markers and the route follow through the
// store's Cleared event; endpoint lookups still running are abandoned.
func (p *Planner) Clear() {
	p.endpointSeq.Add(1)
	p.startSrc.Cancel()
	p.endSrc.Cancel()
	p.store.Clear()
}

// SetProfile changes the travel profile by name.
func (p *Planner) SetProfile(name string) error {
	prof, err := directions.ParseProfile(name)
	if err != nil {
		return planerr.Validation("profile", err.Error())
	}
	p.routes.SetProfile(prof)
	return nil
}

// RemoveWaypoint removes one waypoint by id.
func (p *Planner) RemoveWaypoint(id string) error {
	return p.store.Remove(id)
}

// Reorder rearranges the waypoints; ids must list every waypoint once.
func (p *Planner) Reorder(ids []string) error {
	return p.store.Reorder(ids)
}

// AddPOIWaypoint appends the POI with id to the route.
func (p *Planner) AddPOIWaypoint(id int64) (waypoint.Waypoint, error) {
	if p.poiStore == nil {
		return waypoint.Waypoint{}, planerr.Configuration("poi", errors.New("no POI store configured"))
	}
	it, ok := p.poiStore.Get(id)
	if !ok {
		return waypoint.Waypoint{}, planerr.NotFound("poi", strconv.FormatInt(id, 10))
	}
	return p.store.Add(it.Point, waypoint.TypePOI, it.Name)
}

// ToggleLayer flips a custom layer, creating it visible when absent.
func (p *Planner) ToggleLayer(id string) error {
	return p.layers.Toggle(id)
}

// ChangeStyle swaps the map style. Layers, terrain and the route line are
// rebuilt when the new style reports loaded.
func (p *Planner) ChangeStyle(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return planerr.Validation("style", "style url is required")
	}
	p.log.Info("switching style to %s", url)
	return p.surface.SetStyle(url)
}

// ViewportChanged forwards a settled viewport to the POI loader.
func (p *Planner) ViewportChanged(b geo.Bounds) {
	if p.loader == nil {
		return
	}
	p.loader.OnViewportSettled(b)
}

// Recalculate re-requests the route for the current waypoints.
func (p *Planner) Recalculate() { p.routes.Recalculate() }

// Notices exposes the notice board. Safe from any goroutine.
func (p *Planner) Notices() *notice.Board { return p.notices }

// POIs returns the POI store, nil when none is configured.
func (p *Planner) POIs() *poi.Store { return p.poiStore }

// SavedRoutes returns the saved-route store, nil when none is configured.
func (p *Planner) SavedRoutes() *routestore.Store { return p.saved }

// State is a point-in-time view of the planner for clients.
type State struct {
	Mode         string              `json:"mode"`
	Profile      directions.Profile  `json:"profile"`
	Style        string              `json:"style"`
	Waypoints    []waypoint.Waypoint `json:"waypoints"`
	Route        *route.Route        `json:"route,omitempty"`
	Summary      *route.Summary      `json:"summary,omitempty"`
	RoutePending bool                `json:"routePending"`
	LayerState   string              `json:"layerState"`
	Layers       []layers.Status     `json:"layers"`
	PendingPOI   *geo.Point          `json:"pendingPoi,omitempty"`
	POIMarkers   int                 `json:"poiMarkers"`
	Location     *locate.Fix         `json:"location,omitempty"`
	Notices      []notice.Notice     `json:"notices"`
}

// Snapshot returns the current State.
func (p *Planner) Snapshot() State {
	s := State{
		Mode:         p.mode.String(),
		Profile:      p.routes.Profile(),
		Style:        p.style,
		Waypoints:    p.store.List(),
		Route:        p.routes.Current(),
		RoutePending: p.routes.Pending(),
		LayerState:   p.layers.State().String(),
		Layers:       p.layers.Statuses(),
		POIMarkers:   p.markers.POICount(),
		Notices:      p.notices.List(),
	}
	if s.Route != nil {
		sum := route.Summarize(s.Route)
		s.Summary = &sum
	}
	if pt, ok := p.PendingPOI(); ok {
		s.PendingPOI = &pt
	}
	if p.locator != nil {
		if fix, ok := p.locator.Current(); ok {
			s.Location = &fix
		}
	}
	return s
}
