// Package layers keeps the custom terrain layers alive across style reloads.
//
// Every style swap destroys custom sources, layers and the terrain binding.
// The manager walks NotLoaded → MapLoading → StyleReady → Initialized once,
// then drops back to StyleReady on each style.load and rebuilds everything
// from fresh specs, re-applying what the user turned on.
package layers

import (
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/wayplan/pkg/eventloop"
	"github.com/rubiojr/wayplan/pkg/logger"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/metrics"
	"github.com/rubiojr/wayplan/pkg/planerr"
)

const (
	DEMSourceID      = "mapbox-dem"
	DEMSourceURL     = "mapbox://mapbox.mapbox-terrain-dem-v1"
	TerrainSourceID  = "mapbox-terrain"
	TerrainSourceURL = "mapbox://mapbox.mapbox-terrain-v2"

	Hillshade = "hillshade-layer"
	Contours  = "contour-layer"
	Terrain3D = "terrain-3d"
)

var (
	ErrLayerBusy    = errors.New("layer toggle already in progress")
	ErrUnknownLayer = errors.New("unknown layer")
)

// IDs lists the toggleable features.
var IDs = []string{Hillshade, Contours, Terrain3D}

func known(id string) bool {
	for _, k := range IDs {
		if k == id {
			return true
		}
	}
	return false
}

// State is the lifecycle position of the layer set.
type State int

const (
	NotLoaded State = iota
	MapLoading
	StyleReady
	Initialized
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not-loaded"
	case MapLoading:
		return "map-loading"
	case StyleReady:
		return "style-ready"
	case Initialized:
		return "initialized"
	}
	return "unknown"
}

// Options tunes readiness waiting and terrain.
type Options struct {
	ReadyAttempts  int
	ReadyBaseDelay time.Duration
	SlowInterval   time.Duration
	Exaggeration   float64
}

// DefaultOptions waits 0.5s, 1s, ... for five attempts, then every 10s.
func DefaultOptions() Options {
	return Options{
		ReadyAttempts:  5,
		ReadyBaseDelay: 500 * time.Millisecond,
		SlowInterval:   10 * time.Second,
		Exaggeration:   1.5,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = d.ReadyAttempts
	}
	if o.ReadyBaseDelay <= 0 {
		o.ReadyBaseDelay = d.ReadyBaseDelay
	}
	if o.SlowInterval <= 0 {
		o.SlowInterval = d.SlowInterval
	}
	if o.Exaggeration <= 0 {
		o.Exaggeration = d.Exaggeration
	}
}

// Surface is what the manager needs from the map.
type Surface interface {
	mapsurface.Lifecycle
	mapsurface.Layers
}

// Status describes one toggleable feature.
type Status struct {
	ID string `json:"id"`
	Presence
	Pending bool `json:"pending"`
}

// Manager owns the terrain feature set. All methods run on the loop.
type Manager struct {
	loop    *eventloop.Loop
	surface Surface
	opts    Options
	metrics *metrics.Collector
	log     *logger.Logger

	state     State
	ready     *Future
	attempt   int
	stopWatch func() bool
	unsub     func()

	intent    map[string]bool
	busy      map[string]bool
	deferred  []string
	onRebuilt []func()
}

// NewManager returns a manager in NotLoaded. m may be nil.
func NewManager(loop *eventloop.Loop, s Surface, opts Options, m *metrics.Collector) *Manager {
	opts.applyDefaults()
	return &Manager{
		loop:    loop,
		surface: s,
		opts:    opts,
		metrics: m,
		log:     logger.New("layers"),
		ready:   newFuture(),
		intent:  make(map[string]bool),
		busy:    make(map[string]bool),
	}
}

// Start subscribes to the map and begins waiting for it. The returned
// future resolves when the map is ready or the bounded wait runs out.
func (m *Manager) Start() *Future {
	if m.state != NotLoaded {
		return m.ready
	}
	m.state = MapLoading
	m.unsub = m.surface.Subscribe(m.onEvent)
	if m.surface.Loaded() {
		m.mapReady()
	} else {
		m.watch()
	}
	return m.ready
}

// OnRebuilt registers fn to run after the custom layers were rebuilt for a
// reloaded style. Layers added by fn stack above the terrain layers.
func (m *Manager) OnRebuilt(fn func()) { m.onRebuilt = append(m.onRebuilt, fn) }

// Ready returns the readiness future.
func (m *Manager) Ready() *Future { return m.ready }

// State returns the lifecycle position.
func (m *Manager) State() State { return m.state }

// Close stops listening to the map.
func (m *Manager) Close() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// watch re-checks readiness after base*attempt for the first attempts, then
// at the slow interval.
func (m *Manager) watch() {
	m.attempt++
	delay := m.opts.SlowInterval
	if m.attempt <= m.opts.ReadyAttempts {
		delay = m.opts.ReadyBaseDelay * time.Duration(m.attempt)
	}
	m.stopWatch = m.loop.After(delay, func() {
		m.stopWatch = nil
		if m.state != MapLoading {
			return
		}
		if m.surface.Loaded() {
			m.mapReady()
			return
		}
		if m.attempt == m.opts.ReadyAttempts {
			err := planerr.LayerTimeout(m.attempt)
			m.log.Warn("%v, checking every %s", err, m.opts.SlowInterval)
			m.metrics.LayerTimeout()
			m.ready.resolve(err)
		}
		m.watch()
	})
}

func (m *Manager) onEvent(ev mapsurface.Event) {
	switch ev.Kind {
	case mapsurface.EventLoad:
		if m.state == MapLoading {
			m.mapReady()
		}
	case mapsurface.EventStyleLoad:
		switch m.state {
		case MapLoading:
			m.mapReady()
		case StyleReady, Initialized:
			if m.state == Initialized {
				m.metrics.StyleReloaded()
			}
			m.log.Debug("style %s loaded, rebuilding layers", ev.Style)
			m.state = StyleReady
			m.initialize()
			if m.surface.Loaded() {
				for _, fn := range m.onRebuilt {
					fn()
				}
			}
		}
	}
}

func (m *Manager) mapReady() {
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	m.ready.resolve(nil)
	m.state = StyleReady
	m.initialize()
}

// initialize creates whatever is missing on the current style. Running it
// twice is a no-op.
func (m *Manager) initialize() {
	if m.state != StyleReady || !m.surface.Loaded() {
		return
	}
	if err := m.ensureBase(); err != nil {
		if errors.Is(err, mapsurface.ErrStyleNotReady) {
			m.log.Debug("style changed during init, waiting for style.load")
			return
		}
		m.log.Error("initialize layers: %v", err)
		return
	}
	m.state = Initialized
	m.metrics.LayerInitialized()
	m.log.Info("layers initialized")
	m.flushDeferred()
}

func (m *Manager) ensureBase() error {
	if err := m.ensureSource(demSource()); err != nil {
		return err
	}
	if err := m.ensureSource(terrainSource()); err != nil {
		return err
	}
	for _, id := range []string{Hillshade, Contours} {
		if m.surface.HasLayer(id) {
			continue
		}
		if err := m.surface.AddLayer(layerSpec(id, m.intent[id])); err != nil {
			return fmt.Errorf("add layer %s: %w", id, err)
		}
	}
	if m.intent[Terrain3D] && m.surface.Terrain() == nil {
		return m.surface.SetTerrain(m.terrain())
	}
	return nil
}

func (m *Manager) ensureSource(spec mapsurface.SourceSpec) error {
	if m.surface.HasSource(spec.ID) {
		return nil
	}
	if err := m.surface.AddSource(spec); err != nil {
		return fmt.Errorf("add source %s: %w", spec.ID, err)
	}
	return nil
}

func demSource() mapsurface.SourceSpec {
	return mapsurface.SourceSpec{
		ID:       DEMSourceID,
		Type:     mapsurface.SourceRasterDEM,
		URL:      DEMSourceURL,
		TileSize: 512,
		MaxZoom:  14,
	}
}

func terrainSource() mapsurface.SourceSpec {
	return mapsurface.SourceSpec{ID: TerrainSourceID, Type: mapsurface.SourceVector, URL: TerrainSourceURL}
}

func layerSpec(id string, visible bool) mapsurface.LayerSpec {
	if id == Hillshade {
		return mapsurface.LayerSpec{
			ID:      Hillshade,
			Type:    mapsurface.LayerHillshade,
			Source:  DEMSourceID,
			Visible: visible,
			Paint: map[string]any{
				"hillshade-exaggeration": 0.5,
				"hillshade-shadow-color": "#473B24",
			},
		}
	}
	return mapsurface.LayerSpec{
		ID:          Contours,
		Type:        mapsurface.LayerLine,
		Source:      TerrainSourceID,
		SourceLayer: "contour",
		Visible:     visible,
		Layout:      map[string]any{"line-join": "round", "line-cap": "round"},
		Paint: map[string]any{
			"line-color":   "#877b59",
			"line-width":   1,
			"line-opacity": 0.5,
		},
	}
}

func (m *Manager) terrain() *mapsurface.Terrain {
	return &mapsurface.Terrain{Source: DEMSourceID, Exaggeration: m.opts.Exaggeration}
}

// Toggle flips a feature. Before the layers are initialized the toggle is
// deferred and holds the feature's in-flight flag; a second toggle of the
// same feature meanwhile fails with ErrLayerBusy.
func (m *Manager) Toggle(id string) error {
	if !known(id) {
		return fmt.Errorf("%w: %s", ErrUnknownLayer, id)
	}
	if m.busy[id] {
		return fmt.Errorf("%w: %s", ErrLayerBusy, id)
	}
	if m.state != Initialized || !m.surface.Loaded() {
		m.busy[id] = true
		m.deferred = append(m.deferred, id)
		m.log.Debug("toggle %s deferred (%s)", id, m.state)
		return nil
	}
	return m.apply(id)
}

func (m *Manager) apply(id string) error {
	from := m.presence(id)
	to := Toggle(from)
	if err := m.transition(id, from, to); err != nil {
		return err
	}
	m.intent[id] = to.Visible
	m.log.Debug("%s visible=%t", id, to.Visible)
	return nil
}

func (m *Manager) transition(id string, from, to Presence) error {
	if id == Terrain3D {
		if !to.Visible {
			return m.surface.SetTerrain(nil)
		}
		if err := m.ensureSource(demSource()); err != nil {
			return err
		}
		return m.surface.SetTerrain(m.terrain())
	}
	if !from.Present {
		if err := m.ensureSource(sourceFor(id)); err != nil {
			return err
		}
		return m.surface.AddLayer(layerSpec(id, to.Visible))
	}
	return m.surface.SetLayerVisibility(id, to.Visible)
}

func sourceFor(id string) mapsurface.SourceSpec {
	if id == Contours {
		return terrainSource()
	}
	return demSource()
}

func (m *Manager) flushDeferred() {
	pending := m.deferred
	m.deferred = nil
	for _, id := range pending {
		delete(m.busy, id)
		if err := m.apply(id); err != nil {
			m.log.Error("deferred toggle %s: %v", id, err)
		}
	}
}

// presence reads a feature's state from the surface. Terrain is present
// exactly when it is shown.
func (m *Manager) presence(id string) Presence {
	if id == Terrain3D {
		if m.surface.Terrain() != nil {
			return PresentShown
		}
		return Absent
	}
	visible, ok := m.surface.LayerVisible(id)
	return Presence{Present: ok, Visible: ok && visible}
}

// Visible reports whether the user wants id shown.
func (m *Manager) Visible(id string) bool { return m.intent[id] }

// Statuses describes every feature in IDs order.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(IDs))
	for _, id := range IDs {
		out = append(out, Status{ID: id, Presence: m.presence(id), Pending: m.busy[id]})
	}
	return out
}
