package mapsurface

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// Memory is an in-process Surface. It behaves like the browser renderer it
// mirrors: style swaps wipe custom sources, layers and terrain, then report
// readiness asynchronously; markers are untouched.
type Memory struct {
	mu          sync.Mutex
	post        func(func()) bool
	style       string
	styleLoaded bool
	everLoaded  bool

	sources    map[string]SourceSpec
	layers     map[string]LayerSpec
	layerOrder []string
	terrain    *Terrain
	markers    map[string]MarkerSpec

	center geo.Point
	zoom   float64
	fitted *geo.Bounds

	subs   map[int]func(Event)
	nextID int
}

// NewMemory creates a surface with the given initial style. post schedules
// asynchronous completions (normally eventloop.Loop.Post). The surface starts
// out loading; call FinishLoading to simulate the renderer becoming ready.
func NewMemory(style string, post func(func()) bool) *Memory {
	return &Memory{
		post:    post,
		style:   style,
		sources: make(map[string]SourceSpec),
		layers:  make(map[string]LayerSpec),
		markers: make(map[string]MarkerSpec),
		subs:    make(map[int]func(Event)),
		zoom:    2,
	}
}

func (m *Memory) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Memory) emit(ev Event) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (m *Memory) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.styleLoaded
}

// FinishLoading marks the current style as loaded and fires style.load, plus
// load the first time. Call it on the loop.
func (m *Memory) FinishLoading() {
	m.mu.Lock()
	if m.styleLoaded {
		m.mu.Unlock()
		return
	}
	m.styleLoaded = true
	first := !m.everLoaded
	m.everLoaded = true
	style := m.style
	m.mu.Unlock()

	m.emit(Event{Kind: EventStyleLoad, Style: style})
	if first {
		m.emit(Event{Kind: EventLoad, Style: style})
	}
}

// SetStyle swaps the style. Every custom source, layer and the terrain
// binding are destroyed immediately; style.load fires on a later loop turn.
func (m *Memory) SetStyle(url string) error {
	if url == "" {
		return fmt.Errorf("empty style url")
	}
	m.mu.Lock()
	m.style = url
	m.styleLoaded = false
	m.sources = make(map[string]SourceSpec)
	m.layers = make(map[string]LayerSpec)
	m.layerOrder = nil
	m.terrain = nil
	m.mu.Unlock()

	if m.post == nil || !m.post(m.FinishLoading) {
		m.FinishLoading()
	}
	return nil
}

// Click delivers a click at p to subscribers.
func (m *Memory) Click(p geo.Point) {
	m.emit(Event{Kind: EventClick, Point: p})
}

// MoveEnd delivers a settled viewport to subscribers.
func (m *Memory) MoveEnd(b geo.Bounds) {
	m.emit(Event{Kind: EventMoveEnd, Bounds: b})
}

func (m *Memory) HasSource(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

func (m *Memory) AddSource(spec SourceSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.styleLoaded {
		return ErrStyleNotReady
	}
	if _, ok := m.sources[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, spec.ID)
	}
	m.sources[spec.ID] = spec
	return nil
}

func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSource, id)
	}
	for _, l := range m.layers {
		if l.Source == id {
			return fmt.Errorf("source %s is used by layer %s", id, l.ID)
		}
	}
	delete(m.sources, id)
	return nil
}

func (m *Memory) SetSourceData(id string, data *geojson.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSource, id)
	}
	src.Data = data
	m.sources[id] = src
	return nil
}

func (m *Memory) HasLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.layers[id]
	return ok
}

func (m *Memory) AddLayer(spec LayerSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.styleLoaded {
		return ErrStyleNotReady
	}
	if _, ok := m.layers[spec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrLayerExists, spec.ID)
	}
	if _, ok := m.sources[spec.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSource, spec.Source)
	}
	m.layers[spec.ID] = spec
	m.layerOrder = append(m.layerOrder, spec.ID)
	return nil
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoLayer, id)
	}
	delete(m.layers, id)
	for i, lid := range m.layerOrder {
		if lid == id {
			m.layerOrder = append(m.layerOrder[:i], m.layerOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) LayerVisible(id string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[id]
	return l.Visible, ok
}

func (m *Memory) SetLayerVisibility(id string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLayer, id)
	}
	l.Visible = visible
	m.layers[id] = l
	return nil
}

func (m *Memory) SetTerrain(t *Terrain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		m.terrain = nil
		return nil
	}
	if !m.styleLoaded {
		return ErrStyleNotReady
	}
	if _, ok := m.sources[t.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSource, t.Source)
	}
	cp := *t
	m.terrain = &cp
	return nil
}

func (m *Memory) Terrain() *Terrain {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terrain == nil {
		return nil
	}
	cp := *m.terrain
	return &cp
}

func (m *Memory) AddMarker(spec MarkerSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[spec.ID] = spec
	return nil
}

func (m *Memory) SetMarkerLabel(id, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoMarker, id)
	}
	mk.Element.Label = label
	m.markers[id] = mk
	return nil
}

func (m *Memory) RemoveMarker(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoMarker, id)
	}
	delete(m.markers, id)
	return nil
}

func (m *Memory) HasMarker(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.markers[id]
	return ok
}

func (m *Memory) FlyTo(center geo.Point, zoom float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = center
	m.zoom = zoom
	m.fitted = nil
}

func (m *Memory) FitBounds(b geo.Bounds, padding int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = b.Center()
	m.fitted = &b
}

// Snapshot is the renderer-visible state, suitable for JSON.
type Snapshot struct {
	Style       string       `json:"style"`
	StyleLoaded bool         `json:"styleLoaded"`
	Sources     []SourceSpec `json:"sources"`
	Layers      []LayerSpec  `json:"layers"`
	Terrain     *Terrain     `json:"terrain,omitempty"`
	Markers     []MarkerSpec `json:"markers"`
	Center      geo.Point    `json:"center"`
	Zoom        float64      `json:"zoom"`
	Fitted      *geo.Bounds  `json:"fitted,omitempty"`
}

// Snapshot copies the current state. Sources and markers are sorted by id;
// layers keep their stacking order.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Style:       m.style,
		StyleLoaded: m.styleLoaded,
		Center:      m.center,
		Zoom:        m.zoom,
		Sources:     make([]SourceSpec, 0, len(m.sources)),
		Layers:      make([]LayerSpec, 0, len(m.layerOrder)),
		Markers:     make([]MarkerSpec, 0, len(m.markers)),
	}
	for _, src := range m.sources {
		s.Sources = append(s.Sources, src)
	}
	sort.Slice(s.Sources, func(i, j int) bool { return s.Sources[i].ID < s.Sources[j].ID })
	for _, id := range m.layerOrder {
		s.Layers = append(s.Layers, m.layers[id])
	}
	for _, mk := range m.markers {
		s.Markers = append(s.Markers, mk)
	}
	sort.Slice(s.Markers, func(i, j int) bool { return s.Markers[i].ID < s.Markers[j].ID })
	if m.terrain != nil {
		t := *m.terrain
		s.Terrain = &t
	}
	if m.fitted != nil {
		b := *m.fitted
		s.Fitted = &b
	}
	return s
}

// SourceData returns the GeoJSON currently held by source id.
func (m *Memory) SourceData(id string) (*geojson.Feature, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return src.Data, true
}

var _ Surface = (*Memory)(nil)
