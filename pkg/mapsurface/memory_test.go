package mapsurface

import (
	"errors"
	"testing"

	"github.com/rubiojr/wayplan/pkg/geo"
)

// syncPost runs scheduled work immediately, standing in for the loop.
func syncPost(fn func()) bool {
	fn()
	return true
}

func loadedSurface(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory("mapbox://styles/mapbox/outdoors-v12", syncPost)
	m.FinishLoading()
	return m
}

func TestEventsOnFirstLoad(t *testing.T) {
	m := NewMemory("style-a", syncPost)
	var kinds []EventKind
	m.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	if m.Loaded() {
		t.Fatal("new surface reports loaded")
	}
	m.FinishLoading()
	m.FinishLoading()

	if len(kinds) != 2 || kinds[0] != EventStyleLoad || kinds[1] != EventLoad {
		t.Errorf("events = %v, want [style.load load]", kinds)
	}
}

func TestAddBeforeStyleLoaded(t *testing.T) {
	m := NewMemory("style-a", syncPost)
	err := m.AddSource(SourceSpec{ID: "dem", Type: SourceRasterDEM})
	if !errors.Is(err, ErrStyleNotReady) {
		t.Errorf("AddSource error = %v, want ErrStyleNotReady", err)
	}
}

func TestLayerNeedsSource(t *testing.T) {
	m := loadedSurface(t)
	err := m.AddLayer(LayerSpec{ID: "hillshade", Type: LayerHillshade, Source: "dem"})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("AddLayer error = %v, want ErrNoSource", err)
	}
	if err := m.AddSource(SourceSpec{ID: "dem", Type: SourceRasterDEM}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(LayerSpec{ID: "hillshade", Type: LayerHillshade, Source: "dem"}); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(LayerSpec{ID: "hillshade", Type: LayerHillshade, Source: "dem"}); !errors.Is(err, ErrLayerExists) {
		t.Errorf("duplicate AddLayer error = %v, want ErrLayerExists", err)
	}
	if err := m.RemoveSource("dem"); err == nil {
		t.Error("removed a source still referenced by a layer")
	}
}

func TestSetStyleWipesStyleResourcesButKeepsMarkers(t *testing.T) {
	m := loadedSurface(t)
	must(t, m.AddSource(SourceSpec{ID: "dem", Type: SourceRasterDEM}))
	must(t, m.AddLayer(LayerSpec{ID: "hillshade", Type: LayerHillshade, Source: "dem"}))
	must(t, m.SetTerrain(&Terrain{Source: "dem", Exaggeration: 1.5}))
	must(t, m.AddMarker(MarkerSpec{ID: "wp-1", Point: geo.Pt(9.18, 48.77)}))

	var styleLoads int
	m.Subscribe(func(ev Event) {
		if ev.Kind == EventStyleLoad {
			styleLoads++
		}
	})

	var scheduled []func()
	m.post = func(fn func()) bool {
		scheduled = append(scheduled, fn)
		return true
	}
	must(t, m.SetStyle("style-b"))

	if m.Loaded() {
		t.Error("surface loaded immediately after style swap")
	}
	if m.HasSource("dem") || m.HasLayer("hillshade") || m.Terrain() != nil {
		t.Error("style swap kept custom sources, layers or terrain")
	}
	if !m.HasMarker("wp-1") {
		t.Error("style swap removed a marker")
	}

	for _, fn := range scheduled {
		fn()
	}
	if !m.Loaded() || styleLoads != 1 {
		t.Errorf("loaded=%v styleLoads=%d after completion", m.Loaded(), styleLoads)
	}
}

func TestMarkerLabelAndSnapshot(t *testing.T) {
	m := loadedSurface(t)
	must(t, m.AddMarker(MarkerSpec{ID: "b", Element: MarkerElement{Label: "B"}}))
	must(t, m.AddMarker(MarkerSpec{ID: "a", Element: MarkerElement{Label: "A"}}))
	must(t, m.SetMarkerLabel("b", "1"))

	if err := m.SetMarkerLabel("zzz", "x"); !errors.Is(err, ErrNoMarker) {
		t.Errorf("SetMarkerLabel on unknown marker: %v", err)
	}

	snap := m.Snapshot()
	if len(snap.Markers) != 2 || snap.Markers[0].ID != "a" || snap.Markers[1].Element.Label != "1" {
		t.Errorf("snapshot markers = %+v", snap.Markers)
	}
}

func TestCamera(t *testing.T) {
	m := loadedSurface(t)
	b := geo.NewBounds(9.1, 48.7, 9.3, 48.9)
	m.FitBounds(b, 40)
	snap := m.Snapshot()
	if snap.Fitted == nil || !geo.Equal(snap.Center, b.Center()) {
		t.Errorf("FitBounds not applied: %+v", snap)
	}
	m.FlyTo(geo.Pt(2.35, 48.85), 12)
	snap = m.Snapshot()
	if snap.Fitted != nil || snap.Zoom != 12 {
		t.Errorf("FlyTo not applied: %+v", snap)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
