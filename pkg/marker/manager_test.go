package marker

import (
	"errors"
	"testing"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/mapsurface"
	"github.com/rubiojr/wayplan/pkg/poi"
	"github.com/rubiojr/wayplan/pkg/waypoint"
)

type fakeLine struct {
	cached bool
	err    error
	calls  int
}

func (f *fakeLine) Reattach() (bool, error) {
	f.calls++
	return f.cached, f.err
}

type fakeRecalc struct{ calls int }

func (f *fakeRecalc) Recalculate() { f.calls++ }

type fixture struct {
	surface *mapsurface.Memory
	store   *waypoint.Store
	line    *fakeLine
	recalc  *fakeRecalc
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		surface: mapsurface.NewMemory("style-a", nil),
		store:   waypoint.NewStore(),
		line:    &fakeLine{},
		recalc:  &fakeRecalc{},
	}
	f.surface.FinishLoading()
	f.mgr = NewManager(f.surface, f.line, f.recalc)
	f.mgr.Attach(f.store)
	return f
}

func (f *fixture) add(t *testing.T, lon, lat float64) waypoint.Waypoint {
	t.Helper()
	wp, err := f.store.Add(geo.Pt(lon, lat), waypoint.TypeWaypoint, "")
	if err != nil {
		t.Fatal(err)
	}
	return wp
}

func (f *fixture) labels() map[string]string {
	out := map[string]string{}
	for _, mk := range f.surface.Snapshot().Markers {
		if mk.Element.Kind == mapsurface.MarkerWaypoint {
			out[mk.ID] = mk.Element.Label
		}
	}
	return out
}

func TestMarkersFollowWaypoints(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, 9.1, 48.1)
	b := f.add(t, 9.2, 48.2)
	c := f.add(t, 9.3, 48.3)

	want := map[string]string{a.ID: "A", b.ID: "1", c.ID: "B"}
	got := f.labels()
	if len(got) != 3 {
		t.Fatalf("markers = %v", got)
	}
	for id, label := range want {
		if got[id] != label {
			t.Errorf("marker %s label = %q, want %q", id, got[id], label)
		}
	}

	if err := f.store.Remove(b.ID); err != nil {
		t.Fatal(err)
	}
	got = f.labels()
	if len(got) != 2 || got[a.ID] != "A" || got[c.ID] != "B" {
		t.Errorf("after remove = %v", got)
	}
	if f.surface.HasMarker(b.ID) {
		t.Error("removed waypoint kept its marker")
	}
}

func TestPinStyling(t *testing.T) {
	f := newFixture(t)
	f.add(t, 9.1, 48.1)
	mk := f.surface.Snapshot().Markers[0]
	if mk.Element.Color != PinColor || mk.Element.Rotation != -45 || mk.Element.LabelRotation != 45 {
		t.Errorf("pin element = %+v", mk.Element)
	}
}

func TestReorderRelabelsInPlace(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, 9.1, 48.1)
	b := f.add(t, 9.2, 48.2)
	before := f.surface.Snapshot().Markers

	if err := f.store.Reorder([]string{b.ID, a.ID}); err != nil {
		t.Fatal(err)
	}
	got := f.labels()
	if got[b.ID] != "A" || got[a.ID] != "B" {
		t.Errorf("labels after reorder = %v", got)
	}
	after := f.surface.Snapshot().Markers
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Point != after[i].Point {
			t.Errorf("marker %d re-created or moved: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestClearAndReplace(t *testing.T) {
	f := newFixture(t)
	f.add(t, 9.1, 48.1)
	f.add(t, 9.2, 48.2)

	f.store.Clear()
	if n := len(f.labels()); n != 0 || f.mgr.Count() != 0 {
		t.Errorf("after clear: %d markers, count %d", n, f.mgr.Count())
	}

	if err := f.store.Replace([]geo.Point{geo.Pt(1, 1), geo.Pt(2, 2), geo.Pt(3, 3)}, nil); err != nil {
		t.Fatal(err)
	}
	got := f.labels()
	if len(got) != 3 {
		t.Errorf("after replace = %v", got)
	}
	var seen []string
	for _, wp := range f.store.List() {
		seen = append(seen, got[wp.ID])
	}
	if seen[0] != "A" || seen[1] != "1" || seen[2] != "B" {
		t.Errorf("replace labels = %v", seen)
	}
}

func TestMarkersSurviveStyleReload(t *testing.T) {
	f := newFixture(t)
	f.add(t, 9.1, 48.1)
	f.add(t, 9.2, 48.2)
	if err := f.surface.SetStyle("style-b"); err != nil {
		t.Fatal(err)
	}
	f.line.cached = true
	f.mgr.ReattachAfterStyleReload()
	if n := len(f.labels()); n != 2 {
		t.Errorf("%d markers after reload, want 2", n)
	}
	if f.line.calls != 1 || f.recalc.calls != 0 {
		t.Errorf("reattach calls = %d, recalc calls = %d", f.line.calls, f.recalc.calls)
	}
}

func TestReattachRecalculatesOnlyWithoutCache(t *testing.T) {
	tests := []struct {
		name      string
		waypoints int
		cached    bool
		err       error
		want      int
	}{
		{"cached line", 2, true, nil, 0},
		{"no cache, two waypoints", 2, false, nil, 1},
		{"no cache, one waypoint", 1, false, nil, 0},
		{"reattach failed", 2, false, errors.New("boom"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for i := 0; i < tt.waypoints; i++ {
				f.add(t, 9+float64(i)*0.1, 48)
			}
			f.line.cached, f.line.err = tt.cached, tt.err
			f.mgr.ReattachAfterStyleReload()
			if f.recalc.calls != tt.want {
				t.Errorf("Recalculate called %d times, want %d", f.recalc.calls, tt.want)
			}
		})
	}
}

func TestReattachRestoresLostMarker(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, 9.1, 48.1)
	if err := f.surface.RemoveMarker(a.ID); err != nil {
		t.Fatal(err)
	}
	f.mgr.ReattachAfterStyleReload()
	if !f.surface.HasMarker(a.ID) {
		t.Error("lost marker not restored")
	}
}

func TestReplacePOIs(t *testing.T) {
	f := newFixture(t)
	wp := f.add(t, 9.1, 48.1)

	f.mgr.ReplacePOIs([]poi.POI{
		{ID: 1, Point: geo.Pt(9.2, 48.2), Category: poi.Fuel, Name: "Aral"},
		{ID: 2, Point: geo.Pt(9.3, 48.3), Category: poi.Water, Name: "Spring"},
	})
	if f.mgr.POICount() != 2 || !f.surface.HasMarker("poi-1") {
		t.Fatalf("POI markers = %d", f.mgr.POICount())
	}

	f.mgr.ReplacePOIs([]poi.POI{{ID: 3, Point: geo.Pt(9.4, 48.4), Category: poi.Camping, Name: "Camp"}})
	if f.surface.HasMarker("poi-1") || f.surface.HasMarker("poi-2") {
		t.Error("previous POI markers kept")
	}
	if !f.surface.HasMarker("poi-3") || !f.surface.HasMarker(wp.ID) {
		t.Error("new POI marker or waypoint marker missing")
	}
	for _, mk := range f.surface.Snapshot().Markers {
		if mk.ID == "poi-3" && mk.Element.Color != poi.StyleOf(poi.Camping).Color {
			t.Errorf("POI color = %s", mk.Element.Color)
		}
	}
}
