package waypoint

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rubiojr/wayplan/pkg/geo"
)

func TestLabels(t *testing.T) {
	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{}},
		{1, []string{"A"}},
		{2, []string{"A", "B"}},
		{3, []string{"A", "1", "B"}},
		{5, []string{"A", "1", "2", "3", "B"}},
	}
	for _, tt := range tests {
		if got := Labels(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Labels(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func labelsOf(wps []Waypoint) []string {
	out := make([]string, len(wps))
	for i, wp := range wps {
		out[i] = wp.Label
	}
	return out
}

func TestAddRelabels(t *testing.T) {
	s := NewStore()
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	for i := 0; i < 4; i++ {
		if _, err := s.Add(geo.Pt(9.18+float64(i)*0.01, 48.77), TypeWaypoint, ""); err != nil {
			t.Fatal(err)
		}
	}

	if got := labelsOf(s.List()); !reflect.DeepEqual(got, []string{"A", "1", "2", "B"}) {
		t.Errorf("labels = %v", got)
	}
	if len(changes) != 4 {
		t.Fatalf("got %d changes, want 4", len(changes))
	}
	last := changes[3]
	if last.Kind != Added || last.Generation != 4 || len(last.Waypoints) != 4 {
		t.Errorf("last change = %+v", last)
	}
	if last.Affected[0].Label != "B" {
		t.Errorf("added waypoint label = %q, want B", last.Affected[0].Label)
	}
}

func TestAddRejectsInvalidPoint(t *testing.T) {
	s := NewStore()
	if _, err := s.Add(geo.Pt(200, 0), TypeWaypoint, ""); err == nil {
		t.Fatal("accepted out-of-range point")
	}
	if s.Len() != 0 || s.Generation() != 0 {
		t.Error("failed add mutated the store")
	}
}

func TestRemoveAndReorder(t *testing.T) {
	s := NewStore()
	a, _ := s.Add(geo.Pt(1, 1), TypeWaypoint, "")
	b, _ := s.Add(geo.Pt(2, 2), TypeWaypoint, "")
	c, _ := s.Add(geo.Pt(3, 3), TypeWaypoint, "")

	if err := s.Reorder([]string{c.ID, a.ID, b.ID}); err != nil {
		t.Fatal(err)
	}
	got := s.List()
	if got[0].ID != c.ID || got[0].Label != "A" || got[2].ID != b.ID || got[2].Label != "B" {
		t.Errorf("after reorder: %+v", got)
	}

	if err := s.Reorder([]string{a.ID, a.ID, b.ID}); !errors.Is(err, ErrBadOrdering) {
		t.Errorf("duplicate id reorder error = %v", err)
	}

	if err := s.Remove(a.ID); err != nil {
		t.Fatal(err)
	}
	if got := labelsOf(s.List()); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("labels after remove = %v", got)
	}
	if err := s.Remove(a.ID); !errors.Is(err, ErrUnknownID) {
		t.Errorf("second remove error = %v", err)
	}
}

func TestClearAndReplace(t *testing.T) {
	s := NewStore()
	s.Add(geo.Pt(1, 1), TypeWaypoint, "")
	s.Add(geo.Pt(2, 2), TypeWaypoint, "")

	var last Change
	s.Subscribe(func(c Change) { last = c })

	s.Clear()
	if s.Len() != 0 || last.Kind != Cleared || len(last.Affected) != 2 {
		t.Errorf("clear change = %+v", last)
	}

	if err := s.Replace([]geo.Point{geo.Pt(5, 5), geo.Pt(6, 6), geo.Pt(7, 7)}, []string{"home"}); err != nil {
		t.Fatal(err)
	}
	got := s.List()
	if len(got) != 3 || got[0].Name != "home" || got[1].Label != "1" || last.Kind != Replaced {
		t.Errorf("after replace: %+v (change %v)", got, last.Kind)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := NewStore()
	calls := 0
	unsub := s.Subscribe(func(Change) { calls++ })
	s.Add(geo.Pt(1, 1), TypeWaypoint, "")
	unsub()
	s.Add(geo.Pt(2, 2), TypeWaypoint, "")
	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}
