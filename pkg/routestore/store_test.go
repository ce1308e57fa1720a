package routestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/rubiojr/wayplan/pkg/directions"
	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/planerr"
)

func sample() Record {
	return Record{
		UserID:  "alice",
		Name:    " Black Forest loop ",
		Profile: directions.Cycling,
		Waypoints: []Waypoint{
			{Point: geo.Pt(8.123456789, 48.1), Label: "A", Name: "Start"},
			{Point: geo.Pt(8.2, 48.2), Label: "1"},
			{Point: geo.Pt(8.3, 48.3), Label: "B"},
		},
		Geometry:        []geo.Point{geo.Pt(8.123456789, 48.1), geo.Pt(8.15, 48.15), geo.Pt(8.2, 48.2), geo.Pt(8.3, 48.3)},
		DistanceMeters:  31250,
		DurationSeconds: 5400,
	}
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "routes.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := s.Save(ctx, sample())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID == 0 || saved.Name != "Black Forest loop" || saved.Difficulty != Moderate {
		t.Errorf("saved = %+v", saved)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "alice", saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Profile != directions.Cycling {
		t.Errorf("profile = %s", got.Profile)
	}
	want := sample()
	if len(got.Waypoints) != len(want.Waypoints) {
		t.Fatalf("waypoints = %+v", got.Waypoints)
	}
	for i := range want.Waypoints {
		if got.Waypoints[i].Point != want.Waypoints[i].Point || got.Waypoints[i].Label != want.Waypoints[i].Label {
			t.Errorf("waypoint %d = %+v, want %+v", i, got.Waypoints[i], want.Waypoints[i])
		}
	}
	if len(got.Geometry) != len(want.Geometry) || got.Geometry[0] != want.Geometry[0] {
		t.Errorf("geometry = %v", got.Geometry)
	}
	if got.DistanceMeters != want.DistanceMeters || got.DurationSeconds != want.DurationSeconds {
		t.Errorf("summary = %v m, %v s", got.DistanceMeters, got.DurationSeconds)
	}
}

func TestSaveValidation(t *testing.T) {
	s := openMemory(t)
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"no user", func(r *Record) { r.UserID = "" }},
		{"no name", func(r *Record) { r.Name = "  " }},
		{"one waypoint", func(r *Record) { r.Waypoints = r.Waypoints[:1] }},
		{"bad profile", func(r *Record) { r.Profile = "flying" }},
		{"bad coordinates", func(r *Record) { r.Waypoints[1].Point = geo.Pt(0, 95) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sample()
			tt.mutate(&rec)
			if _, err := s.Save(context.Background(), rec); !errors.Is(err, planerr.ErrValidation) {
				t.Errorf("Save = %v, want ValidationError", err)
			}
		})
	}
}

func TestDuplicateAndOwnership(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	first, err := s.Save(ctx, sample())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, sample()); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second save = %v, want ErrDuplicate", err)
	}

	other := sample()
	other.UserID = "bob"
	if _, err := s.Save(ctx, other); err != nil {
		t.Errorf("same route for another user: %v", err)
	}
	renamed := sample()
	renamed.Name = "Black Forest loop, reversed"
	if _, err := s.Save(ctx, renamed); err != nil {
		t.Errorf("renamed route: %v", err)
	}

	list, err := s.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("alice has %d routes, want 2", len(list))
	}
	if _, err := s.Get(ctx, "bob", first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("bob read alice's route: %v", err)
	}
	if err := s.Delete(ctx, "bob", first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("bob deleted alice's route: %v", err)
	}
	if err := s.Delete(ctx, "alice", first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "alice", first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestGPXExport(t *testing.T) {
	rec := sample()
	rec.Name = "Loop"
	path := filepath.Join(t.TempDir(), "loop.gpx")
	if err := WriteGPX(path, rec); err != nil {
		t.Fatalf("WriteGPX: %v", err)
	}
	doc, err := gpx.ParseFile(path)
	if err != nil {
		t.Fatalf("parse exported gpx: %v", err)
	}
	if len(doc.Waypoints) != 3 || doc.Waypoints[0].Name != "A Start" || doc.Waypoints[2].Name != "B" {
		t.Errorf("waypoints = %+v", doc.Waypoints)
	}
	if len(doc.Routes) != 1 || len(doc.Routes[0].Points) != 3 {
		t.Errorf("routes = %+v", doc.Routes)
	}
	if len(doc.Tracks) != 1 || len(doc.Tracks[0].Segments[0].Points) != 4 {
		t.Fatalf("tracks = %+v", doc.Tracks)
	}
	p := doc.Tracks[0].Segments[0].Points[1]
	if !geo.Equal(geo.Pt(p.Longitude, p.Latitude), geo.Pt(8.15, 48.15)) {
		t.Errorf("track point = %v,%v", p.Longitude, p.Latitude)
	}
}

func TestDedupe(t *testing.T) {
	in := []Waypoint{
		{Point: geo.Pt(1, 1), Label: "A"},
		{Point: geo.Pt(1.0000001, 1), Label: "1"},
		{Point: geo.Pt(2, 2), Label: "2"},
		{Point: geo.Pt(1, 1), Label: "B"},
	}
	out := Dedupe(in)
	if len(out) != 3 || out[0].Label != "A" || out[2].Label != "B" {
		t.Errorf("Dedupe = %+v", out)
	}
	if fingerprint("Loop", in[:1]) != fingerprint(" loop ", in[1:2]) {
		t.Error("fingerprint should ignore case, padding and sub-precision noise")
	}
}
