package directions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rubiojr/wayplan/pkg/geo"
	"github.com/rubiojr/wayplan/pkg/planerr"
)

const okBody = `{
  "code": "Ok",
  "routes": [{
    "distance": 3712.4,
    "duration": 421.9,
    "geometry": {"type": "LineString", "coordinates": [[9.18, 48.77], [9.19, 48.785], [9.2, 48.8]]},
    "legs": [{"steps": [
      {"maneuver": {"instruction": "Head north"}},
      {"maneuver": {"instruction": "You have arrived"}}
    ]}]
  }]
}`

func twoPoints() []geo.Point {
	return []geo.Point{geo.Pt(9.18, 48.77), geo.Pt(9.20, 48.80)}
}

func TestMapboxSuccess(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	m := NewMapbox(srv.URL, "pk.test", time.Second)
	res, err := m.Directions(context.Background(), Request{Waypoints: twoPoints(), Profile: Walking})
	if err != nil {
		t.Fatalf("Directions: %v", err)
	}

	if gotPath != "/directions/v5/mapbox/walking/9.18,48.77;9.2,48.8" {
		t.Errorf("path = %s", gotPath)
	}
	for key, want := range map[string]string{
		"geometries":   "geojson",
		"overview":     "full",
		"steps":        "true",
		"radiuses":     "50;50",
		"access_token": "pk.test",
	} {
		if got := strings.Join(gotQuery[key], ","); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
	if _, ok := gotQuery["waypoints"]; ok {
		t.Error("waypoints parameter sent for a two-point route")
	}

	if len(res.Geometry) != 3 || res.DistanceMeters != 3712.4 || res.DurationSeconds != 421.9 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Instructions) != 2 {
		t.Errorf("instructions = %v", res.Instructions)
	}
}

func TestMapboxWaypointIndices(t *testing.T) {
	m := NewMapbox("", "pk.test", 0)
	u := m.URL(Request{Waypoints: []geo.Point{geo.Pt(1, 1), geo.Pt(2, 2), geo.Pt(3, 3)}, Profile: Driving})
	if !strings.Contains(u, "waypoints=0%3B1%3B2") {
		t.Errorf("url missing waypoint indices: %s", u)
	}
	if !strings.HasPrefix(u, DefaultMapboxURL+"/directions/v5/mapbox/driving/") {
		t.Errorf("url = %s", u)
	}
}

func TestMapboxErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		token   string
		points  []geo.Point
		want    error
		wantMsg string
	}{
		{name: "missing token", points: twoPoints(), want: planerr.ErrConfiguration},
		{name: "one waypoint", token: "pk", points: twoPoints()[:1], want: planerr.ErrValidation},
		{name: "too many waypoints", token: "pk", points: make([]geo.Point, MaxWaypoints+1), want: planerr.ErrValidation},
		{name: "http error", token: "pk", points: twoPoints(), status: 401, body: `{"message":"Not Authorized - Invalid Token"}`, want: planerr.ErrNetwork, wantMsg: "Invalid Token"},
		{name: "no route", token: "pk", points: twoPoints(), status: 200, body: `{"code":"NoRoute","routes":[]}`, want: planerr.ErrNetwork, wantMsg: "NoRoute"},
		{name: "bad geometry", token: "pk", points: twoPoints(), status: 200, body: `{"code":"Ok","routes":[{"geometry":{"type":"Point","coordinates":[1,2]}}]}`, want: planerr.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewMapbox(srv.URL, tt.token, time.Second).Directions(context.Background(), Request{Waypoints: tt.points})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParseProfile(t *testing.T) {
	if p, err := ParseProfile(" Cycling "); err != nil || p != Cycling {
		t.Errorf("ParseProfile = %q, %v", p, err)
	}
	if _, err := ParseProfile("driving-traffic"); err == nil {
		t.Error("accepted unsupported profile")
	}
}
