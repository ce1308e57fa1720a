package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveDirections("driving", OutcomeOK, time.Second)
	c.ObserveGeocode(OutcomeAborted)
	c.Stale("route")
	c.LayerTimeout()
	c.SetWaypoints(3)
}

func TestRecordsAndExposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.ObserveDirections("walking", OutcomeOK, 120*time.Millisecond)
	c.ObserveDirections("walking", OutcomeDiscarded, 0)
	c.Stale("route")
	c.SetWaypoints(4)

	if got := testutil.ToFloat64(c.DirectionsRequests.WithLabelValues("walking", OutcomeDiscarded)); got != 1 {
		t.Errorf("discarded directions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Waypoints); got != 4 {
		t.Errorf("waypoints gauge = %v, want 4", got)
	}

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, name := range []string{"wayplan_directions_requests_total", "wayplan_stale_results_total", "wayplan_waypoints"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestNewTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	a.LayerTimeout()
	if got := testutil.ToFloat64(b.LayerTimeouts); got != 1 {
		t.Errorf("shared counter = %v, want 1", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/waypoints/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/waypoints/wp-9", nil))

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/waypoints/{id}", "404")); got != 1 {
		t.Errorf("http requests = %v, want 1", got)
	}
}
